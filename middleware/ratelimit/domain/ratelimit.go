package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Key string

// ErrStoreUnavailable indica que o store compartilhado não respondeu.
// A decisão final (permitir ou bloquear) depende da FailurePolicy.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Counter é o estado de uma janela fixa logo após o incremento.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// WindowStore guarda contadores de janela fixa por chave.
//
// Increment precisa ser atômico no próprio store: duas requisições simultâneas da
// mesma chave nunca podem observar o mesmo valor. O TTL da janela é definido apenas
// na criação (janela fixa, não deslizante).
//
// O store deve ser externo e compartilhado entre instâncias do gateway, senão o
// limite efetivo vira limite * número de instâncias.
type WindowStore interface {
	Increment(ctx context.Context, key Key, window time.Duration) (Counter, error)
	Peek(ctx context.Context, key Key) (Counter, bool, error)
	Reset(ctx context.Context, key Key) error
	Ping(ctx context.Context) error
}

// FailurePolicy define o comportamento quando o store está fora.
type FailurePolicy int

const (
	// FailOpen permite a requisição (padrão: prioriza disponibilidade).
	FailOpen FailurePolicy = iota
	// FailClosed bloqueia a requisição.
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

// ParseFailurePolicy aceita "open" ou "closed" (case-insensitive).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown failure policy %q", s)
	}
}

type Decision struct {
	Allowed bool

	Limit     int
	Remaining int
	ResetAt   time.Time

	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	// Degraded indica que o store falhou e a decisão veio da FailurePolicy.
	Degraded bool
}
