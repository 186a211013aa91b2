package domain

import (
	"context"
	"time"
)

// Outcome é o resultado registrado para uma decisão.
type Outcome string

const (
	OutcomeAllowed  Outcome = "allowed"
	OutcomeDenied   Outcome = "denied"
	OutcomeDegraded Outcome = "degraded"
)

// OutcomeOf classifica uma decisão.
func OutcomeOf(d Decision) Outcome {
	switch {
	case d.Degraded:
		return OutcomeDegraded
	case d.Allowed:
		return OutcomeAllowed
	default:
		return OutcomeDenied
	}
}

// StatsEvent representa um evento de decisão do rate limit.
//
// Route é o primeiro segmento do path (ex.: "/orders") e não o path completo,
// para manter a cardinalidade sob controle no Redis/Prometheus.
type StatsEvent struct {
	Key     Key
	Outcome Outcome

	Method string
	Route  string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
