package application

import (
	"context"
	"fmt"
	"time"

	"dixis-gateway/middleware/ratelimit/domain"
)

const (
	DefaultLimit  = 100
	DefaultWindow = 15 * time.Minute
)

// Service concentra a regra de aplicação do rate limit (janela fixa).
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store  domain.WindowStore
	Limit  int
	Window time.Duration
	Policy domain.FailurePolicy

	// Now permite controlar o relógio nos testes.
	Now func() time.Time
}

// Decide consome uma vaga da janela atual da chave.
//
// Se o store falhar, a decisão vem da Policy, Degraded fica true e o erro
// (embrulhando domain.ErrStoreUnavailable) é devolvido para log.
func (s Service) Decide(ctx context.Context, key domain.Key) (domain.Decision, error) {
	limit, window := s.Limit, s.Window
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if s.Store == nil {
		return domain.Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	c, err := s.Store.Increment(ctx, key, window)
	if err != nil {
		dec := domain.Decision{
			Allowed:  s.Policy == domain.FailOpen,
			Limit:    limit,
			Degraded: true,
		}
		if !dec.Allowed {
			dec.RetryAfter = time.Second
		}
		return dec, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	remaining := int64(limit) - c.Count
	if remaining < 0 {
		remaining = 0
	}
	dec := domain.Decision{
		Allowed:   c.Count <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   c.ResetAt,
	}
	if !dec.Allowed {
		dec.RetryAfter = retryAfter(c.ResetAt.Sub(s.now()))
	}
	return dec, nil
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// retryAfter arredonda para cima em segundos, com mínimo de 1s.
func retryAfter(d time.Duration) time.Duration {
	if d <= time.Second {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
