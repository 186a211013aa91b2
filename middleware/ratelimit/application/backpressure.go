package application

import (
	"context"
	"time"

	"dixis-gateway/middleware/ratelimit/domain"
)

// Backpressure limita quantas requisições ficam em voo para os backends ao mesmo
// tempo, sem saber nada sobre HTTP.
type Backpressure struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
//   - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
//   - Se `AcquireTimeout > 0`, espera até o timeout.
//
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (b Backpressure) Acquire(ctx context.Context) (func(), bool) {
	if b.Pool == nil {
		return func() {}, true
	}

	if b.AcquireTimeout <= 0 {
		return b.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, b.AcquireTimeout)
	defer cancel()
	return b.Pool.Acquire(acqCtx)
}

// InFlight devolve a ocupação atual do pool (0 quando desabilitado).
func (b Backpressure) InFlight() int {
	if b.Pool == nil {
		return 0
	}
	return b.Pool.InUse()
}
