package application

import (
	"context"
	"testing"
	"time"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, false
	}
}

func (p *blockingPool) InUse() int { return 1 }

type immediatePool struct {
	acquired int
}

func (p *immediatePool) Acquire(ctx context.Context) (func(), bool) {
	p.acquired++
	return func() {}, true
}

func (p *immediatePool) InUse() int { return p.acquired }

func TestBackpressure_Acquire_AllowsWhenNoPool(t *testing.T) {
	bp := Backpressure{}
	release, ok := bp.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	release()
	if bp.InFlight() != 0 {
		t.Fatalf("expected InFlight=0 without pool")
	}
}

func TestBackpressure_Acquire_UsesTimeout(t *testing.T) {
	bp := Backpressure{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	start := time.Now()
	_, ok := bp.Acquire(context.Background())
	if ok {
		t.Fatalf("expected timeout and ok=false")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("acquire did not honour timeout")
	}
}

func TestBackpressure_Acquire_NoTimeoutDelegatesToPool(t *testing.T) {
	pool := &immediatePool{}
	bp := Backpressure{Pool: pool}

	_, ok := bp.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	if pool.acquired != 1 {
		t.Fatalf("expected pool Acquire to be called once, got %d", pool.acquired)
	}
	if bp.InFlight() != 1 {
		t.Fatalf("expected InFlight=1, got %d", bp.InFlight())
	}
}
