package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dixis-gateway/middleware/ratelimit/domain"
)

// MemoryWindowStore é uma janela fixa por chave mantida em memória.
//
// Não é compartilhada entre instâncias: com N réplicas o limite efetivo vira N*limit.
// Serve para testes e desenvolvimento local (store=memory).
type MemoryWindowStore struct {
	mu           sync.Mutex
	windows      map[string]*memWindow
	now          func() time.Time
	cleanupEvery time.Duration
}

type memWindow struct {
	count   int64
	resetAt time.Time
}

type MemoryWindowOption func(*MemoryWindowStore)

func WithMemoryClock(now func() time.Time) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.now = now }
}

func WithCleanupEvery(d time.Duration) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.cleanupEvery = d }
}

func NewMemoryWindowStore(opts ...MemoryWindowOption) *MemoryWindowStore {
	s := &MemoryWindowStore{
		windows:      make(map[string]*memWindow),
		now:          time.Now,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryWindowStore) Increment(_ context.Context, key domain.Key, window time.Duration) (domain.Counter, error) {
	if window <= 0 {
		return domain.Counter{}, fmt.Errorf("invalid window %s", window)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[string(key)]
	if !ok || !now.Before(w.resetAt) {
		w = &memWindow{resetAt: now.Add(window)}
		s.windows[string(key)] = w
	}
	w.count++
	return domain.Counter{Count: w.count, ResetAt: w.resetAt}, nil
}

func (s *MemoryWindowStore) Peek(_ context.Context, key domain.Key) (domain.Counter, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[string(key)]
	if !ok || !now.Before(w.resetAt) {
		return domain.Counter{}, false, nil
	}
	return domain.Counter{Count: w.count, ResetAt: w.resetAt}, true, nil
}

func (s *MemoryWindowStore) Reset(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, string(key))
	return nil
}

func (s *MemoryWindowStore) Ping(context.Context) error { return nil }

// Len devolve quantas janelas estão guardadas (inclusive expiradas ainda não limpas).
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Cleanup remove janelas já encerradas.
func (s *MemoryWindowStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa janelas expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryWindowStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
