// Package health expõe os probes de liveness e readiness do gateway.
//
// Liveness só diz que o processo está de pé. Readiness verifica as
// dependências registradas (o store de rate limit, principalmente) e responde
// 503 quando alguma falha ou estoura o tempo.
package health

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"dixis-gateway/middleware/ratelimit/domain"
	"dixis-gateway/observability"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 2 * time.Second

	StatusHealthy  = "healthy"
	StatusReady    = "ready"
	StatusNotReady = "not ready"

	checkHealthy   = "healthy"
	checkUnhealthy = "unhealthy"
	checkTimeout   = "timeout"
)

// Checker é qualquer dependência que sabe dizer se está disponível.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapta uma função a Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// StoreChecker adapta o Ping do WindowStore.
type StoreChecker struct {
	Store domain.WindowStore
}

func (c StoreChecker) CheckHealth(ctx context.Context) error {
	return c.Store.Ping(ctx)
}

type Response struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	LatencyMS map[string]int64  `json:"latency_ms,omitempty"`
}

type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		checkers: make(map[string]Checker),
		timeout:  timeout,
		logger:   observability.Named(logger, "health"),
	}
}

func (m *Manager) Register(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// Names devolve os checkers registrados em ordem alfabética.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type result struct {
	name    string
	status  string
	latency time.Duration
	err     error
}

// Check roda todos os checkers em paralelo, cada um limitado pelo timeout.
func (m *Manager) Check(ctx context.Context) Response {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results := make(chan result, len(checkers))
	var wg sync.WaitGroup
	for name, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- runCheck(ctx, name, c)
		}()
	}
	wg.Wait()
	close(results)

	resp := Response{
		Status:    StatusReady,
		Checks:    make(map[string]string, len(checkers)),
		LatencyMS: make(map[string]int64, len(checkers)),
	}
	for res := range results {
		resp.Checks[res.name] = res.status
		resp.LatencyMS[res.name] = res.latency.Milliseconds()
		if res.status != checkHealthy {
			resp.Status = StatusNotReady
			m.logger.Warn("readiness check failed",
				zap.String("check", res.name),
				zap.String("status", res.status),
				zap.Duration("latency", res.latency),
				zap.Error(res.err))
		}
	}
	return resp
}

func runCheck(ctx context.Context, name string, c Checker) result {
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.CheckHealth(ctx) }()

	res := result{name: name}
	select {
	case err := <-done:
		res.err = err
		switch {
		case err == nil:
			res.status = checkHealthy
		case errors.Is(err, context.DeadlineExceeded):
			res.status = checkTimeout
		default:
			res.status = checkUnhealthy
		}
	case <-ctx.Done():
		// checker ignorou o contexto; não esperamos por ele
		res.err = ctx.Err()
		res.status = checkTimeout
	}
	res.latency = time.Since(start)
	return res
}

// Liveness responde 200 enquanto o processo estiver servindo requisições.
func (m *Manager) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: StatusHealthy})
}

// Readiness responde 200 só quando todas as dependências respondem.
func (m *Manager) Readiness(w http.ResponseWriter, r *http.Request) {
	resp := m.Check(r.Context())
	code := http.StatusOK
	if resp.Status != StatusReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
