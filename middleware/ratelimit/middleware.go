package ratelimit

import (
	"context"
	"net/http"
	"time"

	"dixis-gateway/apierr"
	"dixis-gateway/middleware/ratelimit/application"
	"dixis-gateway/middleware/ratelimit/domain"
	"dixis-gateway/observability"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Options struct {
	Service            application.Service
	Stats              domain.StatsStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	// StoreTimeout limita a espera pelo store em cada requisição.
	StoreTimeout time.Duration

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Middleware aplica o rate limit de janela fixa antes do próximo handler.
//
// Respostas:
//   - permitido: X-RateLimit-Limit/Remaining/Reset + próximo handler
//   - excedido: 429 + Retry-After
//   - store fora com política closed: 503 + Retry-After: 1
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 500 * time.Millisecond
	}
	logger := observability.Named(opts.Logger, "ratelimit")
	// um Redis fora gera um erro por requisição; loga no máximo um a cada 10s
	warnEvery := &rate.Sometimes{First: 1, Interval: 10 * time.Second}

	svc := opts.Service

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			ctx, cancel := context.WithTimeout(r.Context(), opts.StoreTimeout)
			dec, err := svc.Decide(ctx, domain.Key(key))
			cancel()

			if err != nil {
				opts.Metrics.ObserveStoreError()
				warnEvery.Do(func() {
					logger.Warn("rate limit store unavailable",
						zap.String("key", key),
						zap.String("path", r.URL.Path),
						zap.String("policy", svc.Policy.String()),
						zap.Bool("allowed", dec.Allowed),
						zap.Error(err))
				})
			}

			outcome := domain.OutcomeOf(dec)
			opts.Metrics.ObserveDecision(decisionLabel(dec))
			// store fora: stats iriam para o mesmo Redis e só somariam latência
			if opts.Stats != nil && !dec.Degraded {
				sctx, cancel := context.WithTimeout(r.Context(), opts.StoreTimeout)
				serr := opts.Stats.Record(sctx, domain.StatsEvent{
					Key:     domain.Key(key),
					Outcome: outcome,
					Method:  r.Method,
					Route:   routeOf(r.URL.Path),
					At:      time.Now(),
				})
				cancel()
				if serr != nil {
					logger.Debug("rate limit stats not recorded", zap.Error(serr))
				}
			}

			setRateLimitHeaders(w.Header(), dec)

			if !dec.Allowed {
				w.Header().Set(HeaderRetryAfter, formatSeconds(dec.RetryAfter))
				if dec.Degraded {
					apierr.Write(w, r, apierr.Wrap(apierr.DependencyUnavailable, err))
					return
				}
				logger.Info("rate limit exceeded",
					zap.String("key", key),
					zap.String("path", r.URL.Path),
					zap.Int("limit", dec.Limit),
					zap.Time("reset_at", dec.ResetAt))
				apierr.Write(w, r, apierr.New(apierr.RateLimitExceeded, ""))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func decisionLabel(dec domain.Decision) string {
	switch {
	case dec.Degraded && dec.Allowed:
		return "degraded_allowed"
	case dec.Degraded:
		return "degraded_denied"
	case dec.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}
