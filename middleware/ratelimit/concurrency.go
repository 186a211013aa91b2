package ratelimit

import (
	"net/http"
	"time"

	"dixis-gateway/apierr"
	"dixis-gateway/middleware/ratelimit/application"
	"dixis-gateway/middleware/ratelimit/infra"
	"dixis-gateway/observability"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	Metrics        *observability.Metrics
}

// ConcurrencyMiddleware limita requisições em voo. Sem vaga dentro do
// AcquireTimeout, responde 503 (Saturated). Max <= 0 desabilita.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	bp := application.Backpressure{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := bp.Acquire(r.Context())
			if !ok {
				w.Header().Set(HeaderRetryAfter, "1")
				apierr.Write(w, r, apierr.New(apierr.Saturated, ""))
				return
			}
			opts.Metrics.SetInFlight(bp.InFlight())
			defer func() {
				release()
				opts.Metrics.SetInFlight(bp.InFlight())
			}()

			next.ServeHTTP(w, r)
		})
	}
}
