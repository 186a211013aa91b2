// Package httplog cuida do que todo request recebe na entrada do gateway:
// request id, recuperação de panic e access log estruturado.
package httplog

import (
	"context"
	"net/http"
	"time"

	"dixis-gateway/apierr"
	"dixis-gateway/observability"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID reaproveita o X-Request-ID recebido quando é válido e gera um UUID
// caso contrário. O id vai para o contexto (middleware.GetReqID), para a
// resposta e para a requisição encaminhada ao backend.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// Recoverer transforma panics em 500 JSON. http.ErrAbortHandler é repassado.
func Recoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	logger = observability.Named(logger, "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				logger.Error("panic serving request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rvr),
					zap.Stack("stack"))

				if ww.Status() != 0 {
					// resposta já começou; só resta abortar a conexão
					panic(http.ErrAbortHandler)
				}
				apierr.Write(ww, r, apierr.New(apierr.Internal, ""))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AccessLog registra uma linha por requisição. Paths em skip (probes, métricas)
// não são logados.
func AccessLog(logger *zap.Logger, skip ...string) func(next http.Handler) http.Handler {
	logger = observability.Named(logger, "access")
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipped[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("remote", r.RemoteAddr),
				}
				switch {
				case status >= 500:
					logger.Warn("request", fields...)
				default:
					logger.Info("request", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
