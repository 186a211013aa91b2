// Package security agrupa os middlewares de borda que rodam antes do rate
// limit: allow-list de origem, CORS, headers de hardening e compressão.
package security

import (
	"net/http"
	"strings"

	"dixis-gateway/apierr"
	"dixis-gateway/observability"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

type Options struct {
	// AllowedOrigins aceita "*" e curingas simples como "https://*.dixis.io".
	AllowedOrigins []string

	// CompressionLevel 0 desliga a compressão.
	CompressionLevel int

	HSTSSeconds int64
	Development bool

	Logger *zap.Logger
}

// Chain devolve guarda de origem → headers → CORS → compressão, nessa ordem.
func Chain(opts Options) func(next http.Handler) http.Handler {
	guard := OriginGuard(opts.AllowedOrigins, opts.Logger)
	headers := Headers(opts.HSTSSeconds, opts.Development)
	crs := CORS(opts.AllowedOrigins)

	return func(next http.Handler) http.Handler {
		h := next
		if opts.CompressionLevel > 0 {
			h = middleware.Compress(opts.CompressionLevel)(h)
		}
		h = crs(h)
		h = headers(h)
		return guard(h)
	}
}

// OriginGuard responde 403 para requisições cujo Origin não está na lista.
// Requisições sem Origin (server-to-server, curl) passam.
func OriginGuard(allowed []string, logger *zap.Logger) func(next http.Handler) http.Handler {
	logger = observability.Named(logger, "security")
	m := newOriginMatcher(allowed)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || m.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Info("origin rejected",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("origin", origin),
				zap.String("path", r.URL.Path))
			apierr.Write(w, r, apierr.New(apierr.OriginNotAllowed, ""))
		})
	}
}

// Headers aplica os headers de hardening (equivalente ao helmet).
func Headers(hstsSeconds int64, development bool) func(next http.Handler) http.Handler {
	s := secure.New(secure.Options{
		FrameDeny:            true,
		ContentTypeNosniff:   true,
		BrowserXssFilter:     true,
		ReferrerPolicy:       "no-referrer",
		STSSeconds:           hstsSeconds,
		STSIncludeSubdomains: hstsSeconds > 0,
		IsDevelopment:        development,
	})
	return s.Handler
}

// CORS responde preflights e anota respostas permitidas.
func CORS(allowed []string) func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID"},
		ExposedHeaders: []string{
			"X-Request-ID", "Retry-After",
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
		},
		MaxAge: 300,
	})
}

type originPattern struct {
	prefix, suffix string
	wildcard       bool
}

type originMatcher struct {
	any      bool
	patterns []originPattern
}

func newOriginMatcher(allowed []string) originMatcher {
	var m originMatcher
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimSpace(o))
		switch {
		case o == "":
			continue
		case o == "*":
			m.any = true
		default:
			if before, after, ok := strings.Cut(o, "*"); ok {
				m.patterns = append(m.patterns, originPattern{prefix: before, suffix: after, wildcard: true})
			} else {
				m.patterns = append(m.patterns, originPattern{prefix: o})
			}
		}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	for _, p := range m.patterns {
		if !p.wildcard {
			if origin == p.prefix {
				return true
			}
			continue
		}
		if len(origin) >= len(p.prefix)+len(p.suffix) &&
			strings.HasPrefix(origin, p.prefix) && strings.HasSuffix(origin, p.suffix) {
			return true
		}
	}
	return false
}
