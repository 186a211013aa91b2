package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

type KeyFunc func(r *http.Request) string

// DefaultKeyFunc identifica o cliente, nesta ordem:
//  1. header configurado (ex.: X-User-ID injetado pela camada de auth)
//  2. primeiro IP do X-Forwarded-For, só se trustXFF
//  3. host de RemoteAddr
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// routeOf devolve o primeiro segmento do path ("/orders/42" -> "/orders"),
// usado como rótulo de baixa cardinalidade nas estatísticas.
func routeOf(path string) string {
	p := strings.TrimPrefix(path, "/")
	if p == "" {
		return "/"
	}
	seg, _, _ := strings.Cut(p, "/")
	return "/" + seg
}
