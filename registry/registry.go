// Package registry mapeia prefixos públicos de path para a URL base de cada
// serviço (auth, products, orders, shipping).
//
// O registry é montado uma vez no startup e é somente leitura depois disso.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var ErrRouteNotFound = errors.New("route not found")

// Entry é a forma de configuração de uma rota.
type Entry struct {
	Prefix string `mapstructure:"prefix"`
	Target string `mapstructure:"target"`
}

// Route é uma Entry validada, com a URL de destino já resolvida.
type Route struct {
	Prefix string
	Target *url.URL
}

// Name é o rótulo do serviço usado em logs e métricas.
func (r Route) Name() string { return r.Prefix }

// Match é o resultado de Resolve.
type Match struct {
	Route        Route
	StrippedPath string
}

type Registry struct {
	routes []Route
}

// New valida as entradas e ordena as rotas do prefixo mais longo para o mais curto.
func New(entries []Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, errors.New("registry: at least one service route is required")
	}

	seen := make(map[string]bool, len(entries))
	routes := make([]Route, 0, len(entries))
	for _, e := range entries {
		prefix, err := normalizePrefix(e.Prefix)
		if err != nil {
			return nil, err
		}
		if seen[prefix] {
			return nil, fmt.Errorf("registry: duplicate prefix %q", prefix)
		}
		seen[prefix] = true

		target, err := parseTarget(e.Target)
		if err != nil {
			return nil, fmt.Errorf("registry: prefix %q: %w", prefix, err)
		}
		routes = append(routes, Route{Prefix: prefix, Target: target})
	}

	sort.Slice(routes, func(i, j int) bool {
		if len(routes[i].Prefix) != len(routes[j].Prefix) {
			return len(routes[i].Prefix) > len(routes[j].Prefix)
		}
		return routes[i].Prefix < routes[j].Prefix
	})

	return &Registry{routes: routes}, nil
}

// Resolve encontra o prefixo mais longo alinhado a segmento de path.
// "/orders" casa com "/orders" e "/orders/1", nunca com "/ordersX".
func (r *Registry) Resolve(path string) (Match, error) {
	if path == "" {
		path = "/"
	}
	for _, rt := range r.routes {
		rest, ok := matchPrefix(rt.Prefix, path)
		if !ok {
			continue
		}
		if rest == "" {
			rest = "/"
		}
		return Match{Route: rt, StrippedPath: rest}, nil
	}
	return Match{}, ErrRouteNotFound
}

// Routes devolve uma cópia das rotas na ordem de matching.
func (r *Registry) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

func matchPrefix(prefix, path string) (string, bool) {
	if prefix == "/" {
		return path, true
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest != "" && rest[0] != '/' {
		return "", false
	}
	return rest, true
}

func normalizePrefix(p string) (string, error) {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("registry: prefix %q must start with /", p)
	}
	if p != "/" {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	if strings.ContainsAny(p, "?#") {
		return "", fmt.Errorf("registry: prefix %q must be a plain path", p)
	}
	return p, nil
}

func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("target %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("target %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u, nil
}
