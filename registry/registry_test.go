package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dixisRoutes(t *testing.T) *Registry {
	t.Helper()
	reg, err := New([]Entry{
		{Prefix: "/auth", Target: "http://auth:5001"},
		{Prefix: "/products", Target: "http://products:5002"},
		{Prefix: "/orders", Target: "http://orders:5003"},
		{Prefix: "/orders/admin", Target: "http://orders-admin:5013/"},
		{Prefix: "/shipping/", Target: "http://shipping:5004/api"},
	})
	require.NoError(t, err)
	return reg
}

func TestResolve_StripsPrefix(t *testing.T) {
	reg := dixisRoutes(t)

	m, err := reg.Resolve("/products/42")
	require.NoError(t, err)
	assert.Equal(t, "/products", m.Route.Prefix)
	assert.Equal(t, "http://products:5002", m.Route.Target.String())
	assert.Equal(t, "/42", m.StrippedPath)
}

func TestResolve_ExactPrefixBecomesRoot(t *testing.T) {
	reg := dixisRoutes(t)

	m, err := reg.Resolve("/auth")
	require.NoError(t, err)
	assert.Equal(t, "/", m.StrippedPath)

	m, err = reg.Resolve("/auth/")
	require.NoError(t, err)
	assert.Equal(t, "/", m.StrippedPath)
}

func TestResolve_IsSegmentAligned(t *testing.T) {
	reg, err := New([]Entry{{Prefix: "/order", Target: "http://orders:5003"}})
	require.NoError(t, err)

	_, err = reg.Resolve("/orders")
	assert.ErrorIs(t, err, ErrRouteNotFound)

	_, err = reg.Resolve("/order-history")
	assert.ErrorIs(t, err, ErrRouteNotFound)

	m, err := reg.Resolve("/order/7")
	require.NoError(t, err)
	assert.Equal(t, "/7", m.StrippedPath)
}

func TestResolve_LongestPrefixWins(t *testing.T) {
	reg := dixisRoutes(t)

	m, err := reg.Resolve("/orders/admin/export")
	require.NoError(t, err)
	assert.Equal(t, "/orders/admin", m.Route.Prefix)
	assert.Equal(t, "/export", m.StrippedPath)

	m, err = reg.Resolve("/orders/administrators")
	require.NoError(t, err)
	assert.Equal(t, "/orders", m.Route.Prefix)
	assert.Equal(t, "/administrators", m.StrippedPath)
}

func TestResolve_NotFound(t *testing.T) {
	reg := dixisRoutes(t)

	for _, p := range []string{"/", "", "/productsX", "/cart/1"} {
		_, err := reg.Resolve(p)
		assert.ErrorIs(t, err, ErrRouteNotFound, "path %q", p)
	}
}

func TestResolve_RootPrefixIsCatchAll(t *testing.T) {
	reg, err := New([]Entry{
		{Prefix: "/", Target: "http://web:3000"},
		{Prefix: "/auth", Target: "http://auth:5001"},
	})
	require.NoError(t, err)

	m, err := reg.Resolve("/cart")
	require.NoError(t, err)
	assert.Equal(t, "/", m.Route.Prefix)
	assert.Equal(t, "/cart", m.StrippedPath)

	m, err = reg.Resolve("/auth/login")
	require.NoError(t, err)
	assert.Equal(t, "/auth", m.Route.Prefix)
}

func TestNew_NormalizesAndOrders(t *testing.T) {
	reg := dixisRoutes(t)
	routes := reg.Routes()

	require.Len(t, routes, 5)
	assert.Equal(t, "/orders/admin", routes[0].Prefix)
	assert.Equal(t, "/shipping", routes[2].Prefix)
	assert.Equal(t, "/api", routes[2].Target.Path)
	assert.Equal(t, "", routes[0].Target.Path)
}

func TestNew_RejectsInvalidEntries(t *testing.T) {
	cases := map[string][]Entry{
		"empty":           nil,
		"no slash":        {{Prefix: "auth", Target: "http://auth:5001"}},
		"duplicate":       {{Prefix: "/auth", Target: "http://a:1"}, {Prefix: "/auth/", Target: "http://b:2"}},
		"bad scheme":      {{Prefix: "/auth", Target: "ftp://auth:21"}},
		"no host":         {{Prefix: "/auth", Target: "http://"}},
		"relative target": {{Prefix: "/auth", Target: "auth:5001"}},
		"query in prefix": {{Prefix: "/auth?x=1", Target: "http://auth:5001"}},
	}
	for name, entries := range cases {
		_, err := New(entries)
		assert.Error(t, err, name)
	}
}
