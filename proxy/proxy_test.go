package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dixis-gateway/apierr"
	"dixis-gateway/observability"
	"dixis-gateway/registry"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoed struct {
	Method string              `json:"method"`
	Path   string              `json:"path"`
	Query  string              `json:"query"`
	Host   string              `json:"host"`
	Body   string              `json:"body"`
	Header map[string][]string `json:"header"`
}

func echoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Server", "backend/1.0")
		w.Header().Set("X-Powered-By", "Express")
		w.Header().Set("X-Backend", "echo")
		_ = json.NewEncoder(w).Encode(echoed{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Host:   r.Host,
			Body:   string(body),
			Header: r.Header,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRouter(t *testing.T, opts Options, entries ...registry.Entry) *Router {
	t.Helper()
	reg, err := registry.New(entries)
	require.NoError(t, err)
	return New(reg, opts)
}

func decodeEcho(t *testing.T, w *httptest.ResponseRecorder) echoed {
	t.Helper()
	var got echoed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apierr.Body {
	t.Helper()
	var body apierr.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRouter_ForwardsStrippedPathAndQuery(t *testing.T) {
	backend := echoBackend(t)
	rt := newRouter(t, Options{}, registry.Entry{Prefix: "/auth", Target: backend.URL})

	r := httptest.NewRequest(http.MethodPost, "http://gateway/auth/login?next=%2Fhome", strings.NewReader(`{"user":"a"}`))
	r.Header.Set("Authorization", "Bearer t0k3n")
	r.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	got := decodeEcho(t, w)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/login", got.Path)
	assert.Equal(t, "next=%2Fhome", got.Query)
	assert.Equal(t, `{"user":"a"}`, got.Body)
	assert.Equal(t, []string{"Bearer t0k3n"}, got.Header["Authorization"])

	// Host reescrito para o backend, origem preservada em X-Forwarded-*
	assert.Equal(t, strings.TrimPrefix(backend.URL, "http://"), got.Host)
	assert.Equal(t, []string{"203.0.113.7"}, got.Header["X-Forwarded-For"])
	assert.Equal(t, []string{"gateway"}, got.Header["X-Forwarded-Host"])
	assert.Equal(t, []string{"http"}, got.Header["X-Forwarded-Proto"])

	assert.Empty(t, w.Header().Get("Server"))
	assert.Empty(t, w.Header().Get("X-Powered-By"))
	assert.Equal(t, "echo", w.Header().Get("X-Backend"))
}

func TestRouter_ExactPrefixForwardsRoot(t *testing.T) {
	backend := echoBackend(t)
	rt := newRouter(t, Options{}, registry.Entry{Prefix: "/products", Target: backend.URL + "/api"})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/products", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/api/", decodeEcho(t, w).Path)
}

func TestRouter_AppendsToForwardedChain(t *testing.T) {
	backend := echoBackend(t)
	rt := newRouter(t, Options{}, registry.Entry{Prefix: "/orders", Target: backend.URL})

	r := httptest.NewRequest(http.MethodGet, "http://gateway/orders/1", nil)
	r.RemoteAddr = "10.0.0.2:4000"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"198.51.100.1, 10.0.0.2"}, decodeEcho(t, w).Header["X-Forwarded-For"])
}

func TestRouter_UnknownPathIs404WithoutProxying(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer backend.Close()
	rt := newRouter(t, Options{}, registry.Entry{Prefix: "/auth", Target: backend.URL})

	for _, path := range []string{"/unknown/x", "/authz", "/"} {
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway"+path, nil))

		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, apierr.RouteNotFound, decodeError(t, w).Error, path)
	}
	assert.Zero(t, hits.Load())
}

func TestRouter_UnreachableUpstreamIs502(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	target := dead.URL
	dead.Close()

	metrics := observability.NewMetrics()
	rt := newRouter(t, Options{Metrics: metrics}, registry.Entry{Prefix: "/shipping", Target: target})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/shipping/track/9", nil))

	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apierr.UpstreamUnreachable, body.Error)
	assert.NotContains(t, body.Message, "127.0.0.1")
	assert.NotContains(t, body.Message, "refused")

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Registry(), "gateway_upstream_requests_total"))
}

func TestRouter_TimeoutIs504AndAbortsUpstream(t *testing.T) {
	aborted := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	}))
	defer backend.Close()

	rt := newRouter(t, Options{Timeout: 50 * time.Millisecond}, registry.Entry{Prefix: "/orders", Target: backend.URL})

	start := time.Now()
	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/orders/slow", nil))

	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, apierr.UpstreamTimeout, decodeError(t, w).Error)
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not cancelled after timeout")
	}
}

func TestRouter_ClientDisconnectAbortsUpstream(t *testing.T) {
	started := make(chan struct{})
	aborted := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	}))
	defer backend.Close()

	rt := newRouter(t, Options{}, registry.Entry{Prefix: "/orders", Target: backend.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := httptest.NewRequest(http.MethodGet, "http://gateway/orders/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.ServeHTTP(w, r)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached upstream")
	}
	cancel()

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not cancelled after client disconnect")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP did not return after client disconnect")
	}

	assert.Equal(t, statusClientClosed, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestRouter_UpstreamRateLimitHeadersDoNotLeak(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Reset", "1")
		w.Header().Set("Retry-After", "120")
		_, _ = io.WriteString(w, "ok")
	}))
	defer backend.Close()

	rt := newRouter(t, Options{}, registry.Entry{Prefix: "/products", Target: backend.URL})

	w := httptest.NewRecorder()
	// o rate limiter já escreveu os seus antes do proxy
	w.Header().Set("X-RateLimit-Limit", "100")
	w.Header().Set("X-RateLimit-Remaining", "99")
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/products/1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"100"}, w.Header().Values("X-RateLimit-Limit"))
	assert.Equal(t, []string{"99"}, w.Header().Values("X-RateLimit-Remaining"))
	assert.Empty(t, w.Header().Values("X-RateLimit-Reset"))
	assert.Empty(t, w.Header().Values("Retry-After"))
}

// flakyBackend derruba a conexão na primeira chamada e responde nas seguintes.
func flakyBackend(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		_, _ = io.WriteString(w, "recovered")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_RetriesIdempotentOnceOnConnectionError(t *testing.T) {
	var calls atomic.Int32
	backend := flakyBackend(t, &calls)
	rt := newRouter(t, Options{RetryIdempotent: true}, registry.Entry{Prefix: "/products", Target: backend.URL})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/products/1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "recovered", w.Body.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRouter_NoRetryWhenDisabled(t *testing.T) {
	var calls atomic.Int32
	backend := flakyBackend(t, &calls)
	rt := newRouter(t, Options{}, registry.Entry{Prefix: "/products", Target: backend.URL})

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://gateway/products/1", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   io.Reader
		want   bool
	}{
		{"get", http.MethodGet, nil, true},
		{"head", http.MethodHead, nil, true},
		{"post", http.MethodPost, nil, false},
		{"get with body", http.MethodGet, strings.NewReader("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "http://backend/x", tt.body)
			assert.Equal(t, tt.want, retryable(r))
		})
	}
}
