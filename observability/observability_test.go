package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestNamed_NilLoggerIsNop(t *testing.T) {
	l := Named(nil, "proxy")
	require.NotNil(t, l)
	l.Info("ignored")
}

func TestMetrics_ObserveAndExpose(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision("allowed")
	m.ObserveDecision("denied")
	m.ObserveDecision("denied")
	m.ObserveUpstream("/orders", 200, 20*time.Millisecond)
	m.SetInFlight(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("/orders", "200")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InFlight))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "gateway_ratelimit_decisions_total")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("allowed")
	m.ObserveStoreError()
	m.ObserveUpstream("/auth", 502, time.Second)
	m.SetInFlight(1)
}
