package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, RouteNotFound.Status())
	assert.Equal(t, http.StatusTooManyRequests, RateLimitExceeded.Status())
	assert.Equal(t, http.StatusGatewayTimeout, UpstreamTimeout.Status())
	assert.Equal(t, http.StatusBadGateway, UpstreamUnreachable.Status())
	assert.Equal(t, http.StatusServiceUnavailable, DependencyUnavailable.Status())
	assert.Equal(t, http.StatusInternalServerError, Kind("bogus").Status())
}

func TestKindOf_UnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("proxy: %w", Wrap(UpstreamTimeout, errors.New("deadline")))
	assert.Equal(t, UpstreamTimeout, KindOf(err))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

func TestWrite_DoesNotLeakUnderlyingError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)

	Write(rec, req, Wrap(UpstreamUnreachable, errors.New("dial tcp orders.internal:5003: connection refused")))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.NotContains(t, rec.Body.String(), "orders.internal")

	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadGateway, body.Status)
	assert.Equal(t, UpstreamUnreachable, body.Error)
	assert.NotEmpty(t, body.Message)
}

func TestWrite_UnknownErrorBecomesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom: secret detail"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret detail")
}
