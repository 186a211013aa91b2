package proxy

import (
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NewTransport devolve o transport usado para falar com os backends.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// retryTransport refaz uma única vez GET/HEAD sem corpo que falharam no nível
// de conexão. Timeout e cancelamento do cliente nunca são refeitos.
type retryTransport struct {
	next   http.RoundTripper
	logger *zap.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil || !retryable(req) {
		return resp, err
	}

	t.logger.Debug("retrying idempotent upstream request",
		zap.String("method", req.Method),
		zap.String("host", req.URL.Host),
		zap.Error(err))
	return t.next.RoundTrip(req)
}

func retryable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	if req.Body != nil && req.Body != http.NoBody {
		return false
	}
	return req.Context().Err() == nil
}
