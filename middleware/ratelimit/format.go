package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"dixis-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatSeconds arredonda para cima, nunca abaixo de 1.
func formatSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return formatInt(secs)
}

// setRateLimitHeaders escreve X-RateLimit-*; decisões degradadas não têm
// contagem confiável e ficam sem esses headers.
func setRateLimitHeaders(h http.Header, dec domain.Decision) {
	if dec.Degraded {
		return
	}
	h.Set(HeaderLimit, formatInt(dec.Limit))
	h.Set(HeaderRemaining, formatInt(dec.Remaining))
	if !dec.ResetAt.IsZero() {
		h.Set(HeaderReset, strconv.FormatInt(dec.ResetAt.Unix(), 10))
	}
}
