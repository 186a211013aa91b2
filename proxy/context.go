package proxy

import (
	"context"
	"net/url"
)

// RequestContext descreve uma requisição em trânsito para um backend.
// Vive só durante a requisição.
type RequestContext struct {
	OriginalPath  string
	RewrittenPath string
	RawRewritten  string
	Method        string
	Service       string
	Target        *url.URL
}

type ctxKey struct{}

func withRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext devolve o RequestContext da requisição, se houver.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}
