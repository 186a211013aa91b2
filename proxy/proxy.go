// Package proxy encaminha requisições para o backend resolvido pelo registry:
// remove o prefixo, preserva método, query, headers e corpo (em streaming) e
// devolve a resposta do backend ou um erro padronizado (502/504).
package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"dixis-gateway/apierr"
	"dixis-gateway/observability"
	"dixis-gateway/registry"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 30 * time.Second

	// statusClientClosed segue a convenção do nginx para cliente que desconectou.
	statusClientClosed = 499
)

var errUpstreamTimeout = errors.New("upstream timeout")

type Options struct {
	Timeout         time.Duration
	RetryIdempotent bool
	Transport       http.RoundTripper
	FlushInterval   time.Duration

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Router é o http.Handler final do pipeline: resolve e encaminha.
type Router struct {
	reg     *registry.Registry
	proxies map[string]*httputil.ReverseProxy
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

func New(reg *registry.Registry, opts Options) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := observability.Named(opts.Logger, "proxy")

	transport := opts.Transport
	if transport == nil {
		transport = NewTransport()
	}
	if opts.RetryIdempotent {
		transport = &retryTransport{next: transport, logger: logger}
	}

	rt := &Router{
		reg:     reg,
		proxies: make(map[string]*httputil.ReverseProxy),
		timeout: opts.Timeout,
		logger:  logger,
		metrics: opts.Metrics,
	}

	errLog := zap.NewStdLog(logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel)))
	for _, route := range reg.Routes() {
		rt.proxies[route.Prefix] = &httputil.ReverseProxy{
			Rewrite:        rewrite(route),
			Transport:      transport,
			FlushInterval:  opts.FlushInterval,
			ModifyResponse: stripInternalHeaders,
			ErrorHandler:   rt.handleError,
			ErrorLog:       errLog,
		}
	}
	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m, err := rt.reg.Resolve(r.URL.Path)
	if err != nil {
		rt.logger.Debug("no route for path",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path))
		apierr.Write(w, r, apierr.Wrap(apierr.RouteNotFound, err))
		return
	}
	rt.Forward(w, r, m)
}

// Forward encaminha r para o destino de m. O contexto do upstream é derivado do
// contexto do cliente: desconexão do cliente ou timeout abortam a chamada.
func (rt *Router) Forward(w http.ResponseWriter, r *http.Request, m registry.Match) {
	rp, ok := rt.proxies[m.Route.Prefix]
	if !ok {
		apierr.Write(w, r, apierr.New(apierr.RouteNotFound, ""))
		return
	}

	rc := &RequestContext{
		OriginalPath:  r.URL.Path,
		RewrittenPath: m.StrippedPath,
		Method:        r.Method,
		Service:       m.Route.Name(),
		Target:        m.Route.Target,
	}
	if r.URL.RawPath != "" {
		if raw, ok := strings.CutPrefix(r.URL.RawPath, m.Route.Prefix); ok && m.Route.Prefix != "/" {
			if raw == "" {
				raw = "/"
			}
			rc.RawRewritten = raw
		}
	}

	ctx, cancel := context.WithTimeoutCause(r.Context(), rt.timeout, errUpstreamTimeout)
	defer cancel()
	ctx = withRequestContext(ctx, rc)

	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	start := time.Now()
	defer func() {
		status := ww.Status()
		if status == 0 {
			status = statusClientClosed
		}
		rt.metrics.ObserveUpstream(rc.Service, status, time.Since(start))
	}()

	rp.ServeHTTP(ww, r.WithContext(ctx))
}

func rewrite(route registry.Route) func(*httputil.ProxyRequest) {
	target := route.Target
	return func(pr *httputil.ProxyRequest) {
		if rc, ok := FromContext(pr.In.Context()); ok {
			pr.Out.URL.Path = rc.RewrittenPath
			pr.Out.URL.RawPath = rc.RawRewritten
		}
		// mantém a cadeia recebida; SetXForwarded acrescenta o IP do cliente
		if prior, ok := pr.In.Header["X-Forwarded-For"]; ok {
			pr.Out.Header["X-Forwarded-For"] = append([]string(nil), prior...)
		}
		pr.SetURL(target)
		pr.SetXForwarded()
	}
}

// headers que só o gateway define; o valor do backend duplicaria o nosso
var gatewayOwnedHeaders = []string{
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
}

func stripInternalHeaders(resp *http.Response) error {
	resp.Header.Del("Server")
	resp.Header.Del("X-Powered-By")
	for _, h := range gatewayOwnedHeaders {
		resp.Header.Del(h)
	}
	return nil
}

func (rt *Router) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", r.Method),
		zap.Error(err),
	}
	if rc, ok := FromContext(ctx); ok {
		fields = append(fields,
			zap.String("path", rc.OriginalPath),
			zap.String("service", rc.Service),
			zap.String("target", rc.Target.Host))
	}

	switch {
	case errors.Is(context.Cause(ctx), errUpstreamTimeout):
		rt.logger.Warn("upstream timeout", append(fields, zap.String("kind", string(apierr.UpstreamTimeout)))...)
		apierr.Write(w, r, apierr.Wrap(apierr.UpstreamTimeout, err))
	case errors.Is(ctx.Err(), context.Canceled):
		// cliente foi embora: não há para quem responder
		rt.logger.Debug("client disconnected before upstream response", fields...)
		w.WriteHeader(statusClientClosed)
	default:
		rt.logger.Warn("upstream unreachable", append(fields, zap.String("kind", string(apierr.UpstreamUnreachable)))...)
		apierr.Write(w, r, apierr.Wrap(apierr.UpstreamUnreachable, err))
	}
}
