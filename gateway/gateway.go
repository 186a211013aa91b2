// Package gateway monta o gateway a partir da configuração: registry, store de
// rate limit, pipeline de middlewares e http.Server.
//
// Ordem do pipeline para rotas de serviço:
//
//	request id → recoverer → access log → security → rate limit → concorrência → proxy
//
// /health, /ready e /metrics ficam fora de security e do rate limit.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dixis-gateway/config"
	"dixis-gateway/health"
	"dixis-gateway/middleware/httplog"
	"dixis-gateway/middleware/ratelimit"
	"dixis-gateway/middleware/ratelimit/application"
	"dixis-gateway/middleware/ratelimit/domain"
	"dixis-gateway/middleware/ratelimit/infra"
	"dixis-gateway/middleware/security"
	"dixis-gateway/observability"
	"dixis-gateway/proxy"
	"dixis-gateway/registry"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pathHealth = "/health"
	pathReady  = "/ready"
)

// Deps permite injetar dependências já construídas (principalmente em testes).
type Deps struct {
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Transport http.RoundTripper
}

type Gateway struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	registry *registry.Registry
	store    domain.WindowStore
	stats    domain.StatsStore
	health   *health.Manager
	handler  http.Handler
	server   *http.Server

	rdb         *redis.Client
	stopJanitor context.CancelFunc
}

func New(cfg *config.Config, deps Deps) (*Gateway, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil && cfg.Metrics.Enabled {
		deps.Metrics = observability.NewMetrics()
	}

	reg, err := registry.New(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	g := &Gateway{
		cfg:      cfg,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		registry: reg,
		health:   health.NewManager(cfg.Health.ReadinessTimeout, deps.Logger),
	}

	if err := g.initStore(); err != nil {
		return nil, err
	}

	g.handler = g.routes(proxy.New(reg, proxy.Options{
		Timeout:         cfg.Proxy.Timeout,
		RetryIdempotent: cfg.Proxy.RetryIdempotent,
		Transport:       deps.Transport,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
	}))

	g.server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           g.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          zap.NewStdLog(deps.Logger.Named("http")),
	}
	return g, nil
}

func (g *Gateway) initStore() error {
	rl := g.cfg.RateLimit

	switch rl.Store {
	case config.StoreMemory:
		mem := infra.NewMemoryWindowStore()
		ctx, cancel := context.WithCancel(context.Background())
		mem.StartJanitor(ctx)
		g.stopJanitor = cancel
		g.store = mem
		if rl.Stats.Enabled {
			g.stats = infra.NewMemoryStatsStore(infra.WithTrackKeys(rl.Stats.TrackKeys))
		}
		g.logger.Warn("using in-memory rate limit store: limits are per instance, not shared")
		g.health.Register("ratelimit_store", health.StoreChecker{Store: mem})
		return nil

	default:
		rdb, err := NewRedisClient(g.cfg.Redis)
		if err != nil {
			return err
		}
		g.rdb = rdb
		g.store = infra.NewRedisWindowStore(rdb, infra.WithWindowPrefix(rl.Prefix))
		if rl.Stats.Enabled {
			g.stats = infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(rl.Stats.Prefix),
				infra.WithStatsTTL(rl.Stats.TTL),
				infra.WithStatsBucket(rl.Stats.Bucket),
				infra.WithStatsTrackKeys(rl.Stats.TrackKeys),
			)
		}
		g.health.Register("redis", health.StoreChecker{Store: g.store})
		// conexão é preguiçosa; o ping só informa o estado inicial
		go g.logInitialStoreState()
		return nil
	}
}

// NewRedisClient cria o client a partir da URL. Não conecta.
// O deadline do contexto vale no socket (ContextTimeoutEnabled), então o
// StoreTimeout do rate limit corta um Redis travado.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis.url: %w", err)
	}
	opts.ContextTimeoutEnabled = true
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return redis.NewClient(opts), nil
}

func (g *Gateway) logInitialStoreState() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("rate limit store unreachable at startup",
			zap.String("failure_policy", g.cfg.FailurePolicy().String()),
			zap.Error(err))
		return
	}
	g.logger.Info("rate limit store connected")
}

func (g *Gateway) routes(forward http.Handler) http.Handler {
	cfg := g.cfg
	r := chi.NewRouter()

	quiet := []string{pathHealth, pathReady}
	if cfg.Metrics.Enabled {
		quiet = append(quiet, cfg.Metrics.Path)
	}
	r.Use(httplog.RequestID)
	r.Use(httplog.Recoverer(g.logger))
	r.Use(httplog.AccessLog(g.logger, quiet...))

	r.Get(pathHealth, g.health.Liveness)
	r.Get(pathReady, g.health.Readiness)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, g.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(security.Chain(security.Options{
			AllowedOrigins:   cfg.Security.AllowedOrigins,
			CompressionLevel: cfg.Security.CompressionLevel,
			HSTSSeconds:      cfg.Security.HSTSSeconds,
			Logger:           g.logger,
		}))
		if cfg.RateLimit.Enabled {
			r.Use(ratelimit.Middleware(ratelimit.Options{
				Service: application.Service{
					Store:  g.store,
					Limit:  cfg.RateLimit.Limit,
					Window: cfg.RateLimit.Window,
					Policy: cfg.FailurePolicy(),
				},
				Stats:              g.stats,
				KeyHeader:          cfg.RateLimit.KeyHeader,
				TrustXForwardedFor: cfg.RateLimit.TrustForwardedFor,
				StoreTimeout:       cfg.RateLimit.StoreTimeout,
				Logger:             g.logger,
				Metrics:            g.metrics,
			}))
		}
		r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Max:            cfg.Concurrency.Max,
			AcquireTimeout: cfg.Concurrency.AcquireTimeout,
			Metrics:        g.metrics,
		}))
		r.Handle("/*", forward)
	})

	return r
}

func (g *Gateway) Handler() http.Handler { return g.handler }

func (g *Gateway) Registry() *registry.Registry { return g.registry }

func (g *Gateway) Store() domain.WindowStore { return g.store }

func (g *Gateway) Addr() string { return g.server.Addr }

// Start bloqueia servindo até Shutdown. Encerramento normal devolve nil.
func (g *Gateway) Start() error {
	for _, rt := range g.registry.Routes() {
		g.logger.Info("route registered",
			zap.String("prefix", rt.Prefix),
			zap.String("target", rt.Target.String()))
	}
	g.logger.Info("gateway listening",
		zap.String("addr", g.cfg.Server.Listen),
		zap.String("store", g.cfg.RateLimit.Store),
		zap.Int("limit", g.cfg.RateLimit.Limit),
		zap.Duration("window", g.cfg.RateLimit.Window),
		zap.String("failure_policy", g.cfg.FailurePolicy().String()),
		zap.Int("concurrency_max", g.cfg.Concurrency.Max))

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown espera requisições em andamento até ctx expirar e libera o store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)
	g.Close()
	return err
}

// Close libera janitor e client Redis sem tocar no servidor HTTP.
func (g *Gateway) Close() {
	if g.stopJanitor != nil {
		g.stopJanitor()
	}
	if g.rdb != nil {
		if err := g.rdb.Close(); err != nil {
			g.logger.Warn("closing redis client", zap.Error(err))
		}
	}
}
