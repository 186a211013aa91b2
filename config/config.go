// Package config carrega a configuração do gateway: defaults embutidos,
// arquivo YAML opcional e variáveis de ambiente GATEWAY_* (nessa ordem de
// precedência).
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"dixis-gateway/middleware/ratelimit/domain"
	"dixis-gateway/registry"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const EnvPrefix = "GATEWAY"

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Services    []registry.Entry  `mapstructure:"services"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Health      HealthConfig      `mapstructure:"health"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Security    SecurityConfig    `mapstructure:"security"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Listen            string        `mapstructure:"listen"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Limit             int           `mapstructure:"limit"`
	Window            time.Duration `mapstructure:"window"`
	FailurePolicy     string        `mapstructure:"failure_policy"`
	Store             string        `mapstructure:"store"`
	Prefix            string        `mapstructure:"prefix"`
	KeyHeader         string        `mapstructure:"key_header"`
	TrustForwardedFor bool          `mapstructure:"trust_forwarded_for"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout"`
	Stats             StatsConfig   `mapstructure:"stats"`
}

type StatsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Prefix    string        `mapstructure:"prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
	Bucket    string        `mapstructure:"bucket"`
	TrackKeys bool          `mapstructure:"track_keys"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ProxyConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryIdempotent bool          `mapstructure:"retry_idempotent"`
}

type HealthConfig struct {
	ReadinessTimeout time.Duration `mapstructure:"readiness_timeout"`
}

type ConcurrencyConfig struct {
	Max            int           `mapstructure:"max"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type SecurityConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	CompressionLevel int      `mapstructure:"compression_level"`
	HSTSSeconds      int64    `mapstructure:"hsts_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultServices é o mapa de serviços do marketplace Dixis.
const DefaultServices = "/auth=http://auth:5001,/products=http://products:5002,/orders=http://orders:5003,/shipping=http://shipping:5004"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("services", DefaultServices)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", 15*time.Minute)
	v.SetDefault("rate_limit.failure_policy", "open")
	v.SetDefault("rate_limit.store", StoreRedis)
	v.SetDefault("rate_limit.prefix", "ratelimit:window")
	v.SetDefault("rate_limit.key_header", "")
	v.SetDefault("rate_limit.trust_forwarded_for", false)
	v.SetDefault("rate_limit.store_timeout", 500*time.Millisecond)
	v.SetDefault("rate_limit.stats.enabled", false)
	v.SetDefault("rate_limit.stats.prefix", "ratelimit:stats")
	v.SetDefault("rate_limit.stats.ttl", 24*time.Hour)
	v.SetDefault("rate_limit.stats.bucket", "minute")
	v.SetDefault("rate_limit.stats.track_keys", false)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", time.Second)
	v.SetDefault("redis.write_timeout", time.Second)

	v.SetDefault("proxy.timeout", 30*time.Second)
	v.SetDefault("proxy.retry_idempotent", false)

	v.SetDefault("health.readiness_timeout", 2*time.Second)

	v.SetDefault("concurrency.max", 0)
	v.SetDefault("concurrency.acquire_timeout", time.Duration(0))

	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.compression_level", 5)
	v.SetDefault("security.hsts_seconds", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load lê a configuração. path vazio usa só defaults e ambiente.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		StringToServicesHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var entrySliceType = reflect.TypeOf([]registry.Entry{})

// StringToServicesHookFunc converte "/auth=http://auth:5001,/orders=..." na
// lista de serviços.
func StringToServicesHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != entrySliceType {
			return data, nil
		}
		return ParseServices(data.(string))
	}
}

// ParseServices interpreta a forma compacta de lista de serviços.
func ParseServices(s string) ([]registry.Entry, error) {
	var entries []registry.Entry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, target, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid service %q: expected prefix=url", part)
		}
		entries = append(entries, registry.Entry{
			Prefix: strings.TrimSpace(prefix),
			Target: strings.TrimSpace(target),
		})
	}
	return entries, nil
}

// Validate checa só a forma dos valores; o registry valida as rotas em si.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Services) == 0 {
		errs = append(errs, errors.New("services: at least one route is required"))
	}
	if c.RateLimit.Limit <= 0 {
		errs = append(errs, errors.New("rate_limit.limit must be > 0"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be > 0"))
	}
	if _, err := domain.ParseFailurePolicy(c.RateLimit.FailurePolicy); err != nil {
		errs = append(errs, fmt.Errorf("rate_limit.failure_policy: %w", err))
	}
	switch c.RateLimit.Store {
	case StoreRedis, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("rate_limit.store: unknown store %q", c.RateLimit.Store))
	}
	if c.Proxy.Timeout <= 0 {
		errs = append(errs, errors.New("proxy.timeout must be > 0"))
	}
	if c.Concurrency.Max < 0 {
		errs = append(errs, errors.New("concurrency.max must be >= 0"))
	}
	if c.Security.CompressionLevel < 0 || c.Security.CompressionLevel > 9 {
		errs = append(errs, errors.New("security.compression_level must be between 0 and 9"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, errors.New("metrics.path must start with /"))
	}
	return errors.Join(errs...)
}

// FailurePolicy devolve a política já validada.
func (c *Config) FailurePolicy() domain.FailurePolicy {
	p, _ := domain.ParseFailurePolicy(c.RateLimit.FailurePolicy)
	return p
}
