package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-recommend/cache"
	"github.com/agentuity/go-recommend/catalog"
	"github.com/agentuity/go-recommend/extraction"
	"github.com/agentuity/go-recommend/ratelimit"
	"github.com/agentuity/go-recommend/recommend"
	"github.com/agentuity/go-recommend/resilience"
	cstr "github.com/agentuity/go-recommend/string"
	"github.com/cockroachdb/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// RECOMMEND_CREDENTIALS_CATALOG_CLIENT_SECRET.
const EnvPrefix = "RECOMMEND"

// Keyword sets are cheap to recompute per phrasing, so the extraction
// namespace is kept smaller than the recommendation namespace.
const (
	DefaultExtractionCapacity     = 500
	DefaultRecommendationCapacity = 2000
)

// ErrConfiguration marks configuration that cannot be used.
var ErrConfiguration = errors.New("invalid configuration")

// Config is the full application configuration. Values come from the
// defaults below, an optional YAML file and RECOMMEND_* environment
// variables, in increasing order of precedence.
type Config struct {
	Cache        CacheConfig      `mapstructure:"cache" yaml:"cache"`
	RateLimiter  ratelimit.Config `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Client       ClientConfig     `mapstructure:"client" yaml:"client"`
	Orchestrator recommend.Config `mapstructure:"orchestrator" yaml:"orchestrator"`
	Extraction   ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Catalog      CatalogConfig    `mapstructure:"catalog" yaml:"catalog"`
	Credentials  Credentials      `mapstructure:"credentials" yaml:"credentials"`
	Monitor      MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	Telemetry    TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
}

type CacheConfig struct {
	Extraction     cache.NamespaceConfig `mapstructure:"extraction" yaml:"extraction"`
	Recommendation cache.NamespaceConfig `mapstructure:"recommendation" yaml:"recommendation"`
	Token          cache.NamespaceConfig `mapstructure:"token" yaml:"token"`
	SweepInterval  time.Duration         `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// ClientConfig applies to every outbound HTTP call.
type ClientConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	MaxWait         time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	BreakerFailures int           `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
}

type ExtractionConfig struct {
	URL         string  `mapstructure:"url" yaml:"url"`
	Model       string  `mapstructure:"model" yaml:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

type CatalogConfig struct {
	AuthURL string `mapstructure:"auth_url" yaml:"auth_url"`
	APIURL  string `mapstructure:"api_url" yaml:"api_url"`
	Market  string `mapstructure:"market" yaml:"market"`
}

// Credentials are never printed in clear text.
type Credentials struct {
	ExtractionKey       cstr.MaskedString `mapstructure:"extraction_key" yaml:"extraction_key"`
	CatalogClientID     string            `mapstructure:"catalog_client_id" yaml:"catalog_client_id"`
	CatalogClientSecret cstr.MaskedString `mapstructure:"catalog_client_secret" yaml:"catalog_client_secret"`
}

type MonitorConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Threshold float64       `mapstructure:"threshold" yaml:"threshold"`
}

type TelemetryConfig struct {
	// Endpoint is the OTLP/HTTP collector URL. Tracing is off when empty.
	Endpoint    string            `mapstructure:"endpoint" yaml:"endpoint"`
	Token       cstr.MaskedString `mapstructure:"token" yaml:"token"`
	ServiceName string            `mapstructure:"service_name" yaml:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.extraction.capacity", DefaultExtractionCapacity)
	v.SetDefault("cache.extraction.ttl", "1h")
	v.SetDefault("cache.recommendation.capacity", DefaultRecommendationCapacity)
	v.SetDefault("cache.recommendation.ttl", "30m")
	v.SetDefault("cache.token.capacity", 16)
	v.SetDefault("cache.token.ttl", "1h")
	v.SetDefault("cache.sweep_interval", "1m")

	limits := ratelimit.DefaultConfig()
	v.SetDefault("rate_limiter.window_duration", limits.Window)
	v.SetDefault("rate_limiter.max_requests", limits.MaxRequests)
	v.SetDefault("rate_limiter.burst_capacity", limits.BurstCapacity)
	v.SetDefault("rate_limiter.burst_refill_interval", limits.BurstRefillInterval)
	v.SetDefault("rate_limiter.idle_ttl", limits.IdleTTL)
	v.SetDefault("rate_limiter.max_users", limits.MaxUsers)
	v.SetDefault("rate_limiter.shards", limits.Shards)

	retry := resilience.DefaultRetryConfig()
	breaker := resilience.DefaultCircuitBreakerConfig()
	v.SetDefault("client.timeout", "30s")
	v.SetDefault("client.max_attempts", retry.MaxAttempts)
	v.SetDefault("client.backoff_base", retry.InitialBackoff)
	v.SetDefault("client.max_backoff", retry.MaxBackoff)
	v.SetDefault("client.max_wait", retry.MaxWait)
	v.SetDefault("client.breaker_failures", breaker.MaxFailures)
	v.SetDefault("client.breaker_timeout", breaker.Timeout)

	v.SetDefault("orchestrator.limit", catalog.DefaultLimit)
	v.SetDefault("orchestrator.request_timeout", 0)
	v.SetDefault("orchestrator.coalesce", false)

	v.SetDefault("extraction.url", extraction.DefaultURL)
	v.SetDefault("extraction.model", extraction.DefaultModel)
	v.SetDefault("extraction.max_tokens", extraction.DefaultMaxTokens)
	v.SetDefault("extraction.temperature", extraction.DefaultTemperature)

	v.SetDefault("catalog.auth_url", catalog.DefaultAuthURL)
	v.SetDefault("catalog.api_url", catalog.DefaultAPIURL)
	v.SetDefault("catalog.market", catalog.DefaultMarket)

	v.SetDefault("credentials.extraction_key", "")
	v.SetDefault("credentials.catalog_client_id", "")
	v.SetDefault("credentials.catalog_client_secret", "")

	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.threshold", 80.0)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.token", "")
	v.SetDefault("telemetry.service_name", "recommend")
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook accepts durations as str2duration strings ("90s", "1h",
// "2d") or as plain numbers of seconds.
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Duration(0), nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := str2duration.ParseDuration(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid duration %q", v)
		}
		return d, nil
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "reading config file %s", path), ErrConfiguration)
		}
	}
	return v, nil
}

// Read loads configuration without checking credentials.
func Read(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook,
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding config"), ErrConfiguration)
	}
	return &cfg, nil
}

// Load reads and validates configuration. Errors are marked with
// ErrConfiguration.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing credentials and unusable limits.
func (c *Config) Validate() error {
	var problems []string
	if c.Credentials.ExtractionKey.IsEmpty() {
		problems = append(problems, "credentials.extraction_key is required")
	}
	if c.Credentials.CatalogClientID == "" {
		problems = append(problems, "credentials.catalog_client_id is required")
	}
	if c.Credentials.CatalogClientSecret.IsEmpty() {
		problems = append(problems, "credentials.catalog_client_secret is required")
	}
	namespaces := c.Namespaces()
	for _, ns := range cache.AllNamespaces {
		if capacity := namespaces[ns].Capacity; capacity < 0 {
			problems = append(problems, fmt.Sprintf("cache.%s.capacity must not be negative, got %d", ns, capacity))
		}
	}
	if c.Cache.SweepInterval <= 0 {
		problems = append(problems, fmt.Sprintf("cache.sweep_interval must be positive, got %s", c.Cache.SweepInterval))
	}
	if err := c.RateLimiter.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Client.MaxAttempts < 1 {
		problems = append(problems, fmt.Sprintf("client.max_attempts must be at least 1, got %d", c.Client.MaxAttempts))
	}
	if c.Client.Timeout < 0 {
		problems = append(problems, "client.timeout must not be negative")
	}
	if len(problems) > 0 {
		return errors.Mark(errors.Newf("%s", strings.Join(problems, "; ")), ErrConfiguration)
	}
	return nil
}

// Namespaces returns the per-namespace cache sizing.
func (c *Config) Namespaces() map[cache.Namespace]cache.NamespaceConfig {
	return map[cache.Namespace]cache.NamespaceConfig{
		cache.NamespaceExtraction:     c.Cache.Extraction,
		cache.NamespaceRecommendation: c.Cache.Recommendation,
		cache.NamespaceToken:          c.Cache.Token,
	}
}

func (c *Config) Retry() resilience.RetryConfig {
	r := resilience.DefaultRetryConfig()
	r.MaxAttempts = c.Client.MaxAttempts
	if c.Client.BackoffBase > 0 {
		r.InitialBackoff = c.Client.BackoffBase
	}
	if c.Client.MaxBackoff > 0 {
		r.MaxBackoff = c.Client.MaxBackoff
	}
	if c.Client.MaxWait > 0 {
		r.MaxWait = c.Client.MaxWait
	}
	return r
}

func (c *Config) Breaker() resilience.CircuitBreakerConfig {
	b := resilience.DefaultCircuitBreakerConfig()
	if c.Client.BreakerFailures > 0 {
		b.MaxFailures = c.Client.BreakerFailures
	}
	if c.Client.BreakerTimeout > 0 {
		b.Timeout = c.Client.BreakerTimeout
	}
	return b
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	buf, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encoding config")
	}
	return buf, nil
}
