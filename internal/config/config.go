package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Providers  map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Routing    RoutingConfig             `yaml:"routing" mapstructure:"routing"`
	Breaker    BreakerConfig             `yaml:"breaker" mapstructure:"breaker"`
	Retry      RetryConfig               `yaml:"retry" mapstructure:"retry"`
	Confidence ConfidenceConfig          `yaml:"confidence" mapstructure:"confidence"`
	Cache      CacheConfig               `yaml:"cache" mapstructure:"cache"`
	Canonical  CanonicalConfig           `yaml:"canonical" mapstructure:"canonical"`
	Budget     BudgetConfig              `yaml:"budget" mapstructure:"budget"`
	Streaming  StreamingConfig           `yaml:"streaming" mapstructure:"streaming"`
	Enrich     EnrichConfig              `yaml:"enrich" mapstructure:"enrich"`
	Pricing    PricingConfig             `yaml:"pricing" mapstructure:"pricing"`
	Store      StoreConfig               `yaml:"store" mapstructure:"store"`
	Server     ServerConfig              `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig          `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig                 `yaml:"log" mapstructure:"log"`
}

// Provider kinds understood by the provider registry.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// ProviderConfig configures one LLM provider adapter.
type ProviderConfig struct {
	Kind            string `yaml:"kind" mapstructure:"kind"`
	APIKey          string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ConfidenceScale string `yaml:"confidence_scale" mapstructure:"confidence_scale"`
}

// RoutingConfig points at the task routing and tier ladder file.
type RoutingConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// BreakerConfig configures per provider/model/task circuit breakers.
type BreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SampleWindowSecs    int `yaml:"sample_window_secs" mapstructure:"sample_window_secs"`
	RecoveryTimeoutSecs int `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
	SuccessThreshold    int `yaml:"success_threshold" mapstructure:"success_threshold"`
	HalfOpenMaxCalls    int `yaml:"half_open_max_calls" mapstructure:"half_open_max_calls"`
}

// RetryConfig configures exponential backoff around provider calls.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs     int      `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs      int      `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Jitter          bool     `yaml:"jitter" mapstructure:"jitter"`
	RetryableErrors []string `yaml:"retryable_errors" mapstructure:"retryable_errors"`
}

// ConfidenceConfig holds the confidence decision thresholds.
type ConfidenceConfig struct {
	AutoPopulate float64 `yaml:"auto_populate" mapstructure:"auto_populate"`
	Suggest      float64 `yaml:"suggest" mapstructure:"suggest"`
	UserChoice   float64 `yaml:"user_choice" mapstructure:"user_choice"`
	Escalate     float64 `yaml:"escalate" mapstructure:"escalate"`
	Low          float64 `yaml:"low" mapstructure:"low"`
	VeryLow      float64 `yaml:"very_low" mapstructure:"very_low"`
}

// CacheConfig configures the volatility-tiered fact cache.
type CacheConfig struct {
	Backend            string `yaml:"backend" mapstructure:"backend"`
	MaxEntries         int    `yaml:"max_entries" mapstructure:"max_entries"`
	StaticTTLHours     int    `yaml:"static_ttl_hours" mapstructure:"static_ttl_hours"`
	SemiStaticTTLHours int    `yaml:"semi_static_ttl_hours" mapstructure:"semi_static_ttl_hours"`
	DynamicTTLHours    int    `yaml:"dynamic_ttl_hours" mapstructure:"dynamic_ttl_hours"`
	PriceTTLHours      int    `yaml:"price_ttl_hours" mapstructure:"price_ttl_hours"`
	IdentifyText       bool   `yaml:"identify_text" mapstructure:"identify_text"`
}

// CanonicalConfig configures the producer name resolver.
type CanonicalConfig struct {
	Exact               bool `yaml:"exact" mapstructure:"exact"`
	Abbreviation        bool `yaml:"abbreviation" mapstructure:"abbreviation"`
	Alias               bool `yaml:"alias" mapstructure:"alias"`
	Fuzzy               bool `yaml:"fuzzy" mapstructure:"fuzzy"`
	FuzzyCandidateLimit int  `yaml:"fuzzy_candidate_limit" mapstructure:"fuzzy_candidate_limit"`
	FuzzyMaxDistance    int  `yaml:"fuzzy_max_distance" mapstructure:"fuzzy_max_distance"`
	FuzzyMinHitCount    int  `yaml:"fuzzy_min_hit_count" mapstructure:"fuzzy_min_hit_count"`
}

// BudgetConfig configures admission control. Zero disables a limit.
type BudgetConfig struct {
	DailyRequests     int     `yaml:"daily_requests" mapstructure:"daily_requests"`
	DailyCostUSD      float64 `yaml:"daily_cost_usd" mapstructure:"daily_cost_usd"`
	PerMinuteRequests int     `yaml:"per_minute_requests" mapstructure:"per_minute_requests"`
}

// StreamingConfig configures the SSE identification endpoint.
type StreamingConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	Tasks       []string `yaml:"tasks" mapstructure:"tasks"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Allows reports whether streaming is enabled for the given task.
func (s StreamingConfig) Allows(task string) bool {
	return s.Enabled && slices.Contains(s.Tasks, task)
}

// EnrichConfig configures optional post-identification enrichment.
type EnrichConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// PricingConfig overrides the built-in per-model token rates.
type PricingConfig struct {
	Models []ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing is the per-million-token price of one model.
type ModelPricing struct {
	Model         string  `yaml:"model" mapstructure:"model"`
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	SessionIdleMins    int      `yaml:"session_idle_mins" mapstructure:"session_idle_mins"`
}

// MonitoringConfig configures the breaker and budget checker.
type MonitoringConfig struct {
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	BudgetAlertFraction float64 `yaml:"budget_alert_fraction" mapstructure:"budget_alert_fraction"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WINEID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	for _, name := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini} {
		v.SetDefault("providers."+name+".kind", name)
		v.SetDefault("providers."+name+".api_key", "")
		v.SetDefault("providers."+name+".base_url", "")
		v.SetDefault("providers."+name+".timeout_secs", 30)
		v.SetDefault("providers."+name+".confidence_scale", "unit")
	}
	v.SetDefault("routing.file", "routes.yaml")
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.sample_window_secs", 60)
	v.SetDefault("breaker.recovery_timeout_secs", 30)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.half_open_max_calls", 1)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 8000)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.retryable_errors", []string{"rate_limit", "timeout", "server_error", "overloaded"})
	v.SetDefault("confidence.auto_populate", 0.85)
	v.SetDefault("confidence.suggest", 0.70)
	v.SetDefault("confidence.user_choice", 0.60)
	v.SetDefault("confidence.escalate", 0.80)
	v.SetDefault("confidence.low", 0.60)
	v.SetDefault("confidence.very_low", 0.30)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.static_ttl_hours", 365*24)
	v.SetDefault("cache.semi_static_ttl_hours", 90*24)
	v.SetDefault("cache.dynamic_ttl_hours", 14*24)
	v.SetDefault("cache.price_ttl_hours", 7*24)
	v.SetDefault("cache.identify_text", true)
	v.SetDefault("canonical.exact", true)
	v.SetDefault("canonical.abbreviation", true)
	v.SetDefault("canonical.alias", true)
	v.SetDefault("canonical.fuzzy", true)
	v.SetDefault("canonical.fuzzy_candidate_limit", 500)
	v.SetDefault("canonical.fuzzy_max_distance", 2)
	v.SetDefault("canonical.fuzzy_min_hit_count", 2)
	v.SetDefault("budget.daily_requests", 5000)
	v.SetDefault("budget.daily_cost_usd", 25.0)
	v.SetDefault("budget.per_minute_requests", 60)
	v.SetDefault("streaming.enabled", true)
	v.SetDefault("streaming.tasks", []string{"identify_text", "identify_image"})
	v.SetDefault("streaming.timeout_secs", 60)
	v.SetDefault("enrich.enabled", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "wineid.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 90)
	v.SetDefault("server.session_idle_mins", 30)
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.budget_alert_fraction", 0.8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var validScales = []string{"", "unit", "percent", "auto"}

// Validate checks the configuration for values that would make the
// pipeline misbehave at runtime. Mode selects the command-specific checks:
// "serve", "identify" or "check". All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if !c.hasProviderKey() {
			errs = append(errs, "at least one providers.<name>.api_key is required")
		}
	case "identify":
		if !c.hasProviderKey() {
			errs = append(errs, "at least one providers.<name>.api_key is required")
		}
	case "check":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	for name, p := range c.Providers {
		switch p.Kind {
		case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		default:
			errs = append(errs, fmt.Sprintf("providers.%s.kind %q is not supported", name, p.Kind))
		}
		if p.TimeoutSecs <= 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.timeout_secs must be positive", name))
		}
		if !slices.Contains(validScales, p.ConfidenceScale) {
			errs = append(errs, fmt.Sprintf("providers.%s.confidence_scale %q must be unit, percent or auto", name, p.ConfidenceScale))
		}
	}

	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		errs = append(errs, "breaker.success_threshold must be at least 1")
	}
	if c.Breaker.HalfOpenMaxCalls < 1 {
		errs = append(errs, "breaker.half_open_max_calls must be at least 1")
	}
	if c.Breaker.RecoveryTimeoutSecs <= 0 || c.Breaker.SampleWindowSecs <= 0 {
		errs = append(errs, "breaker windows must be positive")
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelayMs < 0 || c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		errs = append(errs, "retry delays must satisfy 0 <= base_delay_ms <= max_delay_ms")
	}

	cc := c.Confidence
	for name, v := range map[string]float64{
		"auto_populate": cc.AutoPopulate, "suggest": cc.Suggest, "user_choice": cc.UserChoice,
		"escalate": cc.Escalate, "low": cc.Low, "very_low": cc.VeryLow,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("confidence.%s must be within [0, 1]", name))
		}
	}
	if !(cc.AutoPopulate >= cc.Suggest && cc.Suggest >= cc.UserChoice) {
		errs = append(errs, "confidence thresholds must satisfy auto_populate >= suggest >= user_choice")
	}
	if cc.VeryLow > cc.Low {
		errs = append(errs, "confidence.very_low must not exceed confidence.low")
	}

	ca := c.Cache
	if !(ca.StaticTTLHours >= ca.SemiStaticTTLHours && ca.SemiStaticTTLHours >= ca.DynamicTTLHours &&
		ca.DynamicTTLHours >= ca.PriceTTLHours && ca.PriceTTLHours > 0) {
		errs = append(errs, "cache TTLs must be positive and ordered static >= semi_static >= dynamic >= price")
	}
	if ca.Backend != "memory" && ca.Backend != "store" {
		errs = append(errs, fmt.Sprintf("cache.backend %q must be memory or store", ca.Backend))
	}

	if c.Budget.DailyRequests < 0 || c.Budget.DailyCostUSD < 0 || c.Budget.PerMinuteRequests < 0 {
		errs = append(errs, "budget limits must not be negative")
	}
	if c.Streaming.Enabled && c.Streaming.TimeoutSecs <= 0 {
		errs = append(errs, "streaming.timeout_secs must be positive when streaming is enabled")
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) hasProviderKey() bool {
	for _, p := range c.Providers {
		if p.APIKey != "" {
			return true
		}
	}
	return false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
