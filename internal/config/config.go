package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dumplingcafe/research/internal/agents"
	"github.com/dumplingcafe/research/internal/circuitbreaker"
	"github.com/dumplingcafe/research/internal/db"
	"github.com/dumplingcafe/research/internal/llm"
	"github.com/dumplingcafe/research/internal/research"
	"github.com/dumplingcafe/research/internal/store/redisstore"
	"github.com/dumplingcafe/research/internal/tracing"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config is the full service configuration, loaded from research.yaml.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Research   ResearchConfig   `mapstructure:"research"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// StoreConfig selects and configures the task store.
type StoreConfig struct {
	Driver string            `mapstructure:"driver"`
	Redis  redisstore.Config `mapstructure:"redis"`
	SQL    db.Config         `mapstructure:"sql"`
}

// OpenRouterConfig contains completion API settings
type OpenRouterConfig struct {
	BaseURL           string                  `mapstructure:"base_url"`
	APIKey            string                  `mapstructure:"api_key"`
	Referer           string                  `mapstructure:"referer"`
	Title             string                  `mapstructure:"title"`
	Timeout           time.Duration           `mapstructure:"timeout"`
	RequestsPerSecond float64                 `mapstructure:"requests_per_second"`
	Burst             int                     `mapstructure:"burst"`
	Breaker           circuitbreaker.Settings `mapstructure:"breaker"`
}

// Client converts the section to the client's configuration.
func (c OpenRouterConfig) Client() llm.OpenRouterConfig {
	return llm.OpenRouterConfig{
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		Referer:           c.Referer,
		Title:             c.Title,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Breaker:           c.Breaker,
	}
}

// PricingConfig points at the model catalog and price file.
type PricingConfig struct {
	ModelsFile   string        `mapstructure:"models_file"`
	Watch        bool          `mapstructure:"watch"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ResearchConfig is pipeline policy plus request defaults.
type ResearchConfig struct {
	research.Config `mapstructure:",squash"`
	DefaultPreset   string `mapstructure:"default_preset"`
	WriterMaxTokens int    `mapstructure:"writer_max_tokens"`
	PassingScore    int    `mapstructure:"passing_score"`
}

// StreamingConfig contains event streaming settings (ring buffer)
type StreamingConfig struct {
	RingCapacity     int           `mapstructure:"ring_capacity"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	Heartbeat        time.Duration `mapstructure:"heartbeat"`
}

// AuthConfig contains bearer token settings for the HTTP API
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.sql.dsn", "")
	v.SetDefault("store.sql.max_connections", 10)
	v.SetDefault("store.sql.idle_connections", 2)
	v.SetDefault("store.sql.max_lifetime", 30*time.Minute)
	setBreakerDefaults(v, "store.redis.breaker", circuitbreaker.StoreSettings())
	setBreakerDefaults(v, "store.sql.breaker", circuitbreaker.StoreSettings())

	v.SetDefault("openrouter.base_url", llm.DefaultBaseURL)
	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.referer", "http://localhost:8080")
	v.SetDefault("openrouter.title", "Deep Research Agent")
	v.SetDefault("openrouter.timeout", 120*time.Second)
	v.SetDefault("openrouter.requests_per_second", 0)
	v.SetDefault("openrouter.burst", 1)
	setBreakerDefaults(v, "openrouter.breaker", circuitbreaker.CompletionSettings())

	v.SetDefault("pricing.models_file", "")
	v.SetDefault("pricing.watch", false)
	v.SetDefault("pricing.poll_interval", 0)

	def := research.DefaultConfig()
	v.SetDefault("research.critic_enabled", def.CriticEnabled)
	v.SetDefault("research.subtopic_policy", string(def.SubtopicPolicy))
	v.SetDefault("research.subtopics", def.Subtopics)
	v.SetDefault("research.default_preset", "fast")
	v.SetDefault("research.writer_max_tokens", 600)
	v.SetDefault("research.passing_score", agents.DefaultPassingScore)

	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("streaming.subscriber_buffer", 64)
	v.SetDefault("streaming.heartbeat", 15*time.Second)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "research")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
}

func setBreakerDefaults(v *viper.Viper, prefix string, s circuitbreaker.Settings) {
	v.SetDefault(prefix+".max_requests", s.MaxRequests)
	v.SetDefault(prefix+".interval", s.Interval)
	v.SetDefault(prefix+".timeout", s.Timeout)
	v.SetDefault(prefix+".failure_threshold", s.FailureThreshold)
	v.SetDefault(prefix+".success_threshold", s.SuccessThreshold)
}

// Load reads the configuration from path, or from RESEARCH_CONFIG_PATH when
// path is empty. With neither set only defaults and environment apply.
// RESEARCH_<SECTION>_<KEY> variables override file values; a bare
// OPENROUTER_API_KEY is used when no key is configured.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RESEARCH_CONFIG_PATH")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.OpenRouter.APIKey == "" {
		cfg.OpenRouter.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.Store.SQL.Driver == "" {
		switch cfg.Store.Driver {
		case StorePostgres:
			cfg.Store.SQL.Driver = db.DriverPostgres
		case StoreSQLite:
			cfg.Store.SQL.Driver = db.DriverSQLite
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory, StoreRedis:
	case StorePostgres, StoreSQLite:
		if c.Store.SQL.DSN == "" {
			errs = append(errs, fmt.Errorf("store.sql.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.Driver == StoreRedis && c.Store.Redis.Addr == "" {
		errs = append(errs, errors.New("store.redis.addr is required"))
	}
	if !c.Research.SubtopicPolicy.Valid() {
		errs = append(errs, fmt.Errorf("unknown research.subtopic_policy %q", c.Research.SubtopicPolicy))
	}
	if c.Research.Subtopics < 1 || c.Research.Subtopics > 10 {
		errs = append(errs, fmt.Errorf("research.subtopics must be between 1 and 10, got %d", c.Research.Subtopics))
	}
	if c.Research.PassingScore < 1 || c.Research.PassingScore > 10 {
		errs = append(errs, fmt.Errorf("research.passing_score must be between 1 and 10, got %d", c.Research.PassingScore))
	}
	if c.Streaming.RingCapacity <= 0 {
		errs = append(errs, errors.New("streaming.ring_capacity must be positive"))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth is enabled"))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger.
func (l LoggingConfig) NewLogger() (*zap.Logger, error) {
	var zc zap.Config
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
