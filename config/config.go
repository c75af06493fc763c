package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/macho715/marine-weather-dashboard/internal/guardedfetch"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

const DefaultOpenMeteoURL = "https://marine-api.open-meteo.com/v1/marine"

// Provider names become part of circuit keys and metric labels.
var providerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Environment  string        `mapstructure:"environment"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FetchConfig mirrors guardedfetch.Policy. Zero circuit values are derived
// from the retry settings.
type FetchConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	Retries           int           `mapstructure:"retries"`
	Backoff           time.Duration `mapstructure:"backoff"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	JitterRatio       float64       `mapstructure:"jitter_ratio"`
	CircuitThreshold  int           `mapstructure:"circuit_threshold"`
	CircuitCooldown   time.Duration `mapstructure:"circuit_cooldown"`
	RetryClientErrors bool          `mapstructure:"retry_client_errors"`
}

type RedisConfig struct {
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	Retention time.Duration `mapstructure:"retention"`
}

type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Coalesce bool          `mapstructure:"coalesce"`
	Backend  string        `mapstructure:"backend"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

type ProviderConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Priority int    `mapstructure:"priority"`
}

type UpstreamConfig struct {
	Strategy  string           `mapstructure:"strategy"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

type MarineConfig struct {
	DefaultPort string `mapstructure:"default_port"`
	PortsFile   string `mapstructure:"ports_file"`
}

type PrewarmConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Marine   MarineConfig   `mapstructure:"marine"`
	Prewarm  PrewarmConfig  `mapstructure:"prewarm"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.format", "")

	v.SetDefault("fetch.timeout", guardedfetch.DefaultTimeout.String())
	v.SetDefault("fetch.retries", guardedfetch.DefaultRetries)
	v.SetDefault("fetch.backoff", guardedfetch.DefaultBackoff.String())
	v.SetDefault("fetch.backoff_factor", guardedfetch.DefaultBackoffFactor)
	v.SetDefault("fetch.jitter_ratio", 0.0)
	v.SetDefault("fetch.circuit_threshold", 0)
	v.SetDefault("fetch.circuit_cooldown", "0s")
	v.SetDefault("fetch.retry_client_errors", false)

	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.coalesce", true)
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "marine")
	v.SetDefault("cache.redis.retention", "0s")

	v.SetDefault("upstream.strategy", "failover")
	v.SetDefault("upstream.providers", []map[string]any{
		{"name": "open-meteo", "url": DefaultOpenMeteoURL, "priority": 0},
	})

	v.SetDefault("marine.default_port", "AEJEA")
	v.SetDefault("marine.ports_file", "")

	v.SetDefault("prewarm.enabled", false)
	v.SetDefault("prewarm.interval", "5m")

	v.SetDefault("metrics.buffer_size", 1000)
}

// Load reads .env, then config.yaml from ./config or the working directory,
// then environment overrides (server.address is SERVER_ADDRESS).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", slog.String("error", err.Error()))
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// Policy converts the fetch section into a guardedfetch policy.
func (c *Config) Policy() guardedfetch.Policy {
	return guardedfetch.Policy{
		Timeout:           c.Fetch.Timeout,
		Retries:           c.Fetch.Retries,
		Backoff:           c.Fetch.Backoff,
		BackoffFactor:     c.Fetch.BackoffFactor,
		JitterRatio:       c.Fetch.JitterRatio,
		CircuitThreshold:  c.Fetch.CircuitThreshold,
		CircuitCooldown:   c.Fetch.CircuitCooldown,
		RetryClientErrors: c.Fetch.RetryClientErrors,
	}
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(value interface{}) error {
			sc, ok := value.(ServerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ServerConfig")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.Environment,
					validation.Required,
					validation.In(EnvDev, EnvStaging, EnvProd),
				),
				validation.Field(&sc.Address,
					validation.Required,
					validation.By(validateHostPort),
				),
				validation.Field(&sc.ReadTimeout, validation.Min(time.Duration(0))),
				validation.Field(&sc.WriteTimeout, validation.Min(time.Duration(0))),
			)
		})),
		validation.Field(&c.Logging, validation.By(func(value interface{}) error {
			lc, ok := value.(LoggingConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
			}
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level,
					validation.Required,
					validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
				),
				validation.Field(&lc.Format, validation.In("text", "json")),
			)
		})),
		validation.Field(&c.Fetch, validation.By(func(value interface{}) error {
			fc, ok := value.(FetchConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a FetchConfig")
			}
			return validation.ValidateStruct(&fc,
				validation.Field(&fc.Timeout, validation.Required, validation.Min(time.Millisecond)),
				validation.Field(&fc.Retries, validation.Min(0), validation.Max(10)),
				validation.Field(&fc.Backoff, validation.Min(time.Duration(0))),
				validation.Field(&fc.BackoffFactor, validation.Required, validation.Min(1.0)),
				validation.Field(&fc.JitterRatio, validation.Min(0.0), validation.Max(1.0)),
				validation.Field(&fc.CircuitThreshold, validation.Min(0)),
				validation.Field(&fc.CircuitCooldown, validation.Min(time.Duration(0))),
			)
		})),
		validation.Field(&c.Cache, validation.By(func(value interface{}) error {
			cc, ok := value.(CacheConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a CacheConfig")
			}
			return validation.ValidateStruct(&cc,
				validation.Field(&cc.TTL, validation.Required, validation.Min(time.Second)),
				validation.Field(&cc.Backend,
					validation.Required,
					validation.In(CacheBackendMemory, CacheBackendRedis),
				),
				validation.Field(&cc.Redis, validation.When(cc.Backend == CacheBackendRedis,
					validation.By(validateRedisConfig),
					validation.By(retentionCovers(cc.TTL)),
				)),
			)
		})),
		validation.Field(&c.Upstream, validation.By(func(value interface{}) error {
			uc, ok := value.(UpstreamConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
			}
			return validation.ValidateStruct(&uc,
				validation.Field(&uc.Strategy,
					validation.Required,
					validation.In("failover", "round-robin", "least-response"),
				),
				validation.Field(&uc.Providers,
					validation.Required,
					validation.Length(1, 0),
					validation.Each(validation.By(validateProviderConfig)),
					validation.By(uniqueProviderNames),
				),
			)
		})),
		validation.Field(&c.Marine, validation.By(func(value interface{}) error {
			mc, ok := value.(MarineConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a MarineConfig")
			}
			return validation.ValidateStruct(&mc,
				validation.Field(&mc.DefaultPort, validation.Required, validation.Length(5, 5), is.UpperCase),
			)
		})),
		validation.Field(&c.Prewarm, validation.By(func(value interface{}) error {
			pc, ok := value.(PrewarmConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a PrewarmConfig")
			}
			return validation.ValidateStruct(&pc,
				validation.Field(&pc.Interval, validation.When(pc.Enabled,
					validation.Required,
					validation.Min(time.Second),
				)),
			)
		})),
		validation.Field(&c.Metrics, validation.By(func(value interface{}) error {
			mc, ok := value.(MetricsConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
			}
			return validation.ValidateStruct(&mc,
				validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
			)
		})),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateProviderConfig(value interface{}) error {
	provider, ok := value.(ProviderConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ProviderConfig")
	}

	return validation.ValidateStruct(&provider,
		validation.Field(&provider.Name, validation.Required, validation.Match(providerNamePattern)),
		validation.Field(&provider.URL, validation.By(validateServerURL)),
		validation.Field(&provider.Priority, validation.Min(0)),
	)
}

func uniqueProviderNames(value interface{}) error {
	providers, ok := value.([]ProviderConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a provider list")
	}

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.Name] {
			return validation.NewError("validation_duplicate_provider", "provider names must be unique")
		}
		seen[p.Name] = true
	}
	return nil
}

// retentionCovers rejects a redis retention that would expire entries before
// they turn stale, leaving nothing to serve when upstream fails.
func retentionCovers(ttl time.Duration) validation.RuleFunc {
	return func(value interface{}) error {
		rc, ok := value.(RedisConfig)
		if !ok {
			return validation.NewError("validation_invalid_type", "must be a RedisConfig")
		}
		if rc.Retention != 0 && rc.Retention < ttl {
			return validation.NewError("validation_retention_below_ttl",
				fmt.Sprintf("retention %s must be zero or at least the cache ttl %s", rc.Retention, ttl))
		}
		return nil
	}
}

func validateRedisConfig(value interface{}) error {
	rc, ok := value.(RedisConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RedisConfig")
	}

	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Address, validation.Required, validation.By(validateHostPort)),
		validation.Field(&rc.DB, validation.Min(0)),
		validation.Field(&rc.Prefix, validation.Required),
		validation.Field(&rc.Retention, validation.Min(time.Duration(0))),
	)
}
