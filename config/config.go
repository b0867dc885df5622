// Package config loads the notification engine configuration from
// configs/config.yaml, an optional .env file and NOTIFY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// EnvPrefix prefixes every environment override: dispatcher.max_retries is
// read from NOTIFY_DISPATCHER_MAX_RETRIES.
const EnvPrefix = "NOTIFY"

// Config holds all application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	AWS           AWSConfig           `mapstructure:"aws"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Triggers      TriggersConfig      `mapstructure:"triggers"`
	Preferences   PreferencesConfig   `mapstructure:"preferences"`
	Observability ObservabilityConfig `mapstructure:"observability"`

	// Features is built from the features.* keys after unmarshalling.
	Features *FeatureFlags `mapstructure:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `mapstructure:"name"`
	Environment Environment `mapstructure:"environment"`
	Version     string      `mapstructure:"version"`

	// InstanceID identifies this process on the Redis event bus and in job locks.
	// Empty means a random id per start.
	InstanceID string `mapstructure:"instance_id"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
// An empty URL runs the engine on in-memory repositories (development only).
type DatabaseConfig struct {
	URL               string        `mapstructure:"url"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`

	// Migrate applies the embedded schema on start.
	Migrate bool `mapstructure:"migrate"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Disabled runs without the preference cache, rate-limit counter,
	// job locks and the cross-instance event bus.
	Disabled bool `mapstructure:"disabled"`

	URL          string        `mapstructure:"url"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	EventChannel     string `mapstructure:"event_channel"`
	DeadLetterKey    string `mapstructure:"dead_letter_key"`
	DeadLetterMaxLen int64  `mapstructure:"dead_letter_max_len"`
}

// KafkaConfig holds the dead-letter producer settings.
type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
	ClientID        string   `mapstructure:"client_id"`
}

// AWSConfig holds SES (email) and SNS (SMS) settings.
type AWSConfig struct {
	Region              string `mapstructure:"region"`
	SESFromAddress      string `mapstructure:"ses_from_address"`
	SESConfigurationSet string `mapstructure:"ses_configuration_set"`
	SNSSenderID         string `mapstructure:"sns_sender_id"`

	// Provider send quotas in messages per second. Zero disables pacing.
	SESMaxSendRate float64 `mapstructure:"ses_max_send_rate"`
	SNSMaxSendRate float64 `mapstructure:"sns_max_send_rate"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	SSEKeepAlive    time.Duration `mapstructure:"sse_keep_alive"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DispatcherConfig holds delivery retry settings.
type DispatcherConfig struct {
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelayBase       time.Duration `mapstructure:"retry_delay_base"`
	MaxRetryDelay        time.Duration `mapstructure:"max_retry_delay"`
	ChannelTimeout       time.Duration `mapstructure:"channel_timeout"`
	FailWhenAllExhausted bool          `mapstructure:"fail_when_all_exhausted"`
	WorkerPoolSize       int           `mapstructure:"worker_pool_size"`
	DeadLetterQueueSize  int           `mapstructure:"dead_letter_queue_size"`

	Breaker BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds per-sender circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Timezone     string        `mapstructure:"timezone"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`

	DispatchPendingInterval time.Duration `mapstructure:"dispatch_pending_interval"`
	DispatchPendingBatch    int           `mapstructure:"dispatch_pending_batch"`
	DispatchPendingMinAge   time.Duration `mapstructure:"dispatch_pending_min_age"`
	ExpireInterval          time.Duration `mapstructure:"expire_interval"`
	PurgeCron               string        `mapstructure:"purge_cron"`
	RetentionDays           int           `mapstructure:"retention_days"`
}

// TriggersConfig holds settings of the trigger event handler.
type TriggersConfig struct {
	ReminderTTL    time.Duration `mapstructure:"reminder_ttl"`
	MilestoneTTL   time.Duration `mapstructure:"milestone_ttl"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	BusWorkers     int           `mapstructure:"bus_workers"`
}

// PreferencesConfig holds preference lookup settings.
type PreferencesConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// Load reads configuration. The file is NOTIFY_CONFIG_FILE when set, otherwise
// config.yaml from ./configs or the working directory; a missing file is not an
// error. Values from .env are exported before environment overrides apply.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Features = LoadFeatureFlags(v)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key, which also makes each one overridable
// from the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "notification-engine")
	v.SetDefault("app.environment", string(EnvDevelopment))
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.instance_id", "")
	v.SetDefault("app.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)
	v.SetDefault("database.health_check_period", time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.disabled", false)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.event_channel", "notify:events")
	v.SetDefault("redis.dead_letter_key", "notify:deadletters")
	v.SetDefault("redis.dead_letter_max_len", 10000)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.dead_letter_topic", "notifications.deadletter")
	v.SetDefault("kafka.client_id", "notification-engine")

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.ses_from_address", "")
	v.SetDefault("aws.ses_configuration_set", "")
	v.SetDefault("aws.sns_sender_id", "")
	v.SetDefault("aws.ses_max_send_rate", 14.0)
	v.SetDefault("aws.sns_max_send_rate", 20.0)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", time.Duration(0))
	v.SetDefault("http.idle_timeout", 2*time.Minute)
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.sse_keep_alive", 25*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("dispatcher.max_retries", 3)
	v.SetDefault("dispatcher.retry_delay_base", time.Second)
	v.SetDefault("dispatcher.max_retry_delay", time.Minute)
	v.SetDefault("dispatcher.channel_timeout", 10*time.Second)
	v.SetDefault("dispatcher.fail_when_all_exhausted", true)
	v.SetDefault("dispatcher.worker_pool_size", 32)
	v.SetDefault("dispatcher.dead_letter_queue_size", 1000)
	v.SetDefault("dispatcher.breaker.failure_threshold", 5)
	v.SetDefault("dispatcher.breaker.success_threshold", 2)
	v.SetDefault("dispatcher.breaker.timeout", 30*time.Second)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.lock_ttl", 5*time.Minute)
	v.SetDefault("scheduler.dispatch_pending_interval", 30*time.Second)
	v.SetDefault("scheduler.dispatch_pending_batch", 200)
	v.SetDefault("scheduler.dispatch_pending_min_age", time.Minute)
	v.SetDefault("scheduler.expire_interval", time.Minute)
	v.SetDefault("scheduler.purge_cron", "30 3 * * *")
	v.SetDefault("scheduler.retention_days", 30)

	v.SetDefault("triggers.reminder_ttl", 24*time.Hour)
	v.SetDefault("triggers.milestone_ttl", 7*24*time.Hour)
	v.SetDefault("triggers.handler_timeout", 10*time.Second)
	v.SetDefault("triggers.bus_workers", 10)

	v.SetDefault("preferences.cache_ttl", 30*time.Second)

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.metrics_enabled", true)

	for name, f := range defaultFeatures() {
		v.SetDefault(featureKey(name), f.RolloutPercent)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("app.environment %q is not one of development, staging, production", c.App.Environment))
	}
	if c.IsProduction() && c.Database.URL == "" {
		errs = append(errs, "database.url is required in production")
	}
	if c.IsProduction() && c.Redis.Disabled {
		errs = append(errs, "redis cannot be disabled in production")
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, "http.addr is required")
	}

	if c.Dispatcher.MaxRetries < 0 {
		errs = append(errs, "dispatcher.max_retries must not be negative")
	}
	if c.Dispatcher.RetryDelayBase <= 0 {
		errs = append(errs, "dispatcher.retry_delay_base must be positive")
	}
	if c.Dispatcher.WorkerPoolSize <= 0 {
		errs = append(errs, "dispatcher.worker_pool_size must be positive")
	}

	if c.AWS.SESMaxSendRate < 0 || c.AWS.SNSMaxSendRate < 0 {
		errs = append(errs, "aws send rates must not be negative")
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler.timezone %q: %v", c.Scheduler.Timezone, err))
	}
	if c.Scheduler.RetentionDays <= 0 {
		errs = append(errs, "scheduler.retention_days must be positive")
	}

	if c.Preferences.CacheTTL < 0 {
		errs = append(errs, "preferences.cache_ttl must not be negative")
	}

	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level %q is not one of debug, info, warn, error", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not one of json, console", c.Observability.LogFormat))
	}

	if c.Features != nil {
		if c.Features.IsEnabled(FeatureDeadLetterKafka, "") && len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka.brokers is required when deadletter.kafka is enabled")
		}
		if c.Features.IsEnabled(FeatureChannelEmail, "") && c.AWS.SESFromAddress == "" {
			errs = append(errs, "aws.ses_from_address is required when channel.email is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// Location returns the scheduler timezone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
