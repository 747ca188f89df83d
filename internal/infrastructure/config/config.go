package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Rotation  RotationConfig
	KMS       KMSConfig
	Log       LogConfig
	Event     EventConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// CacheConfig holds cache behavior settings
type CacheConfig struct {
	KeyPrefix     string        // namespace prefix for every cache key
	EntityTTL     time.Duration // TTL for single-entity entries
	ListTTL       time.Duration // TTL for list-query entries; bounds invalidation staleness
	JitterFrac    float64       // fraction of TTL added as random jitter (0.0-1.0)
	PubSubChannel string        // channel for cross-process invalidation fanout
}

// RotationConfig holds key rotation settings
type RotationConfig struct {
	BatchSize         int           // rows re-encrypted per committed batch
	LockTTL           time.Duration // per-tenant rotation lock TTL; refreshed every batch
	RetentionWindow   time.Duration // delay before a DEPRECATED key may be scheduled for deletion
	MaxBatchFailures  int           // consecutive batch failures before the rotation is marked FAILED
	BatchRetryBackoff time.Duration // pause between batch retries
}

// KMSConfig holds key-management service settings
type KMSConfig struct {
	Provider   string // "vault" or "local"
	Address    string // vault server address
	Token      string // vault auth token
	TransitKey string // vault transit key ring name
	LocalSeed  string // master seed for the local provider (dev/test only)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// EventConfig holds outbox processing configuration
type EventConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	CleanupEnabled   bool
	CleanupRetention time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration
	LogsEnabled       bool
	ProfilingEnabled  bool
	PyroscopeAddress  string
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with LEXCORE_ prefix (e.g., LEXCORE_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults plus env vars apply.
	}

	v.SetEnvPrefix("LEXCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Cache: CacheConfig{
			KeyPrefix:     v.GetString("cache.key_prefix"),
			EntityTTL:     v.GetDuration("cache.entity_ttl"),
			ListTTL:       v.GetDuration("cache.list_ttl"),
			JitterFrac:    v.GetFloat64("cache.jitter_frac"),
			PubSubChannel: v.GetString("cache.pubsub_channel"),
		},
		Rotation: RotationConfig{
			BatchSize:         v.GetInt("rotation.batch_size"),
			LockTTL:           v.GetDuration("rotation.lock_ttl"),
			RetentionWindow:   v.GetDuration("rotation.retention_window"),
			MaxBatchFailures:  v.GetInt("rotation.max_batch_failures"),
			BatchRetryBackoff: v.GetDuration("rotation.batch_retry_backoff"),
		},
		KMS: KMSConfig{
			Provider:   v.GetString("kms.provider"),
			Address:    v.GetString("kms.address"),
			Token:      v.GetString("kms.token"),
			TransitKey: v.GetString("kms.transit_key"),
			LocalSeed:  v.GetString("kms.local_seed"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Event: EventConfig{
			ProcessorEnabled: v.GetBool("event.processor_enabled"),
			BatchSize:        v.GetInt("event.batch_size"),
			PollInterval:     v.GetDuration("event.poll_interval"),
			MaxRetries:       v.GetInt("event.max_retries"),
			CleanupEnabled:   v.GetBool("event.cleanup_enabled"),
			CleanupRetention: v.GetDuration("event.cleanup_retention"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeAddress:  v.GetString("telemetry.pyroscope_address"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "lexcore"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "lexcore"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "lexcore"
	}
	if cfg.Cache.EntityTTL == 0 {
		cfg.Cache.EntityTTL = 15 * time.Minute
	}
	if cfg.Cache.ListTTL == 0 {
		// List entries stay short-lived: the TTL bounds how stale a list can
		// be when an invalidation is lost.
		cfg.Cache.ListTTL = 2 * time.Minute
	}
	if cfg.Cache.JitterFrac == 0 {
		cfg.Cache.JitterFrac = 0.1
	}
	if cfg.Cache.PubSubChannel == "" {
		cfg.Cache.PubSubChannel = "lexcore:cache:invalidation"
	}
	if cfg.Rotation.BatchSize == 0 {
		cfg.Rotation.BatchSize = 500
	}
	if cfg.Rotation.LockTTL == 0 {
		cfg.Rotation.LockTTL = 5 * time.Minute
	}
	if cfg.Rotation.RetentionWindow == 0 {
		cfg.Rotation.RetentionWindow = 30 * 24 * time.Hour
	}
	if cfg.Rotation.MaxBatchFailures == 0 {
		cfg.Rotation.MaxBatchFailures = 3
	}
	if cfg.Rotation.BatchRetryBackoff == 0 {
		cfg.Rotation.BatchRetryBackoff = 2 * time.Second
	}
	if cfg.KMS.Provider == "" {
		cfg.KMS.Provider = "local"
	}
	if cfg.KMS.TransitKey == "" {
		cfg.KMS.TransitKey = "lexcore-tenant-keys"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Event.BatchSize == 0 {
		cfg.Event.BatchSize = 100
	}
	if cfg.Event.PollInterval == 0 {
		cfg.Event.PollInterval = 5 * time.Second
	}
	if cfg.Event.MaxRetries == 0 {
		cfg.Event.MaxRetries = 5
	}
	if cfg.Event.CleanupRetention == 0 {
		cfg.Event.CleanupRetention = 168 * time.Hour
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "lexcore"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.PyroscopeAddress == "" {
		cfg.Telemetry.PyroscopeAddress = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Cache.JitterFrac < 0 || c.Cache.JitterFrac > 1 {
		return fmt.Errorf("cache.jitter_frac must be between 0.0 and 1.0, got %f", c.Cache.JitterFrac)
	}
	if c.Rotation.BatchSize < 1 {
		return fmt.Errorf("rotation.batch_size must be positive")
	}

	switch c.KMS.Provider {
	case "local", "vault":
	default:
		return fmt.Errorf("kms.provider must be 'local' or 'vault', got %q", c.KMS.Provider)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.KMS.Provider == "local" {
			return fmt.Errorf("kms.provider 'local' is not allowed in production")
		}
		if c.KMS.Provider == "vault" && c.KMS.Token == "" {
			return fmt.Errorf("kms.token is required when kms.provider is 'vault'")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
