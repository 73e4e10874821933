// Package config provides configuration loading for the TenderHQ core API.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// Production reports whether cookies must carry the Secure flag.
func (c ServerConfig) Production() bool {
	return c.Environment == "prod"
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds authentication configuration. HMAC keys are versioned so
// rotation is adding a new version and retiring old ones after a grace
// period.
type AuthConfig struct {
	HMACKeys          map[string]string `mapstructure:"hmac_keys"`
	HMACActiveVersion string            `mapstructure:"hmac_active_version"`
	SessionTTL        time.Duration     `mapstructure:"session_ttl"`
	VisitorTTL        time.Duration     `mapstructure:"visitor_ttl"`
	TimingFloor       time.Duration     `mapstructure:"timing_floor"`
}

// RateLimitConfig holds the per-route fixed-window limits for
// credential-class endpoints and the default for everything else.
type RateLimitConfig struct {
	Window            time.Duration `mapstructure:"window"`
	DefaultPerWindow  int           `mapstructure:"default_per_window"`
	LoginPerWindow    int           `mapstructure:"login_per_window"`
	RegisterPerWindow int           `mapstructure:"register_per_window"`
}

// ApprovalsConfig holds approval sweep configuration.
type ApprovalsConfig struct {
	SweepSchedule string `mapstructure:"sweep_schedule"`
	SweepBatch    int    `mapstructure:"sweep_batch"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/tenderhq")

	// Enable environment variable override
	v.SetEnvPrefix("TENDERHQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Explicitly bind secret-bearing environment variables (nested struct
	// issue with viper)
	v.BindEnv("database.password", "TENDERHQ_DATABASE_PASSWORD")
	v.BindEnv("redis.password", "TENDERHQ_REDIS_PASSWORD")
	v.BindEnv("auth.hmac_active_version", "TENDERHQ_AUTH_HMAC_ACTIVE_VERSION")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Auth.HMACKeys) == 0 {
		return nil, fmt.Errorf("auth.hmac_keys must configure at least one signing key")
	}
	if _, ok := cfg.Auth.HMACKeys[cfg.Auth.HMACActiveVersion]; !ok {
		return nil, fmt.Errorf("auth.hmac_active_version %q has no configured key", cfg.Auth.HMACActiveVersion)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.cors_origins", []string{"http://localhost:*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tenderhq")
	v.SetDefault("database.password", "tenderhq")
	v.SetDefault("database.database", "tenderhq")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.hmac_active_version", "1")
	v.SetDefault("auth.session_ttl", "720h")  // 30 days
	v.SetDefault("auth.visitor_ttl", "8760h") // 1 year
	v.SetDefault("auth.timing_floor", "300ms")

	// Rate limit defaults
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.default_per_window", 120)
	v.SetDefault("rate_limit.login_per_window", 10)
	v.SetDefault("rate_limit.register_per_window", 5)

	// Approval sweep defaults
	v.SetDefault("approvals.sweep_schedule", "@every 1m")
	v.SetDefault("approvals.sweep_batch", 100)
}
