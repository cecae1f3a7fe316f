package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	Redis       RedisConfig
	Logger      LoggerConfig
	Order       OrderConfig
	MercadoPago MercadoPagoConfig
	Andreani    AndreaniConfig
	SMTP        SMTPConfig
	S3          S3Config
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime int // seconds
}

// AuthConfig holds API authentication configuration for admin routes.
type AuthConfig struct {
	APIKey string
}

// RedisConfig holds the idempotency/broadcast store configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// DedupTTL bounds the webhook seen-store fast path. Replays after
	// expiry fall through to the transition guards.
	DedupTTL time.Duration
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level  string
	Format string // "json" or "console"
}

// OrderConfig holds order lifecycle knobs.
type OrderConfig struct {
	// ExpirationHours cancels unpaid pending orders older than this.
	ExpirationHours int
	// ReminderHours sends a still-pending reminder after this long.
	ReminderHours int
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
	// CartTTL expires anonymous session carts.
	CartTTL time.Duration
	// TaxRatePercent is the tax rate applied at checkout, e.g. "21".
	TaxRatePercent string
}

// MercadoPagoConfig holds payment gateway configuration.
type MercadoPagoConfig struct {
	AccessToken     string
	BaseURL         string
	Sandbox         bool
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	NotificationURL string
	Timeout         time.Duration
	MaxRetries      int
}

// AndreaniConfig holds shipping carrier configuration.
type AndreaniConfig struct {
	APIKey   string
	BaseURL  string
	ClientID string
	Timeout  time.Duration
}

// SMTPConfig holds outbound mail configuration. Empty host disables mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// S3Config holds AWS S3 configuration for bulk coupon import files.
type S3Config struct {
	Enabled bool
	Bucket  string
	Region  string
	Prefix  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "tienda"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MinConnections:  getEnvAsInt("DB_MIN_CONNECTIONS", 5),
			MaxConnLifetime: getEnvAsInt("DB_MAX_CONN_LIFETIME", 300),
		},
		Auth: AuthConfig{
			APIKey: getEnv("API_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			DedupTTL: getEnvAsDuration("WEBHOOK_DEDUP_TTL", 48*time.Hour),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Order: OrderConfig{
			ExpirationHours: getEnvAsInt("PENDING_PAYMENT_EXPIRATION_HOURS", 24),
			ReminderHours:   getEnvAsInt("PENDING_PAYMENT_REMINDER_HOURS", 12),
			SweepInterval:   getEnvAsDuration("ORDER_SWEEP_INTERVAL", 5*time.Minute),
			CartTTL:         getEnvAsDuration("CART_TTL", 7*24*time.Hour),
			TaxRatePercent:  getEnv("TAX_RATE_PERCENT", "21"),
		},
		MercadoPago: MercadoPagoConfig{
			AccessToken:     getEnv("MP_ACCESS_TOKEN", ""),
			BaseURL:         getEnv("MP_BASE_URL", "https://api.mercadopago.com"),
			Sandbox:         getEnvAsBool("MP_SANDBOX", true),
			SuccessURL:      getEnv("MP_SUCCESS_URL", ""),
			FailureURL:      getEnv("MP_FAILURE_URL", ""),
			PendingURL:      getEnv("MP_PENDING_URL", ""),
			NotificationURL: getEnv("MP_NOTIFICATION_URL", ""),
			Timeout:         getEnvAsDuration("MP_TIMEOUT", 10*time.Second),
			MaxRetries:      getEnvAsInt("MP_MAX_RETRIES", 3),
		},
		Andreani: AndreaniConfig{
			APIKey:   getEnv("ANDREANI_API_KEY", ""),
			BaseURL:  getEnv("ANDREANI_BASE_URL", "https://apis.andreani.com"),
			ClientID: getEnv("ANDREANI_CLIENT_ID", ""),
			Timeout:  getEnvAsDuration("ANDREANI_TIMEOUT", 15*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@tienda.local"),
		},
		S3: S3Config{
			Enabled: getEnvAsBool("S3_ENABLED", false),
			Bucket:  getEnv("S3_BUCKET", ""),
			Region:  getEnv("S3_REGION", "us-east-1"),
			Prefix:  getEnv("S3_PREFIX", "coupons/"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}

	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Database.MinConnections < 1 || c.Database.MaxConnections < 1 {
		return fmt.Errorf("database connection limits must be at least 1")
	}

	if c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database min connections cannot exceed max connections")
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("API key is required")
	}

	if c.Order.ExpirationHours < 1 {
		return fmt.Errorf("pending payment expiration must be at least 1 hour")
	}

	if c.Order.ReminderHours < 1 {
		return fmt.Errorf("pending payment reminder must be at least 1 hour")
	}

	if c.Order.ReminderHours >= c.Order.ExpirationHours {
		return fmt.Errorf("reminder hours (%d) must come before expiration hours (%d)",
			c.Order.ReminderHours, c.Order.ExpirationHours)
	}

	if c.Order.SweepInterval < time.Second {
		return fmt.Errorf("sweep interval too small: %s", c.Order.SweepInterval)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logger.Format)
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when S3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("S3 region is required when S3 is enabled")
		}
	}

	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address returns the server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
