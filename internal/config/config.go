package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the mail sync service reads from the environment.
type Config struct {
	Environment      string
	LogLevel         string
	EncryptionSecret string
	DBHost           string
	DBPort           string
	DBUsername       string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	DBMaxConns       int
	Port             string
	Timezone         string

	// Shared relay identity used for free-mode delivery.
	SharedSMTPHost     string
	SharedSMTPPort     int
	SharedSMTPUsername string
	SharedSMTPPassword string
	SharedFromAddress  string

	// Mailbox connection tuning.
	KeepaliveInterval time.Duration
	IdleRestart       time.Duration
	ReconnectDelay    time.Duration
	StartStagger      time.Duration
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration

	SyncLookbackDays      int
	RelevanceLookbackDays int
	BulkSendPerSecond     float64
	EntitlementTimeout    time.Duration

	// InsecureTransport disables TLS towards mail servers. Only the dev server and tests set it.
	InsecureTransport bool
}

// NewConfig loads the configuration, reading a .env file first in development.
func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:      env,
		LogLevel:         getEnvOrDefault("MAILSYNC_LOG_LEVEL", "info"),
		EncryptionSecret: os.Getenv("MAILSYNC_ENCRYPTION_SECRET"),
		DBHost:           getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:           getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:       getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:       os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:           getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:        getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		DBMaxConns:       getEnvIntOrDefault("MAILSYNC_DB_MAX_CONNS", 25),
		Port:             getEnvOrDefault("PORT", "8080"),
		Timezone:         getEnvOrDefault("TZ", "UTC"),

		SharedSMTPHost:     os.Getenv("MAILSYNC_SHARED_SMTP_HOST"),
		SharedSMTPPort:     getEnvIntOrDefault("MAILSYNC_SHARED_SMTP_PORT", 587),
		SharedSMTPUsername: os.Getenv("MAILSYNC_SHARED_SMTP_USER"),
		SharedSMTPPassword: os.Getenv("MAILSYNC_SHARED_SMTP_PASSWORD"),
		SharedFromAddress:  os.Getenv("MAILSYNC_SHARED_FROM_ADDRESS"),

		KeepaliveInterval: getEnvDurationOrDefault("MAILSYNC_KEEPALIVE_INTERVAL", 10*time.Second),
		IdleRestart:       getEnvDurationOrDefault("MAILSYNC_IDLE_RESTART", 5*time.Minute),
		ReconnectDelay:    getEnvDurationOrDefault("MAILSYNC_RECONNECT_DELAY", 30*time.Second),
		StartStagger:      getEnvDurationOrDefault("MAILSYNC_START_STAGGER", 2*time.Second),
		ConnectTimeout:    getEnvDurationOrDefault("MAILSYNC_CONNECT_TIMEOUT", 15*time.Second),
		CommandTimeout:    getEnvDurationOrDefault("MAILSYNC_COMMAND_TIMEOUT", time.Minute),

		SyncLookbackDays:      getEnvIntOrDefault("MAILSYNC_SYNC_LOOKBACK_DAYS", 7),
		RelevanceLookbackDays: getEnvIntOrDefault("MAILSYNC_RELEVANCE_LOOKBACK_DAYS", 365),
		BulkSendPerSecond:     getEnvFloatOrDefault("MAILSYNC_BULK_SEND_PER_SECOND", 2),
		EntitlementTimeout:    getEnvDurationOrDefault("MAILSYNC_ENTITLEMENT_TIMEOUT", 3*time.Second),

		InsecureTransport: os.Getenv("MAILSYNC_INSECURE_TRANSPORT") == "true",
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports the first missing or out-of-range setting.
func (c *Config) Validate() error {
	if c.EncryptionSecret == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_SECRET is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if c.SharedSMTPHost == "" || c.SharedFromAddress == "" {
		return fmt.Errorf("MAILSYNC_SHARED_SMTP_HOST and MAILSYNC_SHARED_FROM_ADDRESS are required")
	}

	if c.RelevanceLookbackDays < 0 {
		return fmt.Errorf("MAILSYNC_RELEVANCE_LOOKBACK_DAYS must not be negative, got %d", c.RelevanceLookbackDays)
	}

	if c.SyncLookbackDays <= 0 {
		return fmt.Errorf("MAILSYNC_SYNC_LOOKBACK_DAYS must be positive, got %d", c.SyncLookbackDays)
	}

	if c.BulkSendPerSecond <= 0 {
		return fmt.Errorf("MAILSYNC_BULK_SEND_PER_SECOND must be positive, got %v", c.BulkSendPerSecond)
	}

	return nil
}

// GetDatabaseURL returns the Postgres connection URL with credentials escaped.
func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// RelevanceLookback converts RelevanceLookbackDays to a duration. Zero means unbounded.
func (c *Config) RelevanceLookback() time.Duration {
	return time.Duration(c.RelevanceLookbackDays) * 24 * time.Hour
}

// SyncLookback converts SyncLookbackDays to a duration.
func (c *Config) SyncLookback() time.Duration {
	return time.Duration(c.SyncLookbackDays) * 24 * time.Hour
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %d\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %v\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		fmt.Printf("Warning: invalid %s=%q, using default %s\n", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
