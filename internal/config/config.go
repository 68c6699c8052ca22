// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"120s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 120s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"120s"`

	// MaxUploadSize is the largest accepted file in bytes (default: 100MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"104857600"`

	// CORSOrigins is a comma-separated list of allowed origins
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL selects the store: postgres://... or sqlite://path
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" default:"sqlite://resolver.db"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Driver returns "postgres" or "sqlite" and the driver-specific DSN.
func (c DatabaseConfig) Driver() (driver, dsn string) {
	switch {
	case strings.HasPrefix(c.URL, "postgres://"), strings.HasPrefix(c.URL, "postgresql://"):
		return "postgres", c.URL
	case strings.HasPrefix(c.URL, "sqlite://"):
		return "sqlite", strings.TrimPrefix(c.URL, "sqlite://")
	default:
		return "", c.URL
	}
}

// RedisConfig holds the optional Redis connection used for tenant locks.
type RedisConfig struct {
	// URL enables the distributed lock when set, e.g. redis://localhost:6379/0
	URL string `env:"REDIS_URL"`
}

// ImportConfig holds analysis, preview and staging settings.
type ImportConfig struct {
	// ExactCountThreshold is the file size below which rows are counted exactly (default: 1MiB)
	ExactCountThreshold int64 `env:"IMPORT_EXACT_COUNT_THRESHOLD" default:"1048576"`

	// SampleSize is how many rows a preview processes (default: 1000)
	SampleSize int `env:"IMPORT_SAMPLE_SIZE" default:"1000"`

	// EstimateSampleRows is how many lines feed a row estimate (default: 100)
	EstimateSampleRows int `env:"IMPORT_ESTIMATE_SAMPLE_ROWS" default:"100"`

	// HeaderOffset is the number of lines before the header row (default: 0)
	HeaderOffset int `env:"IMPORT_HEADER_OFFSET" default:"0"`

	// DecimalSeparator is "." or "," (default: ".")
	DecimalSeparator string `env:"IMPORT_DECIMAL_SEPARATOR" default:"."`

	FilterPublicDomains bool   `env:"IMPORT_FILTER_PUBLIC_DOMAINS" default:"true"`
	PublicDomainsFile   string `env:"IMPORT_PUBLIC_DOMAINS_FILE"`

	// MaxConcurrent bounds simultaneous previews and analyses (default: 4)
	MaxConcurrent int           `env:"IMPORT_MAX_CONCURRENT" default:"4"`
	MaxWaitTime   time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// LockTTL bounds how long a crashed import keeps its tenant locked (default: 10m)
	LockTTL time.Duration `env:"IMPORT_LOCK_TTL" default:"10m"`

	// StageBatchSize is the number of rows inserted per store call (default: 500)
	StageBatchSize int `env:"IMPORT_STAGE_BATCH_SIZE" default:"500"`

	// UploadDir holds uploaded files until their import is deleted
	UploadDir string `env:"IMPORT_UPLOAD_DIR" default:"uploads"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key
	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
