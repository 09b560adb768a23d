package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DevJWTSecret signs tokens when the memory backend runs without JWT_SECRET.
const DevJWTSecret = "dev-only-insecure-secret"

type Config struct {
	// HTTP Server
	Port        string
	CORSOrigins []string

	// CIDRs beyond loopback and private ranges whose forwarded client
	// address headers are honoured.
	TrustedProxies []string

	// Backend selection
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// Auth
	JWTSecret     string
	TokenTTL      time.Duration
	AuthRateLimit int

	// Reports
	ReportCacheSize int
	ReportCacheTTL  time.Duration

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging
	LogLevel  string
	LogFormat string

	fileErr error
}

// fileConfig is the optional YAML file named by CONFIG_FILE. Its values sit
// below the environment: a variable that is set always wins.
type fileConfig struct {
	Port           string   `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	Backend     struct {
		Type        string `yaml:"type"`
		SQLitePath  string `yaml:"sqlite_path"`
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"backend"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
		RateLimit int    `yaml:"rate_limit"`
	} `yaml:"auth"`
	Reports struct {
		CacheSize int    `yaml:"cache_size"`
		CacheTTL  string `yaml:"cache_ttl"`
	} `yaml:"reports"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
		Queue    string `yaml:"queue"`
	} `yaml:"amqp"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Load() *Config {
	var fc fileConfig
	var fileErr error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fc, fileErr = readFile(path)
	}

	cfg := &Config{
		Port:        getEnv("PORT", or(fc.Port, "8081")),
		CORSOrigins: getEnvList("CORS_ORIGINS", orList(fc.CORSOrigins, []string{"*"})),

		TrustedProxies: getEnvList("TRUSTED_PROXIES", fc.TrustedProxies),

		DataBackend:  getEnv("DATA_BACKEND", or(fc.Backend.Type, "sqlite")),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", or(fc.Backend.SQLitePath, "./data/expenses.db")),
		DatabaseURL:  getEnv("DATABASE_URL", fc.Backend.DatabaseURL),

		JWTSecret:     getEnv("JWT_SECRET", fc.Auth.JWTSecret),
		TokenTTL:      getEnvDuration("TOKEN_TTL", parseDuration(fc.Auth.TokenTTL, 7*24*time.Hour)),
		AuthRateLimit: getEnvInt("AUTH_RATE_LIMIT", orInt(fc.Auth.RateLimit, 20)),

		ReportCacheSize: getEnvInt("REPORT_CACHE_SIZE", orInt(fc.Reports.CacheSize, 500)),
		ReportCacheTTL:  getEnvDuration("REPORT_CACHE_TTL", parseDuration(fc.Reports.CacheTTL, 5*time.Minute)),

		AMQPURL:      getEnv("AMQP_URL", fc.AMQP.URL),
		AMQPExchange: getEnv("AMQP_EXCHANGE", or(fc.AMQP.Exchange, "expenses")),
		AMQPQueue:    getEnv("AMQP_QUEUE", or(fc.AMQP.Queue, "expense_events")),

		LogLevel:  getEnv("LOG_LEVEL", or(fc.Log.Level, "info")),
		LogFormat: getEnv("LOG_FORMAT", or(fc.Log.Format, "text")),

		fileErr: fileErr,
	}

	if cfg.JWTSecret == "" && cfg.DataBackend == "memory" {
		cfg.JWTSecret = DevJWTSecret
	}

	return cfg
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.fileErr != nil {
		errors = append(errors, c.fileErr.Error())
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite", "postgres"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
	}

	if c.DataBackend == "postgres" {
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	// The signing secret is only optional for the throwaway memory backend
	if c.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if c.DataBackend != "memory" && c.JWTSecret == DevJWTSecret {
		errors = append(errors, "JWT_SECRET must not use the development secret outside the memory backend")
	}

	if c.TokenTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid token TTL %v: must be at least 1 minute", c.TokenTTL))
	}

	if c.AuthRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid auth rate limit %d: must be at least 1", c.AuthRateLimit))
	}

	if c.ReportCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid report cache size %d: must be at least 1", c.ReportCacheSize))
	}
	if c.ReportCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid report cache TTL %v: must be at least 1 second", c.ReportCacheTTL))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func orInt(value, fallback int) int {
	if value != 0 {
		return value
	}
	return fallback
}

func orList(value, fallback []string) []string {
	if len(value) > 0 {
		return value
	}
	return fallback
}
