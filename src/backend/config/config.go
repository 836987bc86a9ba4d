package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level           string `json:"level"`            // debug, info, warn, error
	Format          string `json:"format"`           // console or json
	LogRequests     bool   `json:"log_requests"`     // Log one line per HTTP request
	LogReplacements bool   `json:"log_replacements"` // Log placeholders assigned per request (never names)
}

// DatabaseConfig holds audit database configuration
type DatabaseConfig struct {
	Driver         string `json:"driver"` // memory, sqlite or postgres
	Path           string `json:"path"`   // SQLite file
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Database       string `json:"database"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	SSLMode        string `json:"ssl_mode"`
	MaxOpenConns   int    `json:"max_open_conns"`
	MaxIdleConns   int    `json:"max_idle_conns"`
	MaxLifetime    int    `json:"max_lifetime"`    // Connection max lifetime in seconds
	RetentionHours int    `json:"retention_hours"` // Audit entries older than this are removed, 0 keeps all
}

// ServerConfig holds HTTP service limits
type ServerConfig struct {
	RateLimitRPS          float64  `json:"rate_limit_rps"` // 0 disables rate limiting
	RateLimitBurst        int      `json:"rate_limit_burst"`
	MaxBodyBytes          int64    `json:"max_body_bytes"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds"`
	CORSOrigins           []string `json:"cors_origins"`
}

// SentryConfig enables error reporting when DSN is set
type SentryConfig struct {
	DSN         string `json:"dsn"`
	Environment string `json:"environment"`
}

// Config holds all configuration for the anonymization service
type Config struct {
	ListenAddr          string         `json:"listen_addr"`
	DetectorName        string         `json:"detector_name"`
	ModelBaseURL        string         `json:"model_base_url"`
	ModelDirectory      string         `json:"model_directory"`
	RulesPath           string         `json:"rules_path"`           // empty uses the built-in rules
	WindowSize          int            `json:"window_size"`          // 0 uses the rules file value
	FallbackPlaceholder string         `json:"fallback_placeholder"` // empty uses the rules file value
	Database            DatabaseConfig `json:"database"`
	Server              ServerConfig   `json:"server"`
	Sentry              SentryConfig   `json:"sentry"`
	Logging             LoggingConfig  `json:"logging"`
}

var knownDetectors = []string{"prose_detector", "onnx_model_detector", "model_detector", "regex_detector"}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8080",
		DetectorName:   "prose_detector",
		ModelBaseURL:   "http://localhost:8000",
		ModelDirectory: "model/quantized",
		Database: DatabaseConfig{
			Driver:         "memory",
			Path:           "rolemask.db",
			Host:           "localhost",
			Port:           5432,
			Database:       "rolemask",
			Username:       "postgres",
			Password:       "",
			SSLMode:        "disable",
			MaxOpenConns:   25,
			MaxIdleConns:   25,
			MaxLifetime:    300,
			RetentionHours: 24 * 30,
		},
		Server: ServerConfig{
			RateLimitRPS:          20,
			RateLimitBurst:        40,
			MaxBodyBytes:          1 << 20,
			RequestTimeoutSeconds: 30,
			CORSOrigins:           []string{"*"},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "console",
			LogRequests: true,
		},
	}
}

// MaxLifetimeDuration returns the connection max lifetime as a duration
func (dc DatabaseConfig) MaxLifetimeDuration() time.Duration {
	return time.Duration(dc.MaxLifetime) * time.Second
}

// RequestTimeout returns the recognizer deadline per request
func (sc ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(sc.RequestTimeoutSeconds) * time.Second
}

// LoadFromFile overlays a JSON config file on cfg
func LoadFromFile(path string, cfg *Config) error {
	// #nosec G304 - Config file path is controlled by the operator
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv reads .env (when present) into the process environment and then
// applies environment overrides to cfg. Variables already set in the
// environment take precedence over .env.
func LoadEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return ApplyEnv(cfg)
}

// ApplyEnv overrides cfg from environment variables
func ApplyEnv(cfg *Config) error {
	var errs []string
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not an integer (current value: %s)", key, v))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not a boolean (current value: %s)", key, v))
				return
			}
			*dst = b
		}
	}

	setString("LISTEN_ADDR", &cfg.ListenAddr)
	setString("DETECTOR_NAME", &cfg.DetectorName)
	setString("MODEL_BASE_URL", &cfg.ModelBaseURL)
	setString("MODEL_DIRECTORY", &cfg.ModelDirectory)
	setString("RULES_PATH", &cfg.RulesPath)
	setInt("ROLE_WINDOW_SIZE", &cfg.WindowSize)
	setString("FALLBACK_PLACEHOLDER", &cfg.FallbackPlaceholder)

	setString("DB_DRIVER", &cfg.Database.Driver)
	setString("DB_PATH", &cfg.Database.Path)
	setString("DB_HOST", &cfg.Database.Host)
	setInt("DB_PORT", &cfg.Database.Port)
	setString("DB_NAME", &cfg.Database.Database)
	setString("DB_USER", &cfg.Database.Username)
	setString("DB_PASSWORD", &cfg.Database.Password)
	setString("DB_SSL_MODE", &cfg.Database.SSLMode)
	setInt("DB_RETENTION_HOURS", &cfg.Database.RetentionHours)

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("RATE_LIMIT_RPS: not a number (current value: %s)", v))
		} else {
			cfg.Server.RateLimitRPS = rps
		}
	}
	setInt("RATE_LIMIT_BURST", &cfg.Server.RateLimitBurst)
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("MAX_BODY_BYTES: not an integer (current value: %s)", v))
		} else {
			cfg.Server.MaxBodyBytes = n
		}
	}
	setInt("REQUEST_TIMEOUT_SECONDS", &cfg.Server.RequestTimeoutSeconds)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}

	setString("SENTRY_DSN", &cfg.Sentry.DSN)
	setString("SENTRY_ENVIRONMENT", &cfg.Sentry.Environment)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	setBool("LOG_REQUESTS", &cfg.Logging.LogRequests)
	setBool("LOG_REPLACEMENTS", &cfg.Logging.LogReplacements)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs []string

	if err := validatePort(c.ListenAddr, "ListenAddr"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDetector(c); err != nil {
		errs = append(errs, err.Error())
	}
	if c.WindowSize < 0 {
		errs = append(errs, fmt.Sprintf("WindowSize: must not be negative (current value: %d)", c.WindowSize))
	}

	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("Database.Port: port must be between 1 and 65535 (current value: %d)", c.Database.Port))
		}
	default:
		errs = append(errs, fmt.Sprintf("Database.Driver: must be one of memory, sqlite, postgres (current value: %s)", c.Database.Driver))
	}

	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, fmt.Sprintf("Server.RateLimitRPS: must not be negative (current value: %g)", c.Server.RateLimitRPS))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Sprintf("Server.MaxBodyBytes: must be positive (current value: %d)", c.Server.MaxBodyBytes))
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("Server.RequestTimeoutSeconds: must be positive (current value: %d)", c.Server.RequestTimeoutSeconds))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateDetector(c *Config) error {
	known := false
	for _, name := range knownDetectors {
		if c.DetectorName == name {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("DetectorName: must be one of %s (current value: %s)", strings.Join(knownDetectors, ", "), c.DetectorName)
	}
	if c.DetectorName == "model_detector" && c.ModelBaseURL == "" {
		return fmt.Errorf("ModelBaseURL: required for model_detector")
	}
	if c.DetectorName == "onnx_model_detector" && c.ModelDirectory == "" {
		return fmt.Errorf("ModelDirectory: required for onnx_model_detector")
	}
	return nil
}

// validatePort checks a listen address of the form [HOST]:PORT
func validatePort(addr, fieldName string) error {
	if addr == "" {
		return fmt.Errorf("%s: port cannot be empty", fieldName)
	}

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s: port must be in format '[HOST]:PORT' where PORT is numeric (current value: %s)", fieldName, addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%s: port must be in format '[HOST]:PORT' where PORT is numeric (current value: %s)", fieldName, addr)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: port must be between 1 and 65535 (current value: %d)", fieldName, port)
	}
	return nil
}
