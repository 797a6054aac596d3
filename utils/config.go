package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	PayloadPolicyStub  = "stub"
	PayloadPolicyError = "error"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	Webhook  WebhookConfig
	Database DatabaseConfig
	Server   ServerConfig
	Session  SessionConfig
	Stats    StatsConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// WebhookConfig holds the analysis webhook configuration
type WebhookConfig struct {
	URL                  string
	UserAgent            string
	TimeoutSeconds       int
	MaxRequestsPerMinute int
	PayloadPolicy        string // stub or error
}

// Timeout is the per-analysis deadline; zero disables it
func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// StrictPayload reports whether unusable payloads are surfaced as errors
func (w WebhookConfig) StrictPayload() bool {
	return w.PayloadPolicy == PayloadPolicyError
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port                 int
	MaxRequestsPerMinute int
	CORSOrigin           string
}

// SessionConfig holds session configuration
type SessionConfig struct {
	IdleTTLSeconds int
}

// IdleTTL is how long an untouched session survives
func (s SessionConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLSeconds) * time.Second
}

// StatsConfig holds statistics configuration
type StatsConfig struct {
	RefreshSeconds int
}

// LoadConfig loads configuration from a .env file and the environment.
// A missing .env file is not an error; variables may come from the environment alone.
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		log.WithField("file", envPath).Warn("No .env file found, using environment only")
	}

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "Reddit Trend Analyzer"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Webhook: WebhookConfig{
			URL:                  getEnv("WEBHOOK_URL", ""),
			UserAgent:            getEnv("WEBHOOK_USER_AGENT", "reddit-trend-analyzer/1.0"),
			TimeoutSeconds:       getEnvAsInt("WEBHOOK_TIMEOUT_SECONDS", 60),
			MaxRequestsPerMinute: getEnvAsInt("WEBHOOK_MAX_REQUESTS_PER_MINUTE", 30),
			PayloadPolicy:        strings.ToLower(getEnv("MALFORMED_PAYLOAD_POLICY", PayloadPolicyStub)),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./analyzer.db"),
		},
		Server: ServerConfig{
			Port:                 getEnvAsInt("SERVER_PORT", 8080),
			MaxRequestsPerMinute: getEnvAsInt("SERVER_MAX_REQUESTS_PER_MINUTE", 120),
			CORSOrigin:           getEnv("CORS_ORIGIN", "*"),
		},
		Session: SessionConfig{
			IdleTTLSeconds: getEnvAsInt("SESSION_IDLE_TTL_SECONDS", 1800),
		},
		Stats: StatsConfig{
			RefreshSeconds: getEnvAsInt("STATS_REFRESH_SECONDS", 30),
		},
	}

	// validation
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Webhook.URL == "" {
		return fmt.Errorf("WEBHOOK_URL environment variable is required")
	}
	endpoint, err := url.Parse(config.Webhook.URL)
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return fmt.Errorf("WEBHOOK_URL must be an absolute http(s) URL, got %q", config.Webhook.URL)
	}
	if config.Webhook.TimeoutSeconds < 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT_SECONDS must not be negative")
	}
	if config.Webhook.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("WEBHOOK_MAX_REQUESTS_PER_MINUTE must be positive")
	}
	if config.Webhook.PayloadPolicy != PayloadPolicyStub && config.Webhook.PayloadPolicy != PayloadPolicyError {
		return fmt.Errorf("MALFORMED_PAYLOAD_POLICY must be %q or %q", PayloadPolicyStub, PayloadPolicyError)
	}
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if config.Server.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("SERVER_MAX_REQUESTS_PER_MINUTE must be positive")
	}
	if config.Session.IdleTTLSeconds < 1 {
		return fmt.Errorf("SESSION_IDLE_TTL_SECONDS must be positive")
	}

	// if we are storing the db in a nested directory, create the directory
	dbDir := filepath.Dir(config.Database.Path)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
