/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	TLS     TLSConfig      `yaml:"tls"`
	Storage StorageConfig  `yaml:"storage"`
	Schema  SchemaConfig   `yaml:"schema"`
	Upload  UploadConfig   `yaml:"upload"`
	Logging LoggingConfig  `yaml:"logging"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`
}

// StorageConfig selects the metadata repository
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "database"
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver           string `yaml:"driver"` // "postgres" or "sqlite"
	ConnectionString string `yaml:"connection_string"`
	MaxConnections   int    `yaml:"max_connections"`
	MaxIdleTime      int    `yaml:"max_idle_time"` // seconds
	AutoMigrate      bool   `yaml:"auto_migrate"`
}

// MaxConflictRetries bounds schema.conflict_retries
const MaxConflictRetries = 100

// SchemaConfig holds the storage engine settings
type SchemaConfig struct {
	StorageRoot     string        `yaml:"storage_root"`
	Deduplicate     bool          `yaml:"deduplicate"`
	ConflictRetries int           `yaml:"conflict_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	ImportTimeout   time.Duration `yaml:"import_timeout"`
}

// UploadConfig holds upload request limits
type UploadConfig struct {
	MaxSize              int64 `yaml:"max_size"`
	RequireOpenAPIFields bool  `yaml:"require_openapi_fields"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" or "text"
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Load loads configuration from an optional YAML file and environment variables.
// Environment variables take precedence over YAML file values.
func Load(configFile string) (*Config, error) {
	// Start with default configuration
	cfg := Default()

	if err := loadFromYAML(cfg, configFile); err != nil {
		return nil, fmt.Errorf("failed to load YAML config: %w", err)
	}

	// Override with environment variables
	loadFromEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		TLS: TLSConfig{
			Enabled:    false,
			MinVersion: "1.3",
		},
		Storage: StorageConfig{
			Type: "database",
			Database: DatabaseConfig{
				Driver:           "sqlite",
				ConnectionString: "./data/schemavault.db",
				MaxConnections:   0,
				MaxIdleTime:      300,
				AutoMigrate:      true,
			},
		},
		Schema: SchemaConfig{
			StorageRoot:     "./data/schemas",
			Deduplicate:     true,
			ConflictRetries: 3,
			RetryDelay:      50 * time.Millisecond,
			ImportTimeout:   30 * time.Second,
		},
		Upload: UploadConfig{
			MaxSize:              32 * 1024 * 1024, // 32MB
			RequireOpenAPIFields: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(cfg *Config, configFile string) error {
	// Only load config file if explicitly provided
	if configFile == "" {
		return nil
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config file %s: %w", configFile, err)
	}

	return nil
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(cfg *Config) {
	// Server configuration
	if val := getEnv("SCHEMAVAULT_SERVER_ADDRESS", ""); val != "" {
		cfg.Server.Address = val
	}
	if val := getDurationEnv("SCHEMAVAULT_READ_TIMEOUT", 0); val != 0 {
		cfg.Server.ReadTimeout = val
	}
	if val := getDurationEnv("SCHEMAVAULT_WRITE_TIMEOUT", 0); val != 0 {
		cfg.Server.WriteTimeout = val
	}
	if val := getDurationEnv("SCHEMAVAULT_IDLE_TIMEOUT", 0); val != 0 {
		cfg.Server.IdleTimeout = val
	}
	if val := getDurationEnv("SCHEMAVAULT_SHUTDOWN_TIMEOUT", 0); val != 0 {
		cfg.Server.ShutdownTimeout = val
	}

	// TLS configuration
	cfg.TLS.Enabled = getBoolEnv("SCHEMAVAULT_TLS_ENABLED", cfg.TLS.Enabled)
	if val := getEnv("SCHEMAVAULT_TLS_CERT_FILE", ""); val != "" {
		cfg.TLS.CertFile = val
	}
	if val := getEnv("SCHEMAVAULT_TLS_KEY_FILE", ""); val != "" {
		cfg.TLS.KeyFile = val
	}

	// Storage configuration
	if val := getEnv("SCHEMAVAULT_STORAGE_TYPE", ""); val != "" {
		cfg.Storage.Type = val
	}
	if val := getEnv("SCHEMAVAULT_DB_DRIVER", ""); val != "" {
		cfg.Storage.Database.Driver = val
	}
	if val := getEnv("SCHEMAVAULT_DB_CONNECTION_STRING", ""); val != "" {
		cfg.Storage.Database.ConnectionString = val
	}
	if val := getInt64Env("SCHEMAVAULT_DB_MAX_CONNECTIONS", 0); val != 0 {
		cfg.Storage.Database.MaxConnections = int(val)
	}
	cfg.Storage.Database.AutoMigrate = getBoolEnv("SCHEMAVAULT_DB_AUTO_MIGRATE", cfg.Storage.Database.AutoMigrate)

	// Schema engine configuration
	if val := getEnv("SCHEMAVAULT_STORAGE_ROOT", ""); val != "" {
		cfg.Schema.StorageRoot = val
	}
	cfg.Schema.Deduplicate = getBoolEnv("SCHEMAVAULT_DEDUPLICATE", cfg.Schema.Deduplicate)
	if val := os.Getenv("SCHEMAVAULT_CONFLICT_RETRIES"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			cfg.Schema.ConflictRetries = parsed
		}
	}
	if val := getDurationEnv("SCHEMAVAULT_RETRY_DELAY", 0); val != 0 {
		cfg.Schema.RetryDelay = val
	}
	if val := getDurationEnv("SCHEMAVAULT_IMPORT_TIMEOUT", 0); val != 0 {
		cfg.Schema.ImportTimeout = val
	}

	// Upload configuration
	if val := getInt64Env("SCHEMAVAULT_UPLOAD_MAX_SIZE", 0); val != 0 {
		cfg.Upload.MaxSize = val
	}
	cfg.Upload.RequireOpenAPIFields = getBoolEnv("SCHEMAVAULT_REQUIRE_OPENAPI_FIELDS", cfg.Upload.RequireOpenAPIFields)

	// Logging configuration
	if val := getEnv("SCHEMAVAULT_LOG_LEVEL", ""); val != "" {
		cfg.Logging.Level = val
	}
	if val := getEnv("SCHEMAVAULT_LOG_FORMAT", ""); val != "" {
		cfg.Logging.Format = val
	}
	if val := getEnv("SCHEMAVAULT_LOG_FILE", ""); val != "" {
		cfg.Logging.File = val
	}

	loadMetricsFromEnv(cfg)
	loadTracingFromEnv(cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return fmt.Errorf("server address is required")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if strings.TrimSpace(c.Schema.StorageRoot) == "" {
		return fmt.Errorf("schema storage root is required")
	}
	if c.Schema.ConflictRetries < 0 {
		return fmt.Errorf("conflict retries cannot be negative")
	}
	if c.Schema.ConflictRetries > MaxConflictRetries {
		return fmt.Errorf("conflict retries cannot exceed %d", MaxConflictRetries)
	}
	if c.Schema.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}

	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload max size must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Logging.Level)
	}

	return nil
}

// validateStorage validates the repository selection
func (c *Config) validateStorage() error {
	switch strings.ToLower(c.Storage.Type) {
	case "memory":
		return nil
	case "database":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch strings.ToLower(c.Storage.Database.Driver) {
	case "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Storage.Database.Driver)
	}

	if strings.TrimSpace(c.Storage.Database.ConnectionString) == "" {
		return fmt.Errorf("database connection string is required")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// loadMetricsFromEnv loads metrics configuration from environment variables
func loadMetricsFromEnv(cfg *Config) {
	if getBoolEnv("SCHEMAVAULT_METRICS_ENABLED", false) {
		log.Printf("INFO: Metrics enabled via environment variable")

		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Enabled = true
	}
}

// loadTracingFromEnv loads tracing configuration from environment variables
func loadTracingFromEnv(cfg *Config) {
	if !getBoolEnv("SCHEMAVAULT_TRACING_ENABLED", false) {
		return
	}
	if cfg.Tracing == nil {
		cfg.Tracing = &TracingConfig{}
	}
	cfg.Tracing.Enabled = true
	if val := getEnv("SCHEMAVAULT_TRACING_SERVICE_NAME", ""); val != "" {
		cfg.Tracing.ServiceName = val
	}
}
