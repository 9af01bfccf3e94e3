/**
 * Configuration for the OCR Worker
 *
 * Loads configuration from environment variables matching .env.ocr
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (task queue and result cache)
	RedisURL  string
	QueueName string
	CacheTTL  time.Duration

	// PostgreSQL configuration
	DatabaseURL string

	// Service URLs
	MageAgentURL string

	// Worker configuration
	WorkerConcurrency    int
	BatchConcurrency     int
	ProcessingTimeout    time.Duration
	VotingBackendTimeout time.Duration
	MaxImageSize         int64

	// Recognition configuration
	EnabledBackends      []string
	TesseractLanguages   []string
	PreprocessOperations []string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:             getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		QueueName:            getEnvOrDefault("QUEUE_NAME", "ocr"),
		CacheTTL:             time.Duration(getEnvAsIntOrDefault("CACHE_TTL", 3600)) * time.Second,
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		MageAgentURL:         getEnvOrDefault("MAGEAGENT_URL", "http://nexus-mageagent:8080"),
		WorkerConcurrency:    getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		BatchConcurrency:     getEnvAsIntOrDefault("BATCH_CONCURRENCY", 4),
		ProcessingTimeout:    time.Duration(getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000)) * time.Millisecond, // 5 minutes
		VotingBackendTimeout: time.Duration(getEnvAsIntOrDefault("VOTING_BACKEND_TIMEOUT", 60000)) * time.Millisecond,
		MaxImageSize:         getEnvAsInt64OrDefault("MAX_IMAGE_SIZE", 52428800), // 50MB
		EnabledBackends:      getEnvAsListOrDefault("ENABLED_BACKENDS", []string{"tesseract", "vision-fast", "vision-accurate"}),
		TesseractLanguages:   getEnvAsListOrDefault("TESSERACT_LANGUAGES", []string{"eng"}),
		PreprocessOperations: getEnvAsListOrDefault("PREPROCESS_OPERATIONS", []string{"grayscale", "upscale"}),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME must not be empty")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.BatchConcurrency < 1 || c.BatchConcurrency > 64 {
		return fmt.Errorf("BATCH_CONCURRENCY must be between 1 and 64, got %d", c.BatchConcurrency)
	}

	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be positive, got %s", c.ProcessingTimeout)
	}

	if c.VotingBackendTimeout <= 0 || c.VotingBackendTimeout > c.ProcessingTimeout {
		return fmt.Errorf("VOTING_BACKEND_TIMEOUT must be positive and at most PROCESSING_TIMEOUT, got %s", c.VotingBackendTimeout)
	}

	if c.MaxImageSize < 1024 || c.MaxImageSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_IMAGE_SIZE must be between 1KB and 1GB, got %d", c.MaxImageSize)
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}

	return nil
}

// BackendEnabled reports whether name appears in ENABLED_BACKENDS
func (c *Config) BackendEnabled(name string) bool {
	for _, b := range c.EnabledBackends {
		if b == name {
			return true
		}
	}
	return false
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma-separated variable, dropping blanks
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}

	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
