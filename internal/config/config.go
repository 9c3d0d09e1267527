package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName     string
	ServicePort     int
	LogLevel        string
	ShutdownTimeout time.Duration
	Database        DatabaseConfig
	Provider        ProviderConfig
	Reading         ReadingConfig
	Image           ImageConfig
	Confirmation    ConfirmationConfig
	RabbitMQ        RabbitMQConfig
	Metrics         MetricsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	AutoMigrate bool
}

// ProviderConfig holds image analysis provider settings
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// ReadingConfig holds the plausible range of extracted readings
type ReadingConfig struct {
	MinValue float64
	MaxValue float64
}

// ImageConfig holds image acceptance and addressing settings
type ImageConfig struct {
	MaxBase64Length int
	BaseURL         string
}

// ConfirmationConfig holds confirmation settings
type ConfirmationConfig struct {
	Tolerance float64
}

// RabbitMQConfig holds RabbitMQ connection and event settings.
// An empty URL disables event publishing.
type RabbitMQConfig struct {
	URL                 string
	EventsExchange      string
	CreatedRoutingKey   string
	ConfirmedRoutingKey string
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:     getEnv("SERVICE_NAME", "meter-reading-service"),
		ServicePort:     getEnvAsInt("SERVICE_PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			MaxConns:    getEnvAsInt("DATABASE_MAX_CONNS", 10),
			AutoMigrate: getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		Provider: ProviderConfig{
			APIKey:      getEnv("PROVIDER_API_KEY", ""),
			BaseURL:     getEnv("PROVIDER_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
			Model:       getEnv("PROVIDER_MODEL", "gemini-1.5-flash"),
			Timeout:     getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
			Temperature: getEnvAsFloat("PROVIDER_TEMPERATURE", 0.1),
			TopP:        getEnvAsFloat("PROVIDER_TOP_P", 0.95),
			MaxTokens:   getEnvAsInt("PROVIDER_MAX_TOKENS", 8192),
		},
		Reading: ReadingConfig{
			MinValue: getEnvAsFloat("READING_MIN_VALUE", 0),
			MaxValue: getEnvAsFloat("READING_MAX_VALUE", 99999),
		},
		Image: ImageConfig{
			MaxBase64Length: getEnvAsInt("IMAGE_MAX_BASE64_LENGTH", 10*1024*1024),
			BaseURL:         strings.TrimRight(getEnv("IMAGE_BASE_URL", "https://storage.example.com"), "/"),
		},
		Confirmation: ConfirmationConfig{
			Tolerance: getEnvAsFloat("CONFIRM_TOLERANCE", 0.10),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                 getEnv("RABBITMQ_URL", ""),
			EventsExchange:      getEnv("RABBITMQ_EVENTS_EXCHANGE", "meter-reading.events.exchange"),
			CreatedRoutingKey:   getEnv("RABBITMQ_CREATED_ROUTING_KEY", "measure.created"),
			ConfirmedRoutingKey: getEnv("RABBITMQ_CONFIRMED_ROUTING_KEY", "measure.confirmed"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("PROVIDER_API_KEY is required but not set in environment variables")
	}
	if cfg.Reading.MinValue > cfg.Reading.MaxValue {
		return nil, fmt.Errorf("READING_MIN_VALUE (%v) must not exceed READING_MAX_VALUE (%v)",
			cfg.Reading.MinValue, cfg.Reading.MaxValue)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("45s") or plain seconds ("45")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
