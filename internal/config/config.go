// Package config loads service configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Host string

	Store StoreConfig
	Retry RetryConfig

	// GeminiAPIKey enables the rule suggestion agent; empty disables it.
	GeminiAPIKey string
}

type StoreConfig struct {
	// Type selects the rule-set/error-queue backend: "postgres" or "memory".
	Type     string
	Database DatabaseConfig
}

// IsMemory reports whether the in-memory backend is selected.
func (s StoreConfig) IsMemory() bool {
	return strings.EqualFold(s.Type, "memory")
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DatabaseConfig) ConnectionString() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" sslmode=" + c.SSLMode
}

type RetryConfig struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterFactor  float64
	MaxRetries    int
	SweepInterval time.Duration
	SweepLimit    int
}

// Load reads the environment (after godotenv.Load, which is a no-op when
// no .env file exists) and applies defaults.
func Load() *Config {
	godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8080"),
		Host: getEnv("HOST", "0.0.0.0"),
		Store: StoreConfig{
			Type: getEnv("STORE_TYPE", "postgres"),
			Database: DatabaseConfig{
				Host:     getEnv("DATABASE_HOST", "localhost"),
				Port:     getEnv("DATABASE_PORT", "5432"),
				User:     getEnv("DATABASE_USER", "payroll_bridge"),
				Password: getEnv("DATABASE_PASSWORD", "payroll_bridge"),
				Name:     getEnv("DATABASE_NAME", "payroll_bridge"),
				SSLMode:  getEnv("DATABASE_SSLMODE", "disable"),
			},
		},
		Retry: RetryConfig{
			BaseDelay:     getEnvDuration("RETRY_BASE_DELAY", time.Minute),
			MaxDelay:      getEnvDuration("RETRY_MAX_DELAY", 24*time.Hour),
			JitterFactor:  getEnvFloat("RETRY_JITTER_FACTOR", 0.1),
			MaxRetries:    getEnvInt("RETRY_MAX_RETRIES", 5),
			SweepInterval: getEnvDuration("RETRY_SWEEP_INTERVAL", time.Minute),
			SweepLimit:    getEnvInt("RETRY_SWEEP_LIMIT", 50),
		},
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
