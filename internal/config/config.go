// Package config loads configuration for the ObserveX binaries from
// environment variables with sensible local-development defaults.
package config

import (
	"fmt"
	"os"
)

// ProcessorConfig holds configuration for the stream processor binary.
type ProcessorConfig struct {
	// Broker connection
	AMQPHost     string
	AMQPPort     string
	AMQPUser     string
	AMQPPassword string
	Queue        string

	// Downstream dashboard backend
	DashboardURL string

	// Health/metrics endpoint port
	HealthPort string
}

// DashboardConfig holds configuration for the dashboard backend binary.
type DashboardConfig struct {
	ListenAddr string
	DBPath     string

	// RCA (optional; empty GeminiAPIKey disables the endpoint)
	GeminiAPIKey string
	GeminiModel  string

	// Health/metrics endpoint port
	HealthPort string
}

// LoadProcessor loads the stream processor configuration from the
// environment.
func LoadProcessor() *ProcessorConfig {
	return &ProcessorConfig{
		AMQPHost:     getEnv("OBSERVEX_AMQP_HOST", "localhost"),
		AMQPPort:     getEnv("OBSERVEX_AMQP_PORT", "5672"),
		AMQPUser:     getEnv("OBSERVEX_AMQP_USER", "telemetry"),
		AMQPPassword: getEnv("OBSERVEX_AMQP_PASSWORD", "telemetry_password"),
		Queue:        getEnv("OBSERVEX_QUEUE", "otel-telemetry"),
		DashboardURL: getEnv("OBSERVEX_DASHBOARD_URL", "http://localhost:8000"),
		HealthPort:   getEnv("PROCESSOR_HEALTH_PORT", "8081"),
	}
}

// LoadDashboard loads the dashboard backend configuration from the
// environment.
func LoadDashboard() *DashboardConfig {
	return &DashboardConfig{
		ListenAddr:   getEnv("OBSERVEX_LISTEN_ADDR", ":8000"),
		DBPath:       getEnv("OBSERVEX_DB_PATH", "telemetry.db"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash-lite"),
		HealthPort:   getEnv("DASHBOARD_HEALTH_PORT", "8082"),
	}
}

// AMQPURL returns the full broker URL for the configured credentials.
func (c *ProcessorConfig) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.AMQPUser, c.AMQPPassword, c.AMQPHost, c.AMQPPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
