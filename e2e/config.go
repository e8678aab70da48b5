package e2e

import (
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for E2E tests
type Config struct {
	// ConfigHome replaces XDG_CONFIG_HOME so that the tests can run with a
	// dedicated signed-in config directory.
	ConfigHome string
	TestDir    string
	Timeout    time.Duration
	FileSize   int64
	SliceSize  int64
}

// LoadConfig loads E2E test configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		ConfigHome: os.Getenv("GRAPH_SNIPPETS_E2E_CONFIG_HOME"),
		TestDir:    getEnvOrDefault("GRAPH_SNIPPETS_E2E_TEST_DIR", "/E2E-Tests"),
		Timeout:    getTimeoutFromEnv("GRAPH_SNIPPETS_E2E_TIMEOUT", 300*time.Second),
		FileSize:   getInt64FromEnv("GRAPH_SNIPPETS_E2E_FILE_SIZE", 2*1024*1024+12345),
		SliceSize:  getInt64FromEnv("GRAPH_SNIPPETS_E2E_SLICE_SIZE", 320*1024*2),
	}
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getTimeoutFromEnv parses timeout from environment variable
func getTimeoutFromEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getInt64FromEnv parses int64 from environment variable
func getInt64FromEnv(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return result
}
