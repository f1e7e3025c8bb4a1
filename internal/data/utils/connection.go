package utils

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LoadEnv loads a .env file when one exists. Missing files are fine; the
// service usually runs with real environment variables.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}
}

// BuildConnectionString constructs a Postgres connection string from
// environment variables.
func BuildConnectionString() (string, error) {
	host := getEnvOrDefault("DB_HOST", "localhost")
	portStr := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := os.Getenv("DB_PASSWORD") // No default for password
	dbName := getEnvOrDefault("DB_NAME", "qcollector")

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid port number: %w", err)
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		user,
		password,
		host,
		port,
		dbName,
	), nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IntFromEnv reads an integer setting, falling back to def when unset or
// unparsable.
func IntFromEnv(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("ignoring non-integer environment setting")
		return def
	}
	return v
}
