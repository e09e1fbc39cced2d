/*
config.go - Environment-based configuration

PURPOSE:
  Loads server configuration from the process environment, optionally
  seeded from a local .env file. Command-line flags in cmd/server
  override these values.

VARIABLES:
  PORT                 HTTP server port (default: 8080)
  DB_PATH              SQLite database path (default: academyos.db)
  LOG_LEVEL            debug | info | warn | error (default: info)
  CORS_ORIGINS         Comma-separated allowed origins
  RECONCILE_LOOKAHEAD  Sessions scanned when reallocating freed minutes

SEE ALSO:
  - cmd/server/main.go: Flag overrides and startup
  - logging/logger.go: Consumes LOG_LEVEL
*/
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all server configuration.
type Config struct {
	Port               int
	DBPath             string
	CORSOrigins        []string
	ReconcileLookahead int
}

// Load reads configuration from .env (if present) and the environment.
func Load(logger *logrus.Logger) Config {
	LoadEnv(logger)

	return Config{
		Port:               GetEnvInt("PORT", 8080),
		DBPath:             GetEnv("DB_PATH", "academyos.db"),
		CORSOrigins:        splitOrigins(GetEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		ReconcileLookahead: GetEnvInt("RECONCILE_LOOKAHEAD", 5),
	}
}

// LoadEnv loads environment variables from a local .env file.
func LoadEnv(logger *logrus.Logger) {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Overload(".env"); err != nil && logger != nil {
		logger.WithError(err).Warn("Failed to load .env")
	}
}

// GetEnv gets an environment variable with a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetLogLevel gets the log level from the environment.
func GetLogLevel() logrus.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
