package config

import (
	"os"
	"strconv"

	"tether/internal/models"
)

// Load returns the server configuration from environment variables
func Load() models.Config {
	return models.Config{
		Port:                getEnv("PORT", "9611"),
		DBPath:              getEnv("DB_PATH", "tether.db"),
		ReconnectIntervalMS: getEnvInt("RECONNECT_INTERVAL_MS", 5000),
		CleanupOlderThanHrs: getEnvInt("CLEANUP_OLDER_THAN_HOURS", 24),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
