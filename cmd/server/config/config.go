package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	TargetRegistry         string
	TargetRegistryUsername string
	TargetRegistryPassword string
	EngineWorkers          int
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", "8000"),
		TargetRegistry:         getEnv("TARGET_REGISTRY", "localhost:5000"),
		TargetRegistryUsername: getEnv("TARGET_REGISTRY_USERNAME", ""),
		TargetRegistryPassword: getEnv("TARGET_REGISTRY_PASSWORD", ""),
		EngineWorkers:          getEnvInt("ENGINE_WORKERS", 4),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
