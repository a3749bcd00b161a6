package config

import (
	"os"
	"strconv"
)

// LoadFromEnv applies environment-variable overrides on top of a loaded
// configuration. Only a handful of deployment-sensitive knobs are exposed.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("AUTHCACHE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("AUTHCACHE_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if authURL := os.Getenv("AUTHCACHE_AUTH_SERVICE_URL"); authURL != "" {
		cfg.Auth.ServiceURL = authURL
	}

	if backend := os.Getenv("AUTHCACHE_BACKEND"); backend != "" {
		cfg.Cache.Backend = backend
	}

	if path := os.Getenv("AUTHCACHE_FILE_PATH"); path != "" {
		cfg.Cache.FilePath = path
	}

	if dsn := os.Getenv("AUTHCACHE_POSTGRES_DSN"); dsn != "" {
		cfg.Cache.PostgresDSN = dsn
	}

	if capacity := os.Getenv("AUTHCACHE_MEMORY_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			cfg.Cache.MemoryCapacity = n
		}
	}

	if threshold := os.Getenv("AUTHCACHE_PREFETCH_THRESHOLD"); threshold != "" {
		if f, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Prefetch.Threshold = f
		}
	}
}

// GetEnvOrDefault returns an environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
