package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Cache    CacheConfig    `yaml:"cache"`
	Tracking TrackingConfig `yaml:"tracking"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
}

type AuthConfig struct {
	// ServiceURL is the external authorization service loads fall back to.
	ServiceURL string `yaml:"service_url"`
	// LoadTimeout caps a single authorization fetch.
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type CacheConfig struct {
	// MemoryCapacity bounds the memory tier in entries.
	MemoryCapacity int `yaml:"memory_capacity"`

	// Backend selects the durable tier: "file", "postgres" or "none".
	Backend string `yaml:"backend"`

	// File backend
	FilePath     string `yaml:"file_path"`
	FileMaxBytes int64  `yaml:"file_max_bytes"`

	// Postgres backend
	PostgresDSN     string `yaml:"postgres_dsn"`
	PostgresMaxRows int    `yaml:"postgres_max_rows"`

	// Per-category TTLs.
	PermissionTTL       time.Duration `yaml:"permission_ttl"`
	EndpointMetadataTTL time.Duration `yaml:"endpoint_metadata_ttl"`
	RoleAssignmentTTL   time.Duration `yaml:"role_assignment_ttl"`

	// SweepInterval drives the low-priority durable reclaim; zero disables.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type TrackingConfig struct {
	// HistorySize bounds the per-session navigation ring.
	HistorySize int `yaml:"history_size"`
	// DecayEvery is the number of transition updates between decay passes.
	DecayEvery int `yaml:"decay_every"`
}

type PrefetchConfig struct {
	TopK          int     `yaml:"top_k"`
	Threshold     float64 `yaml:"threshold"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Default returns a configuration with every knob at its standard value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8600,
			LogLevel: "info",
		},
		Auth: AuthConfig{
			ServiceURL:  "http://localhost:8601",
			LoadTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			MemoryCapacity:      1000,
			Backend:             "file",
			FilePath:            "/tmp/authcache-data",
			FileMaxBytes:        64 << 20,
			PermissionTTL:       time.Hour,
			EndpointMetadataTTL: 24 * time.Hour,
			RoleAssignmentTTL:   30 * time.Minute,
			SweepInterval:       10 * time.Minute,
		},
		Tracking: TrackingConfig{
			HistorySize: 50,
			DecayEvery:  200,
		},
		Prefetch: PrefetchConfig{
			TopK:          3,
			Threshold:     0.3,
			RatePerSecond: 10,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return cfg, nil
}
