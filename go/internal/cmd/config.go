package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from an optional YAML file
// with environment variable overrides on top.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Store struct {
		// Backend selects the session document store: memory, nats or
		// postgres.
		Backend string `yaml:"backend"`
		NATS    struct {
			URL    string `yaml:"url"`
			Bucket string `yaml:"bucket"`
		} `yaml:"nats"`
	} `yaml:"store"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Store.Backend = "memory"
	cfg.Store.NATS.URL = "nats://localhost:4222"
	cfg.Store.NATS.Bucket = "GAME_SESSIONS"
	cfg.Log.Level = "info"
	return &cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.NATS.URL = getEnv("NATS_URL", cfg.Store.NATS.URL)
	cfg.Store.NATS.Bucket = getEnv("NATS_BUCKET", cfg.Store.NATS.Bucket)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
