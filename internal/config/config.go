package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Broker   BrokerConfig   `yaml:"broker"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds database connection settings. An empty URL selects
// the in-memory backends.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// EngineConfig holds execution concurrency limits.
type EngineConfig struct {
	GlobalMax   int `yaml:"global_max"`   // max concurrent runs system-wide (default: 10)
	PerWorkflow int `yaml:"per_workflow"` // max concurrent runs per workflow (default: 3)
}

// BrokerConfig holds background execution settings.
type BrokerConfig struct {
	Workers int `yaml:"workers"` // worker pool size (default: 4)
}

// AuthConfig holds API authentication settings. An empty secret disables
// token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Engine: EngineConfig{
			GlobalMax:   10,
			PerWorkflow: 3,
		},
		Broker: BrokerConfig{
			Workers: 4,
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return applyEnv(cfg), nil
}

// applyEnv layers deploy-time secrets from the environment over the file.
func applyEnv(cfg *Config) *Config {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return applyEnv(defaults()), nil
		}
		return nil, err
	}
	return cfg, nil
}
