package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP server and its
// collaborators.
type ServerConfig struct {
	ServerAddr   string `json:"server_addr"`
	LogLevel     string `json:"log_level"`
	DataDir      string `json:"data_dir"`
	DatabasePath string `json:"database_path"`
	BaseURL      string `json:"base_url"`
	APIToken     string `json:"api_token"`
	MaxIdeas     int    `json:"max_ideas"`
}

// Config is the top-level configuration struct.
type Config struct {
	Server *ServerConfig `json:"server_config"`
}

// DefaultServerConfig creates a server configuration with default values.
// The model origin can be overridden with the IGG_BASE_URL environment
// variable without touching the config file.
func DefaultServerConfig() *ServerConfig {
	baseURL := "https://invent.whileyou.work"
	if env := os.Getenv("IGG_BASE_URL"); env != "" {
		baseURL = env
	}
	return &ServerConfig{
		ServerAddr:   ":7278",
		LogLevel:     "info",
		DataDir:      "./data",
		DatabasePath: "./data/igg.db",
		BaseURL:      baseURL,
		APIToken:     "",
		MaxIdeas:     50,
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		Server: DefaultServerConfig(),
	}

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err = SaveConfig(path, config); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveConfig persists the configuration atomically, so a crash mid-write
// never leaves a truncated config on disk.
func SaveConfig(path string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
