package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lamosty/aharadar-sub003/internal/client"
)

const defaultConfigRelPath = ".config/aharadar/llm-cli.yaml"

type Config struct {
	GRPCAddr       string `yaml:"grpc_addr"`
	GRPCInsecure   bool   `yaml:"grpc_insecure"`
	TokenEnvVar    string `yaml:"token_env_var"`
	RequestTimeout int    `yaml:"request_timeout_seconds"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	WatchInterval  int    `yaml:"watch_interval_seconds"`
}

func DefaultConfig() Config {
	return Config{
		GRPCAddr:       "127.0.0.1:50061",
		TokenEnvVar:    "AHARADAR_LLM_TOKEN",
		RequestTimeout: 10,
		RetryAttempts:  3,
		WatchInterval:  10,
	}
}

// LoadConfig reads the YAML file at path (missing is fine) and applies the
// AHARADAR_LLM_ADDR and AHARADAR_LLM_INSECURE overrides.
func LoadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse cli config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read cli config %s: %w", path, err)
	}

	if addr := strings.TrimSpace(getenv("AHARADAR_LLM_ADDR")); addr != "" {
		cfg.GRPCAddr = addr
	}
	if raw := strings.TrimSpace(getenv("AHARADAR_LLM_INSECURE")); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			cfg.GRPCInsecure = parsed
		}
	}

	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		cfg.GRPCAddr = defaults.GRPCAddr
	}
	if strings.TrimSpace(cfg.TokenEnvVar) == "" {
		cfg.TokenEnvVar = defaults.TokenEnvVar
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = defaults.WatchInterval
	}
	return cfg, nil
}

func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigRelPath), nil
}

func (c Config) ClientConfig(getenv func(string) string) client.Config {
	return client.Config{
		Addr:           c.GRPCAddr,
		Token:          strings.TrimSpace(getenv(c.TokenEnvVar)),
		Insecure:       c.GRPCInsecure,
		RequestTimeout: time.Duration(c.RequestTimeout) * time.Second,
		RetryAttempts:  c.RetryAttempts,
	}
}
