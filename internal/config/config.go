package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	GRPCAddr         string
	HTTPAddr         string
	UsageStoreDriver string
	UsageFile        string
	UsageCacheTTL    time.Duration
	LedgerDriver     string
	LedgerFile       string
	DatabaseURL      string
	AuthToken        string
	JWTSecret        string
	EnableReflection bool
	LLMConfigFile    string
	ShutdownTimeout  time.Duration
}

func Load() Config {
	return Config{
		GRPCAddr:         envOrDefault("GRPC_ADDR", "127.0.0.1:50061"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", "127.0.0.1:8090"),
		UsageStoreDriver: envOrDefault("USAGE_STORE_DRIVER", "memory"),
		UsageFile:        envOrDefault("USAGE_FILE", "./data/llm-usage.json"),
		UsageCacheTTL:    time.Duration(envIntOrDefault("USAGE_CACHE_TTL_MS", 1000)) * time.Millisecond,
		LedgerDriver:     envOrDefault("LEDGER_DRIVER", "memory"),
		LedgerFile:       envOrDefault("LEDGER_FILE", "./data/llm-calls.json"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AuthToken:        os.Getenv("AUTH_TOKEN"),
		JWTSecret:        os.Getenv("AUTH_JWT_SECRET"),
		EnableReflection: envBoolOrDefault("ENABLE_REFLECTION", false),
		LLMConfigFile:    os.Getenv("LLM_CONFIG_FILE"),
		ShutdownTimeout:  time.Duration(envIntOrDefault("SHUTDOWN_TIMEOUT_SECONDS", 5)) * time.Second,
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envBoolOrDefault(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envIntOrDefault(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
