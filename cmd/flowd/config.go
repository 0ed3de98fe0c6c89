package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/flowd-io/flowd/internal/mcp"
)

// Config holds all flowd server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	BaseURL    string `json:"base_url"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"` // "json" or "text"
	PoolSize   int    `json:"pool_size"`

	LLMAPIKey  string `json:"llm_api_key,omitempty"`
	LLMBaseURL string `json:"llm_base_url,omitempty"`

	// VaultKey is accepted from the environment only. Secrets stay
	// unusable rather than weakly protected when it is absent.
	VaultKey string `json:"-"`

	MCPServers map[string]mcp.ServerConfig `json:"mcpServers,omitempty"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4100",
		DBPath:     filepath.Join(flowdDir(), "flowd.db"),
		LogLevel:   "info",
		LogFormat:  "json",
		PoolSize:   10,
	}
}

func flowdDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowd"
	}
	return filepath.Join(home, ".flowd")
}

func settingsPath() string {
	return filepath.Join(flowdDir(), "settings.json")
}

func loadConfig(path string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLOWD_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("FLOWD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWD_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("FLOWD_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("FLOWD_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	} else if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("FLOWD_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	cfg.VaultKey = os.Getenv("FLOWD_VAULT_KEY")

	// Derive base_url from listen_addr if empty.
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}

	return cfg
}
