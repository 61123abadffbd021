package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server   string `json:"server"`
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Auth     struct {
		Token string `json:"token"`
	} `json:"auth"`
	Pages struct {
		Chats       int `json:"chats"`
		Events      int `json:"events"`
		Screenshots int `json:"screenshots"`
	} `json:"pages"`
	Reconnect struct {
		IntervalMS  int `json:"interval_ms"`
		MaxAttempts int `json:"max_attempts"`
	} `json:"reconnect"`
	SendTimeoutMS int `json:"send_timeout_ms"`
	Prefetch      struct {
		Lookahead     int `json:"lookahead"`
		DebounceMS    int `json:"debounce_ms"`
		MinIntervalMS int `json:"min_interval_ms"`
	} `json:"prefetch"`
	Screenshots struct {
		CountWhenUnfocused bool `json:"count_when_unfocused"`
	} `json:"screenshots"`
	RefreshCron string `json:"refresh_cron"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:   "http://localhost:8000",
		DataDir:  filepath.Join(os.Getenv("HOME"), ".agentfeed"),
		LogLevel: "info",
	}
	cfg.Pages.Chats = 20
	cfg.Pages.Events = 20
	cfg.Pages.Screenshots = 5
	cfg.Reconnect.IntervalMS = 3000
	cfg.Reconnect.MaxAttempts = 5
	cfg.SendTimeoutMS = 10000
	cfg.Prefetch.Lookahead = 3
	cfg.Prefetch.DebounceMS = 150
	cfg.Prefetch.MinIntervalMS = 1000
	cfg.RefreshCron = "*/5 * * * *"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if token := os.Getenv("AGENTFEED_TOKEN"); token != "" {
		cfg.Auth.Token = token
	}
	if server := os.Getenv("AGENTFEED_SERVER"); server != "" {
		cfg.Server = server
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return Save(path, cfg)
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
