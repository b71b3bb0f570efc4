package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	VaultDir     string `json:"vault_dir"`
	AgentID      string `json:"agent_id"`
	LogLevel     string `json:"log_level"`
	PollInterval int    `json:"poll_interval_seconds"`
	MaxWatchers  int    `json:"max_watchers"`
	Reasoner     struct {
		BaseURL           string  `json:"base_url"`
		APIKey            string  `json:"api_key"`
		Model             string  `json:"model"`
		MaxTokens         int     `json:"max_tokens"`
		Temperature       float32 `json:"temperature"`
		TimeoutSeconds    int     `json:"timeout_seconds"`
		MaxCallsPerMinute int     `json:"max_calls_per_minute"`
		MaxContextTokens  int     `json:"max_context_tokens"`
	} `json:"reasoner"`
	Retry struct {
		MaxAttempts    int     `json:"max_attempts"`
		BaseDelay      float64 `json:"base_delay_seconds"`
		MaxDelay       float64 `json:"max_delay_seconds"`
		Backoff        string  `json:"backoff"`
		JitterFraction float64 `json:"jitter_fraction"`
	} `json:"retry"`
	Loop struct {
		MaxIterations  int `json:"max_iterations"`
		IterationPause int `json:"iteration_pause_seconds"`
	} `json:"loop"`
	Watch struct {
		DropDir      string `json:"drop_dir"`
		PollInterval int    `json:"poll_interval_seconds"`
	} `json:"watch"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
	Schedules struct {
		HealthCheck    string `json:"health_check"`
		StatusSnapshot string `json:"status_snapshot"`
		AuditArchive   string `json:"audit_archive"`
	} `json:"schedules"`
	AuditRetentionDays int `json:"audit_retention_days"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		VaultDir:     filepath.Join(os.Getenv("HOME"), ".deskhand", "vault"),
		AgentID:      defaultAgentID(),
		LogLevel:     "info",
		PollInterval: 5,
		MaxWatchers:  4,
	}
	cfg.Reasoner.BaseURL = "https://api.openai.com/v1"
	cfg.Reasoner.Model = "gpt-4o-mini"
	cfg.Reasoner.MaxTokens = 2000
	cfg.Reasoner.Temperature = 0.3
	cfg.Reasoner.TimeoutSeconds = 120
	cfg.Reasoner.MaxCallsPerMinute = 10
	cfg.Reasoner.MaxContextTokens = 8000
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = 1
	cfg.Retry.MaxDelay = 60
	cfg.Retry.Backoff = "exponential"
	cfg.Retry.JitterFraction = 0.25
	cfg.Loop.MaxIterations = 10
	cfg.Loop.IterationPause = 1
	cfg.Watch.PollInterval = 10
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8710"
	cfg.Schedules.HealthCheck = "@every 60s"
	cfg.Schedules.StatusSnapshot = "@every 30s"
	cfg.Schedules.AuditArchive = "0 3 * * *"
	cfg.AuditRetentionDays = 30

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
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.Reasoner.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.Reasoner.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if agentID := os.Getenv("DESKHAND_AGENT_ID"); agentID != "" {
		cfg.AgentID = agentID
	}

	return cfg, nil
}

// defaultAgentID derives a stable per-machine agent identity from the
// hostname so that two synchronized machines get distinct in-progress buckets.
func defaultAgentID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "agent-local"
	}
	return "agent-" + host
}

// Save writes the config to disk using atomic write (temp file + rename).
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
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

// ListValues returns the config as a flat dot-separated key map. When
// maskSecrets is true, secret values are masked for display.
func ListValues(cfg *Config, maskSecrets bool) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	flat := Flatten(nested)
	if maskSecrets {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config file and returns the value at the given
// dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	values, err := ListValues(cfg, true)
	if err != nil {
		return nil, err
	}
	val, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue loads the config file, sets the value at the given dot-separated
// key, and saves it back.
func SetValue(path, key, value string) error {
	cfg, err := Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	flat := Flatten(nested)
	if _, ok := flat[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}
	flat[key] = coerce(flat[key], value)

	merged, err := json.Marshal(Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	updated := &Config{}
	if err := json.Unmarshal(merged, updated); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	return Save(path, updated)
}

// coerce converts the string value to the type of the existing value so that
// numeric and boolean keys round-trip through JSON correctly.
func coerce(existing any, value string) any {
	switch existing.(type) {
	case float64:
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err == nil {
			return f
		}
	case bool:
		return value == "true" || value == "1"
	}
	return value
}
