package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir     string `json:"data_dir"`
	LogLevel    string `json:"log_level"`
	DatabaseURL string `json:"database_url"`
	HTTPAddr    string `json:"http_addr"`
	PromptName  string `json:"prompt_name"`
	RoomName    string `json:"room_name"`
	LLM         struct {
		BaseURL        string `json:"base_url"`
		Model          string `json:"model"`
		Encoding       string `json:"encoding"`
		ContextWindow  int    `json:"context_window"`
		TimeoutSeconds int    `json:"timeout_seconds"`
		RetryAttempts  int    `json:"retry_attempts"`
		RetryBackoffMS int    `json:"retry_backoff_ms"`
		QueueEnabled   bool   `json:"queue_enabled"`
		QueueMaxSize   int    `json:"queue_max_size"`
	} `json:"llm"`
	Orchestrator struct {
		PollIntervalMS int    `json:"poll_interval_ms"`
		HistoryLimit   int    `json:"history_limit"`
		MaxConcurrent  int    `json:"max_concurrent"`
		ClassCapacity  int    `json:"class_capacity"`
		StatsSchedule  string `json:"stats_schedule"`
	} `json:"orchestrator"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:     filepath.Join(os.Getenv("HOME"), ".parley"),
		LogLevel:    "info",
		DatabaseURL: "postgres://localhost:5432/parley",
		HTTPAddr:    "127.0.0.1:8484",
		PromptName:  "core_identity",
		RoomName:    "open_dialogue",
	}
	cfg.LLM.BaseURL = "http://127.0.0.1:8080/v1/chat/completions"
	cfg.LLM.Model = "local"
	cfg.LLM.Encoding = "cl100k_base"
	cfg.LLM.ContextWindow = 8192
	cfg.LLM.TimeoutSeconds = 300
	cfg.LLM.RetryAttempts = 3
	cfg.LLM.RetryBackoffMS = 1000
	cfg.LLM.QueueEnabled = true
	cfg.LLM.QueueMaxSize = 8
	cfg.Orchestrator.PollIntervalMS = 1000
	cfg.Orchestrator.HistoryLimit = 7
	cfg.Orchestrator.MaxConcurrent = 2
	cfg.Orchestrator.ClassCapacity = 1
	cfg.Orchestrator.StatsSchedule = "@every 10m"

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
	if dsn := os.Getenv("PARLEY_DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
	}
	if baseURL := os.Getenv("PARLEY_LLM_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("PARLEY_LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}

// ListValues returns the config as a flat dot-keyed map, masking secret
// values when mask is true.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, err
	}
	flat := Flatten(nested)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config file and returns the value at the given
// dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	val, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue updates one dot-separated key in the config file, preserving the
// rest of the file's contents. Values are coerced to bool or number when
// they parse as one.
func SetValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	flat := Flatten(nested)
	flat[key] = coerce(value)
	nested = Unflatten(flat)

	out, err := json.MarshalIndent(nested, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	out = append(out, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func coerce(value string) any {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return float64(i)
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
