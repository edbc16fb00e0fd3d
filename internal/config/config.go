package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider         string  `json:"provider" yaml:"provider"`
	BaseURL          string  `json:"base_url" yaml:"base_url"`
	APIKey           string  `json:"api_key" yaml:"api_key"`
	Model            string  `json:"model" yaml:"model"`
	MaxTokens        int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature      float32 `json:"temperature" yaml:"temperature"`
	MaxContextTokens int     `json:"max_context_tokens" yaml:"max_context_tokens"`
	OutputReserve    int     `json:"output_reserve" yaml:"output_reserve"`
}

type StoreConfig struct {
	// Driver is "file" (one JSON document per chat) or "sqlite".
	Driver string `json:"driver" yaml:"driver"`
}

type SandboxConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Runner is "local" (host subprocess per chat directory) or "docker".
	Runner             string `json:"runner" yaml:"runner"`
	Root               string `json:"root" yaml:"root"`
	Image              string `json:"image" yaml:"image"`
	Network            string `json:"network" yaml:"network"`
	Prefix             string `json:"prefix" yaml:"prefix"`
	BashTimeoutSeconds int    `json:"bash_timeout_seconds" yaml:"bash_timeout_seconds"`
	OpTimeoutSeconds   int    `json:"op_timeout_seconds" yaml:"op_timeout_seconds"`
}

type RetentionConfig struct {
	// Schedule is a cron expression with an optional seconds field.
	Schedule    string `json:"schedule" yaml:"schedule"`
	MaxAgeHours int    `json:"max_age_hours" yaml:"max_age_hours"`
}

type Config struct {
	DataDir              string `json:"data_dir" yaml:"data_dir"`
	LogLevel             string `json:"log_level" yaml:"log_level"`
	MaxConcurrent        int    `json:"max_concurrent" yaml:"max_concurrent"`
	MaxToolRounds        int    `json:"max_tool_rounds" yaml:"max_tool_rounds"`
	RemoteTimeoutSeconds int    `json:"remote_timeout_seconds" yaml:"remote_timeout_seconds"`
	SystemPromptPath     string `json:"system_prompt_path" yaml:"system_prompt_path"`

	LLM     LLMConfig     `json:"llm" yaml:"llm"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Sandbox SandboxConfig `json:"sandbox" yaml:"sandbox"`
	HTTP    struct {
		Listen string `json:"listen" yaml:"listen"`
	} `json:"http" yaml:"http"`
	Brave struct {
		APIKey string `json:"api_key" yaml:"api_key"`
	} `json:"brave" yaml:"brave"`
	Telegram struct {
		Token string `json:"token" yaml:"token"`
	} `json:"telegram" yaml:"telegram"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
	Debug     struct {
		Gops bool `json:"gops" yaml:"gops"`
	} `json:"debug" yaml:"debug"`
}

// RemoteTimeout is how long a round waits for a browser result.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutSeconds) * time.Second
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		DataDir:              filepath.Join(home, ".reflect"),
		LogLevel:             "info",
		MaxConcurrent:        4,
		MaxToolRounds:        25,
		RemoteTimeoutSeconds: 30,
	}
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "claude-sonnet-4-5"
	cfg.LLM.MaxTokens = 16000
	cfg.LLM.Temperature = 1.0
	cfg.LLM.MaxContextTokens = 200000
	cfg.LLM.OutputReserve = 16000
	cfg.Store.Driver = "file"
	cfg.Sandbox.Runner = "docker"
	cfg.Sandbox.Image = "python:3.12-slim"
	cfg.Sandbox.Network = "bridge"
	cfg.Sandbox.Prefix = "reflect"
	cfg.Sandbox.BashTimeoutSeconds = 120
	cfg.Sandbox.OpTimeoutSeconds = 30
	cfg.HTTP.Listen = "127.0.0.1:8000"
	cfg.Retention.Schedule = "0 0 3 * * *"
	return cfg
}

// DefaultPath returns ~/.reflect/config.json.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reflect", "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func encode(path string, v any) ([]byte, error) {
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Load reads the config at path, writing defaults there on first run.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.LLM.Provider == "anthropic" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = key
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.BaseURL = baseURL
	}
	if braveKey := os.Getenv("BRAVE_API_KEY"); braveKey != "" {
		cfg.Brave.APIKey = braveKey
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if listen := os.Getenv("REFLECT_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map through its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns the flattened config, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored under a dot-separated key in the file at
// path. A missing file is first created with defaults.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot-separated key in the file at path.
// Values that parse as JSON (numbers, booleans) keep their type; anything
// else is stored as a string. Keys not present in Config are preserved.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	flat := Flatten(raw)
	flat[key] = v

	data, err := encode(path, Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw := map[string]any{}
	if err := decode(path, data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}
