// Package config handles Alfred configuration loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/nugget/alfred/internal/paths"
)

// Engine modes.
const (
	ModeCore   = "core"
	ModeRouter = "router"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./config.yaml, ~/.config/alfred/config.yaml, /etc/alfred/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "alfred", "config.yaml"))
	}

	paths = append(paths, "/etc/alfred/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no file exists in any of
// the search paths.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all Alfred configuration.
type Config struct {
	// Mode selects the decision engine: "core" (single call with one
	// repair) or "router" (routing call plus a Q/A model).
	Mode          string              `yaml:"mode"`
	Listen        ListenConfig        `yaml:"listen"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	Prompts       PromptsConfig       `yaml:"prompts"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Plugins       PluginsConfig       `yaml:"plugins"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`

	// DeviceMappings maps friendly names to entity ids for the intent
	// processor.
	DeviceMappings map[string]string `yaml:"device_mappings"`

	// DebugOutput is where the last raw model output is written. Empty
	// disables the file.
	DebugOutput string `yaml:"debug_output"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Addr returns the host:port to listen on.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// OllamaConfig defines the model backend.
type OllamaConfig struct {
	URL         string  `yaml:"url"`
	Model       string  `yaml:"model"`
	QAModel     string  `yaml:"qa_model"` // Router mode answers; defaults to Model
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSec  int     `yaml:"timeout_sec"` // Per model call; 0 = no limit
}

// Timeout returns the per-call timeout, zero meaning none.
func (o OllamaConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSec) * time.Second
}

// PromptsConfig points at optional template overrides. Missing files
// fall back to the built-in templates.
type PromptsConfig struct {
	Decision string `yaml:"decision"`
	Repair   string `yaml:"repair"`
	Answer   string `yaml:"answer"`
}

// SessionsConfig defines the session store.
type SessionsConfig struct {
	DBPath          string `yaml:"db_path"`
	TimeoutMinutes  int    `yaml:"timeout_minutes"`
	HistoryLimit    int    `yaml:"history_limit"`
	CleanupSchedule string `yaml:"cleanup_schedule"` // cron spec or @every
	ContextProvider string `yaml:"context_provider"` // history or summary
}

// Timeout returns the inactivity timeout after which sessions expire.
func (s SessionsConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// HomeAssistantConfig defines HA connection settings. An empty URL
// disables the integration.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether a Home Assistant URL is set.
func (h HomeAssistantConfig) Configured() bool { return h.URL != "" }

// MQTTConfig defines the MQTT command publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// PluginsConfig toggles the built-in plugin integrations.
type PluginsConfig struct {
	Calculator bool `yaml:"calculator"`
}

// RateLimitConfig bounds /execute throughput across all clients.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 disables
	Burst             int     `yaml:"burst"`
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Mode:   ModeCore,
		Listen: ListenConfig{Port: 8000},
		Ollama: OllamaConfig{
			URL:         "http://localhost:11434",
			Model:       "qwen2.5:3b",
			Temperature: 0.0,
			MaxTokens:   2048,
			TimeoutSec:  120,
		},
		Sessions: SessionsConfig{
			DBPath:          "alfred_sessions.db",
			TimeoutMinutes:  30,
			HistoryLimit:    10,
			CleanupSchedule: "@every 5m",
			ContextProvider: "history",
		},
		MQTT:        MQTTConfig{TopicPrefix: "alfred"},
		Plugins:     PluginsConfig{Calculator: true},
		RateLimit:   RateLimitConfig{RequestsPerSecond: 2, Burst: 5},
		DebugOutput: "last_model_output.txt",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// LoadDotEnv loads KEY=value pairs from the given files into the
// process environment without overriding variables that are already
// set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file on top of [Default], expands
// ${VAR} references, applies environment overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment variables understood by
// earlier deployments (HA_URL, ALFRED_MODE, SESSION_DB_PATH, ...).
// lookup is normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	str("ALFRED_MODE", &c.Mode)
	str("HA_URL", &c.HomeAssistant.URL)
	str("HA_TOKEN", &c.HomeAssistant.Token)
	str("OLLAMA_HOST", &c.Ollama.URL)
	str("ALFRED_CORE_MODEL", &c.Ollama.Model)
	str("ALFRED_CORE_PROMPT_PATH", &c.Prompts.Decision)
	str("ALFRED_CORE_RETRY_PROMPT_PATH", &c.Prompts.Repair)
	str("SESSION_DB_PATH", &c.Sessions.DBPath)

	if v, ok := lookup("ALFRED_CORE_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("ALFRED_CORE_TEMPERATURE: %w", err)
		}
		c.Ollama.Temperature = f
	}
	return errors.Join(
		num("ALFRED_CORE_MAX_TOKENS", &c.Ollama.MaxTokens),
		num("SESSION_TIMEOUT_MINUTES", &c.Sessions.TimeoutMinutes),
		num("SESSION_HISTORY_LIMIT", &c.Sessions.HistoryLimit),
	)
}

// Validate normalizes the mode, expands ~ in file paths and reports every
// configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	paths.ExpandAll(&c.Sessions.DBPath, &c.Prompts.Decision, &c.Prompts.Repair, &c.Prompts.Answer, &c.DebugOutput)
	if c.Mode != ModeCore && c.Mode != ModeRouter {
		bad("mode: %q is not one of core, router", c.Mode)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		bad("log_level: %w", err)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		bad("log_format: %q is not one of text, json", c.LogFormat)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		bad("listen.port: %d out of range", c.Listen.Port)
	}
	if c.Ollama.Model == "" {
		bad("ollama.model: required")
	}
	if c.Ollama.Temperature < 0 || c.Ollama.Temperature > 2 {
		bad("ollama.temperature: %g out of range [0, 2]", c.Ollama.Temperature)
	}
	if c.Ollama.MaxTokens < 0 {
		bad("ollama.max_tokens: must not be negative")
	}
	if c.Ollama.TimeoutSec < 0 {
		bad("ollama.timeout_sec: must not be negative")
	}
	if c.Sessions.DBPath == "" {
		bad("sessions.db_path: required")
	}
	if c.Sessions.TimeoutMinutes <= 0 {
		bad("sessions.timeout_minutes: must be positive")
	}
	if c.Sessions.HistoryLimit <= 0 {
		bad("sessions.history_limit: must be positive")
	}
	if c.Sessions.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(c.Sessions.CleanupSchedule); err != nil {
			bad("sessions.cleanup_schedule: %w", err)
		}
	}
	switch c.Sessions.ContextProvider {
	case "", "history", "summary":
	default:
		bad("sessions.context_provider: %q is not one of history, summary", c.Sessions.ContextProvider)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		bad("mqtt.broker: required when mqtt is enabled")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		bad("rate_limit.requests_per_second: must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		bad("rate_limit.burst: must be at least 1")
	}

	return errors.Join(errs...)
}
