// Package config loads tendril configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Providers understood by the backend factory.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGollm     = "gollm"
)

// Compression strategies.
const (
	CompressTruncate  = "truncate"
	CompressSummarize = "summarize"
	CompressChain     = "chain"
	CompressOff       = "off"
)

// DefaultSystemPrompt is the calculator prompt.
const DefaultSystemPrompt = "You are a calculator. Always use the provided tools for arithmetic."

// DefaultSearchPaths returns the config file search order after an explicit --config.
func DefaultSearchPaths() []string {
	paths := []string{"tendril.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tendril", "config.yaml"))
	}
	return paths
}

// FindConfig locates a config file. An explicit path must exist.
// Without one, the first existing search path wins; an empty result means
// defaults and environment only.
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
	return "", nil
}

// Config holds all tendril configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Agent   AgentConfig   `yaml:"agent"`
	Redis   RedisConfig   `yaml:"redis"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP and WebSocket surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig selects and configures the LLM provider.
type BackendConfig struct {
	Provider      string        `yaml:"provider"`
	GollmProvider string        `yaml:"gollm_provider"` // upstream used by the gollm provider
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	ContextLength int           `yaml:"context_length"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AgentConfig tunes the execution graph.
type AgentConfig struct {
	SystemPrompt     string            `yaml:"system_prompt"`
	MaxIterations    int               `yaml:"max_iterations"`
	TokenThreshold   int               `yaml:"token_threshold"`
	MaxParallelTools int               `yaml:"max_parallel_tools"`
	MaxInputBytes    int               `yaml:"max_input_bytes"`
	PhraseSeed       uint64            `yaml:"phrase_seed"` // 0 seeds from the clock
	Compression      CompressionConfig `yaml:"compression"`
}

// CompressionConfig picks the history compression strategy.
type CompressionConfig struct {
	Strategy     string `yaml:"strategy"`
	KeepRecent   int    `yaml:"keep_recent"`
	PreviewRunes int    `yaml:"preview_runes"`
}

// RedisConfig enables the distributed session lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			PingInterval:    15 * time.Second,
			PongTimeout:     15 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Backend: BackendConfig{
			Provider:      ProviderOllama,
			GollmProvider: ProviderOllama,
			Model:         "gemma3:4b",
			BaseURL:       "http://localhost:11434",
			MaxTokens:     1024,
			ContextLength: 5120,
			Timeout:       2 * time.Minute,
		},
		Agent: AgentConfig{
			SystemPrompt:     DefaultSystemPrompt,
			MaxIterations:    50,
			TokenThreshold:   1000,
			MaxParallelTools: 4,
			MaxInputBytes:    4096,
			Compression: CompressionConfig{
				Strategy:     CompressTruncate,
				KeepRecent:   2,
				PreviewRunes: 200,
			},
		},
		Redis: RedisConfig{
			Prefix:  "tendril:",
			LockTTL: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if any),
// then environment overrides. A .env file in the working directory is loaded
// first without overriding variables already set.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env"). Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays TENDRIL_* variables and provider API keys.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("TENDRIL_ADDR", &c.Server.Addr)
	str("TENDRIL_PROVIDER", &c.Backend.Provider)
	str("TENDRIL_MODEL", &c.Backend.Model)
	str("TENDRIL_BASE_URL", &c.Backend.BaseURL)
	str("TENDRIL_API_KEY", &c.Backend.APIKey)
	str("TENDRIL_SYSTEM_PROMPT", &c.Agent.SystemPrompt)
	str("TENDRIL_COMPRESSION", &c.Agent.Compression.Strategy)
	str("TENDRIL_REDIS_ADDR", &c.Redis.Addr)
	str("TENDRIL_LOG_LEVEL", &c.Log.Level)
	str("TENDRIL_LOG_FORMAT", &c.Log.Format)
	num("TENDRIL_MAX_ITERATIONS", &c.Agent.MaxIterations)
	num("TENDRIL_TOKEN_THRESHOLD", &c.Agent.TokenThreshold)
	num("TENDRIL_MAX_INPUT_SIZE", &c.Agent.MaxInputBytes)

	if v, ok := lookup("TENDRIL_ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	if c.Backend.APIKey == "" {
		switch c.Backend.Provider {
		case ProviderOpenAI:
			str("OPENAI_API_KEY", &c.Backend.APIKey)
		case ProviderAnthropic:
			str("ANTHROPIC_API_KEY", &c.Backend.APIKey)
		}
	}
	return errors.Join(errs...)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderGollm:
	default:
		errs = append(errs, fmt.Errorf("backend.provider: unknown provider %q", c.Backend.Provider))
	}
	if c.Backend.Model == "" {
		errs = append(errs, errors.New("backend.model: required"))
	}
	if c.Backend.Provider == ProviderAnthropic && c.Backend.APIKey == "" {
		errs = append(errs, errors.New("backend.api_key: required for anthropic (or set ANTHROPIC_API_KEY)"))
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_iterations: must be positive, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.TokenThreshold <= 0 {
		errs = append(errs, fmt.Errorf("agent.token_threshold: must be positive, got %d", c.Agent.TokenThreshold))
	}
	if c.Agent.MaxParallelTools < 0 {
		errs = append(errs, fmt.Errorf("agent.max_parallel_tools: must not be negative, got %d", c.Agent.MaxParallelTools))
	}
	if c.Agent.MaxInputBytes <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_input_bytes: must be positive, got %d", c.Agent.MaxInputBytes))
	}
	switch c.Agent.Compression.Strategy {
	case CompressTruncate, CompressSummarize, CompressChain, CompressOff:
	default:
		errs = append(errs, fmt.Errorf("agent.compression.strategy: unknown strategy %q", c.Agent.Compression.Strategy))
	}
	if c.Agent.Compression.KeepRecent < 0 {
		errs = append(errs, errors.New("agent.compression.keep_recent: must not be negative"))
	}
	if c.Server.PingInterval <= 0 || c.Server.PongTimeout <= 0 {
		errs = append(errs, errors.New("server: ping_interval and pong_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
