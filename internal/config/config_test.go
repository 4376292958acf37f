package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ProviderOllama, cfg.Backend.Provider)
	assert.Equal(t, "gemma3:4b", cfg.Backend.Model)
	assert.Equal(t, 5120, cfg.Backend.ContextLength)
	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.Equal(t, 1000, cfg.Agent.TokenThreshold)
	assert.Equal(t, 4096, cfg.Agent.MaxInputBytes)
	assert.Equal(t, 15*time.Second, cfg.Server.PingInterval)
	assert.Equal(t, DefaultSystemPrompt, cfg.Agent.SystemPrompt)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tendril.yaml")
	t.Setenv("TEST_TENDRIL_MODEL", "llama3.2")
	yml := `
server:
  addr: ":9090"
  ping_interval: 5s
backend:
  provider: openai
  model: ${TEST_TENDRIL_MODEL}
agent:
  token_threshold: 200
  compression:
    strategy: summarize
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.PingInterval)
	assert.Equal(t, 15*time.Second, cfg.Server.PongTimeout, "unset keys keep defaults")
	assert.Equal(t, ProviderOpenAI, cfg.Backend.Provider)
	assert.Equal(t, "llama3.2", cfg.Backend.Model)
	assert.Equal(t, 200, cfg.Agent.TokenThreshold)
	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.Equal(t, CompressSummarize, cfg.Agent.Compression.Strategy)
	assert.Equal(t, 2, cfg.Agent.Compression.KeepRecent)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"TENDRIL_PROVIDER":        "anthropic",
		"TENDRIL_MODEL":           "claude-haiku",
		"TENDRIL_TOKEN_THRESHOLD": "300",
		"TENDRIL_REDIS_ADDR":      "localhost:6379",
		"TENDRIL_ALLOWED_ORIGINS": "http://a.test, http://b.test",
		"ANTHROPIC_API_KEY":       "sk-ant",
		"OPENAI_API_KEY":          "sk-openai",
	}))
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Backend.Provider)
	assert.Equal(t, "claude-haiku", cfg.Backend.Model)
	assert.Equal(t, 300, cfg.Agent.TokenThreshold)
	assert.Equal(t, "sk-ant", cfg.Backend.APIKey, "provider key follows the provider")
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
}

func TestApplyEnv_ExplicitKeyWins(t *testing.T) {
	cfg := Default()
	cfg.Backend.Provider = ProviderOpenAI
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		"TENDRIL_API_KEY": "explicit",
		"OPENAI_API_KEY":  "ambient",
	})))
	assert.Equal(t, "explicit", cfg.Backend.APIKey)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{"TENDRIL_MAX_ITERATIONS": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TENDRIL_MAX_ITERATIONS")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Backend.Provider = "carrier-pigeon"
	cfg.Backend.Model = ""
	cfg.Agent.MaxIterations = 0
	cfg.Agent.Compression.Strategy = "zip"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "backend.provider")
	assert.Contains(t, msg, "backend.model")
	assert.Contains(t, msg, "agent.max_iterations")
	assert.Contains(t, msg, "agent.compression.strategy")
}

func TestValidate_AnthropicNeedsKey(t *testing.T) {
	cfg := Default()
	cfg.Backend.Provider = ProviderAnthropic
	require.Error(t, cfg.Validate())

	cfg.Backend.APIKey = "sk"
	require.NoError(t, cfg.Validate())
}

func TestFindConfig(t *testing.T) {
	_, err := FindConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "present.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	found, err := FindConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, found)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TENDRIL_DOTENV_PROBE=loaded\n"), 0o644))
	t.Setenv("TENDRIL_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("TENDRIL_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "loaded", os.Getenv("TENDRIL_DOTENV_PROBE"))
}
