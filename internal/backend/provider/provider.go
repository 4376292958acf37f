// Package provider builds the configured language-model backend.
package provider

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicbackend "github.com/aretw0/tendril/internal/backend/anthropic"
	gollmbackend "github.com/aretw0/tendril/internal/backend/gollm"
	openaibackend "github.com/aretw0/tendril/internal/backend/openai"
	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/ports"
)

// New returns the backend selected by cfg.Provider.
//
// "ollama" talks to Ollama's OpenAI-compatible /v1 endpoint and forwards the
// context length as num_ctx.
func New(cfg config.BackendConfig, logger *slog.Logger) (ports.Backend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With("provider", cfg.Provider, "model", cfg.Model)

	switch cfg.Provider {
	case config.ProviderOllama:
		base := strings.TrimSuffix(cfg.BaseURL, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		key := cfg.APIKey
		if key == "" {
			key = "ollama"
		}
		return openaibackend.New(key, base, func(o *openaibackend.Options) {
			o.Provider = config.ProviderOllama
			o.Model = cfg.Model
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
			o.NumCtx = cfg.ContextLength
			o.Logger = logger
		}), nil

	case config.ProviderOpenAI:
		base := cfg.BaseURL
		if base == config.Default().Backend.BaseURL {
			base = ""
		}
		return openaibackend.New(cfg.APIKey, base, func(o *openaibackend.Options) {
			o.Model = cfg.Model
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
			o.Logger = logger
		}), nil

	case config.ProviderAnthropic:
		base := cfg.BaseURL
		if base == config.Default().Backend.BaseURL {
			base = ""
		}
		return anthropicbackend.New(cfg.APIKey, base, func(o *anthropicbackend.Options) {
			o.Model = anthropic.Model(cfg.Model)
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
			o.Logger = logger
		}), nil

	case config.ProviderGollm:
		return gollmbackend.New(gollmbackend.Options{
			Provider:    cfg.GollmProvider,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Endpoint:    cfg.BaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Logger:      logger,
		})

	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}
