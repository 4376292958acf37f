// Package gollm implements ports.Backend on top of gollm, which speaks to many
// providers (Ollama, OpenAI, Anthropic, Groq, Mistral...) through one text API.
//
// gollm returns plain text, so tool calls travel as a JSON block the model is
// instructed to emit: {"tool_calls": [{"name": "...", "arguments": {...}}]}.
package gollm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/tendril/internal/backend"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/teilomillet/gollm"
)

// ToolInstruction is appended to the system prompt when tools are offered.
const ToolInstruction = `To use tools, answer with only a JSON object of the form ` +
	`{"tool_calls": [{"name": "<tool>", "arguments": {...}}]}. ` +
	`You may request several calls at once. Tool results are returned as [Tool Result] lines. ` +
	`When you have the answer, reply in plain text without JSON.`

// GenerateFunc produces the model's text for a prompt.
type GenerateFunc func(ctx context.Context, prompt *gollm.Prompt) (string, error)

// Options configure the adapter.
type Options struct {
	Provider    string
	Model       string
	APIKey      string
	Endpoint    string // Ollama endpoint
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

// Backend is the gollm adapter.
type Backend struct {
	provider string
	generate GenerateFunc
	logger   *slog.Logger
}

// New builds a gollm LLM for opts.Provider.
func New(opts Options) (*Backend, error) {
	if opts.Provider == "" {
		opts.Provider = "ollama"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	cfg := []gollm.ConfigOption{
		gollm.SetProvider(opts.Provider),
		gollm.SetModel(opts.Model),
		gollm.SetMaxTokens(opts.MaxTokens),
		gollm.SetTemperature(opts.Temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if opts.APIKey != "" {
		cfg = append(cfg, gollm.SetAPIKey(opts.APIKey))
	}
	if opts.Provider == "ollama" && opts.Endpoint != "" {
		cfg = append(cfg, gollm.SetOllamaEndpoint(opts.Endpoint))
	}

	llm, err := gollm.NewLLM(cfg...)
	if err != nil {
		return nil, fmt.Errorf("create gollm LLM for provider %s: %w", opts.Provider, err)
	}
	generate := func(ctx context.Context, p *gollm.Prompt) (string, error) {
		return llm.Generate(ctx, p)
	}
	return NewWithGenerator(opts.Provider, generate, opts.Logger), nil
}

// NewWithGenerator wraps an arbitrary generator.
func NewWithGenerator(provider string, generate GenerateFunc, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Backend{provider: provider, generate: generate, logger: logger}
}

// Call implements ports.Backend.
func (b *Backend) Call(ctx context.Context, history []domain.Message, tools []domain.ToolSpec) (*domain.BackendReply, error) {
	text, err := b.generate(ctx, buildPrompt(history, tools))
	if err != nil {
		return nil, backend.Fail(b.provider, err)
	}

	content, calls, err := parseToolCalls(text)
	if err != nil {
		return nil, backend.Fail(b.provider, err)
	}
	usage := backend.EstimateTokens(history, text)
	b.logger.Debug("gollm generate", "provider", b.provider, "tool_calls", len(calls), "tokens", usage)
	return &domain.BackendReply{
		Message:    domain.AssistantMessage(content, calls...),
		TokenUsage: usage,
	}, nil
}

func buildPrompt(history []domain.Message, tools []domain.ToolSpec) *gollm.Prompt {
	var system []string
	var parts []string
	for _, m := range history {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleUser:
			parts = append(parts, m.Content)
		case domain.RoleAssistant:
			if m.Content != "" {
				parts = append(parts, "[Assistant]: "+m.Content)
			}
			if m.HasToolCalls() {
				parts = append(parts, "[Tool Calls]: "+encodeCalls(m.ToolCalls))
			}
		case domain.RoleTool:
			prefix := "[Tool Result]"
			if strings.HasPrefix(m.Content, "ERROR:") {
				prefix = "[Tool Error]"
			}
			parts = append(parts, fmt.Sprintf("%s %s#%s: %s", prefix, m.ToolName, m.ToolCallID, m.Content))
		}
	}

	input := strings.Join(parts, "\n")
	if input == "" {
		input = "Hello"
	}

	var opts []gollm.PromptOption
	if len(tools) > 0 {
		system = append(system, ToolInstruction)
		defs := make([]gollm.Tool, 0, len(tools))
		for _, t := range tools {
			defs = append(defs, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(defs))
	}
	if len(system) > 0 {
		opts = append(opts, gollm.WithSystemPrompt(strings.Join(system, "\n\n"), gollm.CacheTypeEphemeral))
	}
	return gollm.NewPrompt(input, opts...)
}

type rawCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseToolCalls splits a reply into leading prose and the tool calls it requests.
// Both {"tool_calls": [...]} and a bare [{"name": ...}] array are accepted.
func parseToolCalls(text string) (string, []domain.ToolCallRequest, error) {
	start := strings.Index(text, `{"tool_calls"`)
	wrapped := start >= 0
	if !wrapped {
		start = strings.Index(text, `[{"name"`)
	}
	if start < 0 {
		return strings.TrimSpace(text), nil, nil
	}

	block := strings.TrimSpace(text[start:])
	block = strings.TrimSuffix(block, "```")

	var raws []rawCall
	if wrapped {
		var env struct {
			ToolCalls []rawCall `json:"tool_calls"`
		}
		if err := decodeLenient(block, &env); err != nil {
			return "", nil, fmt.Errorf("parse tool calls: %w", err)
		}
		raws = env.ToolCalls
	} else if err := decodeLenient(block, &raws); err != nil {
		return "", nil, fmt.Errorf("parse tool calls: %w", err)
	}

	calls := make([]domain.ToolCallRequest, 0, len(raws))
	for _, rc := range raws {
		// IDs are assigned by the engine.
		calls = append(calls, backend.ToolCall("", rc.Name, string(rc.Arguments)))
	}

	prose := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text[:start]), "```json"))
	return prose, calls, nil
}

func decodeLenient(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(v); err == nil {
		return nil
	}
	// Fall back to a repaired copy of the first JSON value.
	args, err := backend.DecodeArgs(s)
	if err == nil {
		b, _ := json.Marshal(args)
		return json.Unmarshal(b, v)
	}
	return err
}

func encodeCalls(calls []domain.ToolCallRequest) string {
	raws := make([]map[string]any, len(calls))
	for i, c := range calls {
		raws[i] = map[string]any{"name": c.Name, "arguments": c.Args}
	}
	b, err := json.Marshal(map[string]any{"tool_calls": raws})
	if err != nil {
		return "{}"
	}
	return string(b)
}
