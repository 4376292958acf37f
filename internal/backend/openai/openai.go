// Package openai implements ports.Backend over the OpenAI Chat Completions API.
// Any OpenAI-compatible server works, including Ollama's /v1 endpoint.
package openai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aretw0/tendril/internal/backend"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the adapter.
type Options struct {
	Provider    string // reported in errors; "openai" unless set
	Model       string
	Temperature float64
	MaxTokens   int64
	// NumCtx is forwarded as Ollama's num_ctx when positive.
	NumCtx int
	Logger *slog.Logger
}

// Backend is the Chat Completions adapter.
type Backend struct {
	client *openai.Client
	opts   Options
}

// New creates a backend with its own client. baseURL may be empty for the
// public API.
func New(apiKey, baseURL string, optFns ...func(o *Options)) *Backend {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, option.WithMaxRetries(0))
	client := openai.NewClient(clientOpts...)
	return NewFromClient(&client, optFns...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Provider:    "openai",
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0,
		MaxTokens:   1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Backend{client: client, opts: opts}
}

// Call implements ports.Backend.
func (b *Backend) Call(ctx context.Context, history []domain.Message, tools []domain.ToolSpec) (*domain.BackendReply, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    buildMessages(history),
		Model:       b.opts.Model,
		Temperature: openai.Float(b.opts.Temperature),
	}
	if b.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(b.opts.MaxTokens)
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}

	var reqOpts []option.RequestOption
	if b.opts.NumCtx > 0 {
		reqOpts = append(reqOpts, option.WithJSONSet("options", map[string]any{"num_ctx": b.opts.NumCtx}))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, backend.Fail(b.opts.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, backend.Fail(b.opts.Provider, errors.New("no choices returned"))
	}

	choice := resp.Choices[0].Message
	msg := domain.AssistantMessage(choice.Content)
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, backend.ToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	usage := int(resp.Usage.TotalTokens)
	if usage == 0 {
		usage = backend.EstimateTokens(history, choice.Content)
	}
	b.opts.Logger.Debug("chat completion",
		"model", b.opts.Model,
		"tool_calls", len(msg.ToolCalls),
		"tokens", usage,
	)
	return &domain.BackendReply{Message: msg, TokenUsage: usage}, nil
}

func buildMessages(history []domain.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case domain.RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		case domain.RoleAssistant:
			if !m.HasToolCalls() {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   c.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: backend.EncodeArgs(c.Args),
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: assistant,
			})
		}
	}
	return messages
}

func buildTools(tools []domain.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		}
	}
	return out
}
