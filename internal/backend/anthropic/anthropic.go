// Package anthropic implements ports.Backend over the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/aretw0/tendril/internal/backend"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
)

const providerName = "anthropic"

// Options configure the adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	Logger      *slog.Logger
}

// Backend is the Messages API adapter.
type Backend struct {
	client *anthropic.Client
	opts   Options
}

// New creates a backend with its own client. baseURL may be empty.
func New(apiKey, baseURL string, optFns ...func(o *Options)) *Backend {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, option.WithMaxRetries(0))
	client := anthropic.NewClient(clientOpts...)
	return NewFromClient(&client, optFns...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Backend {
	opts := Options{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 1024,
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
	system, messages := buildMessages(history)
	params := anthropic.MessageNewParams{
		Model:       b.opts.Model,
		Messages:    messages,
		MaxTokens:   b.opts.MaxTokens,
		Temperature: anthropic.Float(b.opts.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, backend.Fail(providerName, err)
	}

	var text strings.Builder
	var calls []domain.ToolCallRequest
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			calls = append(calls, backend.ToolCall(use.ID, use.Name, string(use.Input)))
		}
	}
	if text.Len() == 0 && len(calls) == 0 {
		return nil, backend.Fail(providerName, errors.New("empty response"))
	}

	usage := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	b.opts.Logger.Debug("messages call",
		"model", string(b.opts.Model),
		"stop_reason", string(resp.StopReason),
		"tool_calls", len(calls),
		"tokens", usage,
	)
	return &domain.BackendReply{
		Message:    domain.AssistantMessage(text.String(), calls...),
		TokenUsage: usage,
	}, nil
}

// buildMessages splits system prompts out of the history and folds consecutive
// tool results into a single user turn, as the Messages API requires.
func buildMessages(history []domain.Message) (string, []anthropic.MessageParam) {
	var system []string
	var messages []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			messages = append(messages, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range history {
		switch m.Role {
		case domain.RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case domain.RoleTool:
			isError := strings.HasPrefix(m.Content, "ERROR:")
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isError))
		case domain.RoleUser:
			flush()
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case domain.RoleAssistant:
			flush()
			var content []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, c := range m.ToolCalls {
				args := c.Args
				if args == nil {
					args = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(c.ID, args, c.Name))
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		}
	}
	flush()
	return strings.Join(system, "\n\n"), messages
}

func buildTools(tools []domain.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch req := t.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			out[i].OfTool.Description = anthropic.String(t.Description)
		}
	}
	return out
}
