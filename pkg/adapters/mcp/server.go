package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/feedback"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// AskTool is the name of the tool that runs a full agent turn.
const AskTool = "ask"

// Invoker runs a single tool call. *runtime.Executor implements it.
type Invoker interface {
	Invoke(ctx context.Context, call domain.ToolCallRequest) domain.ToolCallResult
}

// Runner drives one agent turn. *runtime.Engine implements it.
type Runner interface {
	Run(ctx context.Context, state *domain.ConversationState, input string, out *feedback.Stream) error
}

// Options configure the server.
type Options struct {
	Version string
	// Runner enables the ask tool when set.
	Runner       Runner
	SystemPrompt string
	// Sanitize, when set, cleans the ask message or rejects it.
	Sanitize func(string) (string, error)
	Logger   *slog.Logger
}

// Server exposes the tool registry, and optionally the agent itself, over MCP.
type Server struct {
	registry  *registry.Registry
	invoker   Invoker
	opts      Options
	tools     []mcp.Tool
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(reg *registry.Registry, invoker Invoker, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		registry:  reg,
		invoker:   invoker,
		opts:      opts,
		mcpServer: server.NewMCPServer("tendril-mcp", strings.TrimSpace(opts.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Tools lists the MCP tool definitions served.
func (s *Server) Tools() []mcp.Tool {
	return append([]mcp.Tool(nil), s.tools...)
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	for _, name := range s.registry.Names() {
		tool, _ := s.registry.Lookup(name)
		def := mcp.NewTool(tool.Name, toolOptions(tool)...)
		s.tools = append(s.tools, def)
		s.mcpServer.AddTool(def, s.toolHandler(tool.Name))
	}

	if s.opts.Runner != nil {
		def := mcp.NewTool(AskTool,
			mcp.WithDescription("Ask the agent a question. It may use the tools above before answering."),
			mcp.WithString("message", mcp.Required(), mcp.Description("The question")),
		)
		s.tools = append(s.tools, def)
		s.mcpServer.AddTool(def, s.handleAsk)
	}
}

func toolOptions(tool registry.Tool) []mcp.ToolOption {
	opts := []mcp.ToolOption{mcp.WithDescription(tool.Description)}
	for _, p := range tool.Params {
		var propOpts []mcp.PropertyOption
		if !p.Optional {
			propOpts = append(propOpts, mcp.Required())
		}
		if p.Description != "" {
			propOpts = append(propOpts, mcp.Description(p.Description))
		}
		switch p.Type.JSONType() {
		case "number", "integer":
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return opts
}

func (s *Server) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := s.invoker.Invoke(ctx, domain.ToolCallRequest{
			ID:   "mcp_" + uuid.NewString(),
			Name: name,
			Args: request.GetArguments(),
		})
		if res.IsError() {
			return mcp.NewToolResultError(res.ErrorText), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := strings.TrimSpace(request.GetString("message", ""))
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}
	if s.opts.Sanitize != nil {
		clean, err := s.opts.Sanitize(message)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		message = clean
	}

	state := domain.NewConversationState("mcp-"+uuid.NewString(), s.opts.SystemPrompt)
	out := feedback.New(0)
	done := make(chan error, 1)
	go func() { done <- s.opts.Runner.Run(ctx, state, message, out) }()

	var final domain.FeedbackEvent
	for ev := range out.Events() {
		if ev.Kind == domain.FeedbackResult || ev.Kind == domain.FeedbackError {
			final = ev
		}
	}
	err := <-done

	switch {
	case final.Kind == domain.FeedbackResult:
		return mcp.NewToolResultText(final.Text), nil
	case final.Kind == domain.FeedbackError:
		return mcp.NewToolResultError(final.Text), nil
	case err != nil:
		return nil, err
	default:
		return mcp.NewToolResultError("no answer"), nil
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("tendril://tools", "Tool Catalogue",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.registry.Catalogue())
		if err != nil {
			return nil, fmt.Errorf("failed to encode catalogue: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "tendril://tools",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
