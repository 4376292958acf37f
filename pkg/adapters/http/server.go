package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/feedback"
	"github.com/aretw0/tendril/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runner drives one turn of a conversation. *runtime.Engine implements it.
type Runner interface {
	Run(ctx context.Context, state *domain.ConversationState, input string, out *feedback.Stream) error
}

// Catalogue lists the tools offered to the model.
type Catalogue interface {
	Catalogue() []domain.ToolSpec
}

// Options configure the handler.
type Options struct {
	Version        string
	AllowedOrigins []string // "*" allows any origin
	PingInterval   time.Duration
	PongTimeout    time.Duration
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Server serves the agent over HTTP and WebSocket.
type Server struct {
	Runner   Runner
	Sessions *session.Manager
	Tools    Catalogue
	Streams  *StreamManager

	opts     Options
	upgrader websocket.Upgrader
}

// NewServer creates a server. Call Handler for the routes.
func NewServer(runner Runner, sessions *session.Manager, tools Catalogue, opts Options) *Server {
	opts.defaults()
	s := &Server{
		Runner:   runner,
		Sessions: sessions,
		Tools:    tools,
		Streams:  NewStreamManager(opts.Logger),
		opts:     opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// NewHandler is a shortcut for NewServer(...).Handler().
func NewHandler(runner Runner, sessions *session.Manager, tools Catalogue, opts Options) http.Handler {
	return NewServer(runner, sessions, tools, opts).Handler()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/tools", s.GetTools)
	r.Get("/agent/{room}", s.ServeAgent)
	r.Post("/ai/chat", s.Chat)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Get("/{id}", s.GetSession)
		r.Get("/{id}/events", s.SubscribeEvents)
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(r) {
			if slices.Contains(s.opts.AllowedOrigins, "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"app":      "tendril",
		"version":  strings.TrimSpace(s.opts.Version),
		"sessions": s.Sessions.Len(),
	})
}

// GetTools handles GET /tools.
func (s *Server) GetTools(w http.ResponseWriter, r *http.Request) {
	tools := s.Tools.Catalogue()
	if tools == nil {
		tools = []domain.ToolSpec{}
	}
	writeJSON(w, http.StatusOK, tools)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sessions.List())
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.Sessions.Info(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// runTurn executes one turn for a session, handing every event to emit in order.
// emit returning an error aborts the turn.
func (s *Server) runTurn(ctx context.Context, sessionID, input string, emit func(domain.FeedbackEvent) error) error {
	return s.Sessions.Turn(ctx, sessionID, func(ctx context.Context, state *domain.ConversationState) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		out := feedback.New(0)
		done := make(chan error, 1)
		go func() { done <- s.Runner.Run(ctx, state, input, out) }()

		var emitErr error
		for ev := range out.Events() {
			s.Streams.Broadcast(sessionID, ev)
			if err := emit(ev); err != nil {
				emitErr = err
				cancel()
				out.Abort()
				break
			}
		}
		runErr := <-done
		if emitErr != nil {
			return emitErr
		}
		return runErr
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
