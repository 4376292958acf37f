package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/google/uuid"
)

// Status is the lifecycle stage of the latest turn of a session.
type Status string

const (
	StatusInitial    Status = "INITIAL"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// DefaultLockTTL bounds how long a crashed replica can hold a distributed session lock.
const DefaultLockTTL = 30 * time.Second

// Session is one client's isolated conversation.
type Session struct {
	ID        string
	Room      string
	CreatedAt time.Time

	// state is only touched inside Manager.Turn, under the session lock.
	state *domain.ConversationState

	mu       sync.Mutex
	status   Status
	turns    int
	messages int
	lastErr  string
}

// Info is a read-only snapshot of a session.
type Info struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Status    Status    `json:"status"`
	Turns     int       `json:"turns"`
	Messages  int       `json:"messages"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Room:      s.Room,
		Status:    s.status,
		Turns:     s.turns,
		Messages:  s.messages,
		LastError: s.lastErr,
		CreatedAt: s.CreatedAt,
	}
}

func (s *Session) setStatus(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	switch status {
	case StatusProcessing:
		s.turns++
		s.lastErr = ""
	case StatusError:
		if err != nil {
			s.lastErr = err.Error()
		}
	}
	s.messages = len(s.state.History)
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager owns the active sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*lockEntry

	systemPrompt string
	locker       ports.DistributedLocker
	lockTTL      time.Duration
	maxInput     int
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithMaxInput overrides DefaultMaxInputSize for Sanitize.
func WithMaxInput(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxInput = n
		}
	}
}

// WithSystemPrompt seeds every new session with a system message.
func WithSystemPrompt(prompt string) Option {
	return func(m *Manager) {
		m.systemPrompt = prompt
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty session manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*lockEntry),
		lockTTL:  DefaultLockTTL,
		maxInput: DefaultMaxInputSize,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a fresh session in room.
func (m *Manager) Open(room string) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		Room:      room,
		CreatedAt: m.now(),
		state:     domain.NewConversationState(id, m.systemPrompt),
		status:    StatusInitial,
	}
	s.messages = len(s.state.History)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Debug("session opened", "session_id", id, "room", room)
	return s
}

// Get returns an active session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// Close discards the session and its history.
// A turn still running keeps its own reference until it returns.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		m.logger.Debug("session closed", "session_id", id)
	}
}

// Info returns a snapshot of one session.
func (m *Manager) Info(id string) (Info, error) {
	s, err := m.Get(id)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// List returns snapshots of every active session, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// TurnFunc drives one turn against the session's state.
type TurnFunc func(ctx context.Context, state *domain.ConversationState) error

// Turn runs fn with exclusive access to the session state and records the outcome.
func (m *Manager) Turn(ctx context.Context, id string, fn TurnFunc) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	return m.WithLock(ctx, id, func(ctx context.Context) error {
		s.setStatus(StatusProcessing, nil)
		m.logger.Debug("turn started", "session_id", id, "status", StatusProcessing)

		err := fn(ctx, s.state)
		if err != nil {
			s.setStatus(StatusError, err)
			m.logger.Debug("turn failed", "session_id", id, "status", StatusError, "err", err)
			return err
		}

		s.setStatus(StatusCompleted, nil)
		m.logger.Debug("turn completed", "session_id", id, "status", StatusCompleted)
		return nil
	})
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// WithLock executes fn while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, "session:"+id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// The turn context may already be cancelled; release on a fresh one.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlock(relCtx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
