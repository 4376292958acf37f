package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// escapedEnd replaces content that would be mistaken for the end-of-stream marker.
const escapedEnd = "\u200b" + domain.EndOfStreamText

// Frame renders an event as a text frame. Content equal to the end-of-stream
// marker is prefixed with a zero-width space.
func Frame(ev domain.FeedbackEvent) string {
	if ev.Kind != domain.FeedbackEndOfStream && ev.Text == domain.EndOfStreamText {
		return escapedEnd
	}
	return ev.Wire()
}

// ServeAgent handles GET /agent/{room}.
//
// Each text frame from the client is one user input. Turns of a connection run
// one at a time, in arrival order, against the connection's own session. Every
// turn answers with progress frames, then the result or error text, then the
// end-of-stream marker. Closing the socket cancels the turn in flight.
func (s *Server) ServeAgent(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("websocket upgrade failed", "room", room, "err", err)
		return
	}

	sess := s.Sessions.Open(room)
	log := s.opts.Logger.With("session_id", sess.ID, "room", room)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	ws := &wsConn{conn: conn, writeWait: s.opts.PongTimeout}

	var wg sync.WaitGroup
	defer func() {
		cancel()
		_ = ws.close()
		wg.Wait()
		s.Sessions.Close(sess.ID)
		log.Info("websocket closed")
	}()

	inputs := make(chan string, 8)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		s.readInputs(ctx, conn, inputs, log)
	}()
	go func() {
		defer wg.Done()
		ws.keepalive(ctx, s.opts.PingInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inputs:
			if !ok {
				return
			}
			input, err := s.Sessions.Sanitize(raw)
			if err != nil {
				log.Info("input rejected", "err", err)
				if err := s.reject(ws, err); err != nil {
					return
				}
				continue
			}
			err = s.runTurn(ctx, sess.ID, input, func(ev domain.FeedbackEvent) error {
				return ws.writeText(Frame(ev))
			})
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return
			case errors.Is(err, errWrite):
				log.Warn("websocket write failed", "err", err)
				return
			default:
				// Failures already reached the client as an error frame.
				log.Debug("turn ended with error", "err", err)
			}
		}
	}
}

// reject answers an input that never reached the agent.
func (s *Server) reject(ws *wsConn, cause error) error {
	if err := ws.writeText(Frame(domain.Failure(cause.Error()))); err != nil {
		return err
	}
	return ws.writeText(Frame(domain.EndOfStream()))
}

func (s *Server) readInputs(ctx context.Context, conn *websocket.Conn, inputs chan<- string, log *slog.Logger) {
	defer close(inputs)

	deadline := s.opts.PingInterval + s.opts.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		if typ != websocket.TextMessage {
			continue
		}
		input := strings.TrimSpace(string(data))
		if input == "" {
			continue
		}
		select {
		case inputs <- input:
		case <-ctx.Done():
			return
		}
	}
}

var errWrite = errors.New("websocket write")

// wsConn serializes data frames; control frames may be sent concurrently.
type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
}

func (c *wsConn) writeText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return errors.Join(errWrite, err)
	}
	return nil
}

func (c *wsConn) keepalive(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
