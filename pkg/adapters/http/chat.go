package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/session"
)

// maxChatBody caps POST /ai/chat bodies.
const maxChatBody = 64 << 10

// ChatRequest is the JSON body of POST /ai/chat. A plain-text body is accepted too.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the answer of POST /ai/chat.
type ChatResponse struct {
	Output string `json:"output"`
}

// Chat handles POST /ai/chat: one turn on a fresh conversation.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) > maxChatBody {
		writeError(w, http.StatusRequestEntityTooLarge, "message too large")
		return
	}

	message, err := chatMessage(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	message, err = s.Sessions.Sanitize(message)
	switch {
	case errors.Is(err, session.ErrInputTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := s.Sessions.Open("chat")
	defer s.Sessions.Close(sess.ID)

	var final domain.FeedbackEvent
	err = s.runTurn(r.Context(), sess.ID, message, func(ev domain.FeedbackEvent) error {
		if ev.Kind == domain.FeedbackResult || ev.Kind == domain.FeedbackError {
			final = ev
		}
		return nil
	})

	switch {
	case final.Kind == domain.FeedbackResult:
		writeJSON(w, http.StatusOK, ChatResponse{Output: final.Text})
	case r.Context().Err() != nil:
		// Client is gone.
	case final.Kind == domain.FeedbackError:
		writeError(w, http.StatusBadGateway, final.Text)
	default:
		msg := "no answer"
		if err != nil {
			msg = err.Error()
		}
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func chatMessage(contentType string, body []byte) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := strings.TrimSpace(string(body))
	if mediaType == "application/json" || (mediaType == "" && strings.HasPrefix(trimmed, "{")) {
		var req ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", err
		}
		return strings.TrimSpace(req.Message), nil
	}
	return trimmed, nil
}
