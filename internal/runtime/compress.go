package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Compressor reduces a history under token pressure.
// Implementations never return more messages than they receive and are idempotent:
// compressing their own output again changes nothing.
type Compressor interface {
	Compress(ctx context.Context, history []domain.Message) ([]domain.Message, error)
}

// TruncatedMarker is appended to tool output cut by the Truncator.
const TruncatedMarker = " ...[truncated]"

// Truncator shortens old tool results in place.
type Truncator struct {
	// KeepRecent is the number of newest tool messages left untouched.
	KeepRecent int
	// PreviewRunes is how much of an older tool message survives.
	PreviewRunes int
}

// NewTruncator returns a Truncator with sane floors.
func NewTruncator(keepRecent, previewRunes int) *Truncator {
	if keepRecent < 0 {
		keepRecent = 0
	}
	if previewRunes <= 0 {
		previewRunes = 200
	}
	return &Truncator{KeepRecent: keepRecent, PreviewRunes: previewRunes}
}

func (t *Truncator) Compress(_ context.Context, history []domain.Message) ([]domain.Message, error) {
	out := domain.CloneHistory(history)

	var toolIdx []int
	for i, m := range out {
		if m.Role == domain.RoleTool {
			toolIdx = append(toolIdx, i)
		}
	}

	cut := len(toolIdx) - t.KeepRecent
	for n := 0; n < cut; n++ {
		m := &out[toolIdx[n]]
		if m.Compressed || utf8.RuneCountInString(m.Content) <= t.PreviewRunes {
			continue
		}
		m.Content = truncateRunes(m.Content, t.PreviewRunes) + TruncatedMarker
		m.Compressed = true
	}
	return out, nil
}

// SummaryPrompt instructs the backend when summarizing earlier turns.
const SummaryPrompt = "Summarize the conversation below in a few sentences. Keep every number, " +
	"tool result and decision the assistant may need later. Reply with the summary only."

// Summarizer replaces every turn before the latest user message with one summary
// produced by the backend. The system prompt and the current turn are kept.
type Summarizer struct {
	Backend ports.Backend
	Prompt  string
}

func (s *Summarizer) Compress(ctx context.Context, history []domain.Message) ([]domain.Message, error) {
	head := 0
	if len(history) > 0 && history[0].Role == domain.RoleSystem {
		head = 1
	}

	lastUser := -1
	for i := len(history) - 1; i >= head; i-- {
		if history[i].Role == domain.RoleUser {
			lastUser = i
			break
		}
	}

	prefix := history[head:max(lastUser, head)]
	if len(prefix) == 0 || (len(prefix) == 1 && prefix[0].Compressed) {
		return domain.CloneHistory(history), nil
	}

	prompt := s.Prompt
	if prompt == "" {
		prompt = SummaryPrompt
	}
	req := []domain.Message{
		domain.SystemMessage(prompt),
		domain.UserMessage(transcript(prefix)),
	}
	reply, err := s.Backend.Call(ctx, req, nil)
	if err != nil {
		return nil, fmt.Errorf("summarize history: %w", err)
	}
	if reply == nil {
		return nil, errors.New("summarize history: empty reply")
	}

	summary := domain.SystemMessage("Summary of the earlier conversation: " + strings.TrimSpace(reply.Message.Content))
	summary.Compressed = true

	out := make([]domain.Message, 0, len(history)-len(prefix)+1)
	out = append(out, domain.CloneHistory(history[:head])...)
	out = append(out, summary)
	out = append(out, domain.CloneHistory(history[max(lastUser, head):])...)
	return out, nil
}

// Chain applies compressors in order.
type Chain []Compressor

func (c Chain) Compress(ctx context.Context, history []domain.Message) ([]domain.Message, error) {
	var err error
	for _, comp := range c {
		history, err = comp.Compress(ctx, history)
		if err != nil {
			return nil, err
		}
	}
	return history, nil
}

// HistorySize is the total rune count of message contents.
func HistorySize(history []domain.Message) int {
	n := 0
	for _, m := range history {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func transcript(msgs []domain.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch {
		case m.Role == domain.RoleTool:
			fmt.Fprintf(&sb, "tool %s: %s\n", m.ToolName, m.Content)
		case m.HasToolCalls():
			for _, c := range m.ToolCalls {
				fmt.Fprintf(&sb, "assistant called %s(%v)\n", c.Name, c.Args)
			}
			if m.Content != "" {
				fmt.Fprintf(&sb, "assistant: %s\n", m.Content)
			}
		default:
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}
	return sb.String()
}
