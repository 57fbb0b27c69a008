// Package chat persists conversation sessions to disk so a conversation can
// be resumed across runs.
package chat

import (
	"strings"
	"time"

	"loom/internal/message"
)

// Session binds a conversation log to its identity and metadata.
type Session struct {
	ID        string       `json:"id"`
	StartTime time.Time    `json:"start_time"`
	WorkDir   string       `json:"work_dir,omitempty"`
	Model     string       `json:"model,omitempty"`
	Log       *message.Log `json:"log"`
}

// NewSession creates a fresh session around the given log.
func NewSession(log *message.Log, workDir, model string) *Session {
	return &Session{
		ID:        time.Now().Format("20060102-150405"),
		StartTime: time.Now(),
		WorkDir:   workDir,
		Model:     model,
		Log:       log,
	}
}

// Summary returns a short human-readable label for session lists: the first
// user message, truncated.
func (s *Session) Summary() string {
	if s.Log == nil {
		return ""
	}
	for _, m := range s.Log.Messages() {
		if m.Kind() != message.KindUser {
			continue
		}
		text := strings.TrimSpace(m.Text())
		if line, _, found := strings.Cut(text, "\n"); found {
			text = line
		}
		const max = 80
		if len(text) > max {
			text = text[:max] + "..."
		}
		return text
	}
	return ""
}

// Info describes a stored session without loading its full log.
type Info struct {
	ID           string    `json:"id"`
	StartTime    time.Time `json:"start_time"`
	LastActive   time.Time `json:"last_active"`
	Summary      string    `json:"summary"`
	MessageCount int       `json:"message_count"`
}
