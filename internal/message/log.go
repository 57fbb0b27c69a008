package message

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Log is the append-only conversation log. Messages are only ever appended;
// budget trimming operates on a copied view, never on the log itself.
type Log struct {
	mu       sync.RWMutex
	messages []Message
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds messages to the end of the log.
func (l *Log) Append(msgs ...Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msgs...)
	l.mu.Unlock()
}

// Messages returns a copy of the full log.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recent message, or nil if the log is empty.
func (l *Log) Last() Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.messages) == 0 {
		return nil
	}
	return l.messages[len(l.messages)-1]
}

// envelope wraps a message with its kind for serialization.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Message json.RawMessage `json:"message"`
}

// MarshalJSON serializes the log as a list of kind-tagged envelopes.
func (l *Log) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	envs := make([]envelope, 0, len(l.messages))
	for _, m := range l.messages {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		envs = append(envs, envelope{Kind: m.Kind(), Message: raw})
	}
	return json.Marshal(envs)
}

// UnmarshalJSON restores a log from its envelope form.
func (l *Log) UnmarshalJSON(data []byte) error {
	var envs []envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}

	msgs := make([]Message, 0, len(envs))
	for _, env := range envs {
		var m Message
		switch env.Kind {
		case KindUser:
			m = &User{}
		case KindAssistant:
			m = &Assistant{}
		case KindTool:
			m = &Tool{}
		case KindSystem:
			m = &System{}
		default:
			return fmt.Errorf("unknown message kind: %q", env.Kind)
		}
		if err := json.Unmarshal(env.Message, m); err != nil {
			return err
		}
		msgs = append(msgs, m)
	}

	l.mu.Lock()
	l.messages = msgs
	l.mu.Unlock()
	return nil
}
