// Package message defines the conversation data model: a tagged union of
// message kinds and an append-only log with id-based cross references.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a message variant.
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindTool      Kind = "tool"
	KindSystem    Kind = "system"
)

// ToolCall is a single tool invocation requested by the model.
// Arguments is one serialized JSON document, built by concatenating
// streamed fragments; it is parsed only at execution time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the tagged union over all message kinds. Each variant carries
// only the fields it needs. Messages are never mutated after creation.
type Message interface {
	Kind() Kind
	Text() string
	CreatedAt() time.Time
}

type meta struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func newMeta() meta {
	return meta{ID: uuid.NewString(), Timestamp: time.Now()}
}

// User is a message typed by the user, optionally with attachment paths.
type User struct {
	meta
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// NewUser creates a user message.
func NewUser(content string, attachments ...string) *User {
	return &User{meta: newMeta(), Content: content, Attachments: attachments}
}

func (m *User) Kind() Kind           { return KindUser }
func (m *User) Text() string         { return m.Content }
func (m *User) CreatedAt() time.Time { return m.Timestamp }

// Assistant is a finalized model response. Content may be empty when
// ToolCalls is non-empty.
type Assistant struct {
	meta
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// NewAssistant creates an assistant message.
func NewAssistant(content, reasoning string, calls []ToolCall) *Assistant {
	return &Assistant{meta: newMeta(), Content: content, Reasoning: reasoning, ToolCalls: calls}
}

func (m *Assistant) Kind() Kind           { return KindAssistant }
func (m *Assistant) Text() string         { return m.Content }
func (m *Assistant) CreatedAt() time.Time { return m.Timestamp }

// Tool is the result of exactly one tool call, referencing it by id.
type Tool struct {
	meta
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// NewTool creates a successful tool result message.
func NewTool(callID, name, content string) *Tool {
	return &Tool{meta: newMeta(), ToolCallID: callID, Name: name, Content: content}
}

// NewToolError creates a failed tool result message. Failures are data,
// not errors: they keep the one-result-per-call invariant intact.
func NewToolError(callID, name, content string) *Tool {
	return &Tool{meta: newMeta(), ToolCallID: callID, Name: name, Content: content, IsError: true}
}

func (m *Tool) Kind() Kind           { return KindTool }
func (m *Tool) Text() string         { return m.Content }
func (m *Tool) CreatedAt() time.Time { return m.Timestamp }

// System is an injected notice visible in the transcript (for example the
// tool-call truncation notice). The per-request system prompt is not stored
// as a System message; it is rebuilt every turn.
type System struct {
	meta
	Content string `json:"content"`
}

// NewSystem creates a system notice message.
func NewSystem(content string) *System {
	return &System{meta: newMeta(), Content: content}
}

func (m *System) Kind() Kind           { return KindSystem }
func (m *System) Text() string         { return m.Content }
func (m *System) CreatedAt() time.Time { return m.Timestamp }
