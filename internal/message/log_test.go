package message

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestLogAppendAndAccess(t *testing.T) {
	t.Parallel()

	l := NewLog()
	if l.Len() != 0 || l.Last() != nil {
		t.Fatal("fresh log is not empty")
	}

	u := NewUser("hello")
	a := NewAssistant("hi", "", nil)
	l.Append(u, a)

	if l.Len() != 2 {
		t.Fatalf("len = %d", l.Len())
	}
	if l.Last() != a {
		t.Error("Last() is not the newest message")
	}

	// The returned slice is a copy; mutating it leaves the log intact.
	view := l.Messages()
	view[0] = NewSystem("tampered")
	if l.Messages()[0] != u {
		t.Error("log shares its backing slice with callers")
	}
}

func TestLogJSONRoundTrip(t *testing.T) {
	t.Parallel()

	l := NewLog()
	l.Append(
		NewUser("read the file", "/tmp/a.txt"),
		NewAssistant("", "thinking about it", []ToolCall{
			{ID: "call_1", Name: "read_file", Arguments: `{"path":"/tmp/a.txt"}`},
		}),
		NewToolError("call_1", "read_file", "no such file"),
		NewSystem("tool-call limit reached"),
	)

	data, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := NewLog()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.Len() != 4 {
		t.Fatalf("restored %d messages, want 4", restored.Len())
	}

	msgs := restored.Messages()

	u, ok := msgs[0].(*User)
	if !ok {
		t.Fatalf("message 0 is %T", msgs[0])
	}
	if u.Content != "read the file" || len(u.Attachments) != 1 || u.Attachments[0] != "/tmp/a.txt" {
		t.Errorf("user = %+v", u)
	}

	a, ok := msgs[1].(*Assistant)
	if !ok {
		t.Fatalf("message 1 is %T", msgs[1])
	}
	if a.Reasoning != "thinking about it" || len(a.ToolCalls) != 1 {
		t.Errorf("assistant = %+v", a)
	}
	if a.ToolCalls[0].Arguments != `{"path":"/tmp/a.txt"}` {
		t.Errorf("arguments = %q", a.ToolCalls[0].Arguments)
	}

	tr, ok := msgs[2].(*Tool)
	if !ok {
		t.Fatalf("message 2 is %T", msgs[2])
	}
	if tr.ToolCallID != "call_1" || !tr.IsError || tr.Content != "no such file" {
		t.Errorf("tool = %+v", tr)
	}

	s, ok := msgs[3].(*System)
	if !ok {
		t.Fatalf("message 3 is %T", msgs[3])
	}
	if !strings.Contains(s.Content, "limit") {
		t.Errorf("system = %+v", s)
	}
}

func TestLogUnmarshalRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	data := []byte(`[{"kind":"robot","message":{}}]`)
	l := NewLog()
	if err := json.Unmarshal(data, l); err == nil {
		t.Fatal("unknown kind must fail to decode")
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		m := NewUser("x")
		if seen[m.ID] {
			t.Fatalf("duplicate id %q", m.ID)
		}
		seen[m.ID] = true
	}
}
