package chat

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loom/internal/message"
)

func newSavedSession(t *testing.T, store *Store, id, firstUserLine string) *Session {
	t.Helper()

	log := message.NewLog()
	log.Append(
		message.NewUser(firstUserLine),
		message.NewAssistant("sure", "", nil),
	)
	sess := &Session{
		ID:        id,
		StartTime: time.Now(),
		WorkDir:   "/work",
		Model:     "test-model",
		Log:       log,
	}
	if err := store.Save(sess); err != nil {
		t.Fatalf("save %s: %v", id, err)
	}
	return sess
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewStoreAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	saved := newSavedSession(t, store, "20260101-120000", "fix the build")

	loaded, err := store.Load(saved.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID != saved.ID || loaded.WorkDir != "/work" || loaded.Model != "test-model" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Log.Len() != 2 {
		t.Fatalf("restored %d messages, want 2", loaded.Log.Len())
	}
	if loaded.Log.Messages()[0].Text() != "fix the build" {
		t.Errorf("first message = %q", loaded.Log.Messages()[0].Text())
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store, err := NewStoreAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		newSavedSession(t, store, fmt.Sprintf("sess-%d", i), fmt.Sprintf("task %d", i))
		time.Sleep(10 * time.Millisecond)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("got %d infos", len(infos))
	}
	if infos[0].ID != "sess-2" {
		t.Errorf("newest first, got %q", infos[0].ID)
	}
	if infos[0].Summary != "task 2" || infos[0].MessageCount != 2 {
		t.Errorf("info = %+v", infos[0])
	}
}

func TestStoreListSkipsUnreadableFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStoreAt(dir)
	if err != nil {
		t.Fatal(err)
	}
	newSavedSession(t, store, "good", "hello")
	if err := os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "good" {
		t.Errorf("infos = %+v", infos)
	}
}

func TestStoreLoadLatest(t *testing.T) {
	t.Parallel()

	store, err := NewStoreAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	sess, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("empty store: %v", err)
	}
	if sess != nil {
		t.Fatal("empty store should yield nil session")
	}

	newSavedSession(t, store, "older", "a")
	time.Sleep(10 * time.Millisecond)
	newSavedSession(t, store, "newer", "b")

	sess, err = store.LoadLatest()
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if sess == nil || sess.ID != "newer" {
		t.Errorf("latest = %+v", sess)
	}
}

func TestStorePruneByCount(t *testing.T) {
	t.Parallel()

	store, err := NewStoreAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		newSavedSession(t, store, fmt.Sprintf("sess-%d", i), "x")
		time.Sleep(10 * time.Millisecond)
	}

	if err := store.Prune(24*time.Hour, 2); err != nil {
		t.Fatalf("prune: %v", err)
	}

	infos, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("kept %d sessions, want 2", len(infos))
	}
	if infos[0].ID != "sess-4" || infos[1].ID != "sess-3" {
		t.Errorf("kept = %s, %s", infos[0].ID, infos[1].ID)
	}
}

func TestSessionSummary(t *testing.T) {
	t.Parallel()

	log := message.NewLog()
	log.Append(
		message.NewSystem("notice"),
		message.NewUser("first line of the task\nsecond line"),
	)
	sess := NewSession(log, "", "")
	if got := sess.Summary(); got != "first line of the task" {
		t.Errorf("summary = %q", got)
	}

	long := strings.Repeat("a", 100)
	log2 := message.NewLog()
	log2.Append(message.NewUser(long))
	sess2 := NewSession(log2, "", "")
	got := sess2.Summary()
	if len(got) != 83 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncated summary = %q (len %d)", got, len(got))
	}

	empty := NewSession(message.NewLog(), "", "")
	if empty.Summary() != "" {
		t.Errorf("empty summary = %q", empty.Summary())
	}
}
