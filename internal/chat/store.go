package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"loom/internal/logging"
	"loom/internal/message"
)

// Store persists sessions as JSON files, one per session, under the user
// data directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the default sessions directory.
func NewStore() (*Store, error) {
	dir, err := sessionsDir()
	if err != nil {
		return nil, err
	}
	return NewStoreAt(dir)
}

// NewStoreAt creates a store rooted at an explicit directory. Used by tests.
func NewStoreAt(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// sessionsDir resolves the XDG data directory for session files.
func sessionsDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "loom", "sessions"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "loom", "sessions"), nil
}

// sessionFile is the on-disk shape of one session.
type sessionFile struct {
	ID         string       `json:"id"`
	StartTime  time.Time    `json:"start_time"`
	LastActive time.Time    `json:"last_active"`
	WorkDir    string       `json:"work_dir,omitempty"`
	Model      string       `json:"model,omitempty"`
	Summary    string       `json:"summary,omitempty"`
	Log        *message.Log `json:"log"`
}

// Save writes the session to disk, atomically replacing any previous file.
func (s *Store) Save(sess *Session) error {
	file := sessionFile{
		ID:         sess.ID,
		StartTime:  sess.StartTime,
		LastActive: time.Now(),
		WorkDir:    sess.WorkDir,
		Model:      sess.Model,
		Summary:    sess.Summary(),
		Log:        sess.Log,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}

	path := s.path(sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads a stored session by id.
func (s *Store) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	if file.Log == nil {
		file.Log = message.NewLog()
	}

	return &Session{
		ID:        file.ID,
		StartTime: file.StartTime,
		WorkDir:   file.WorkDir,
		Model:     file.Model,
		Log:       file.Log,
	}, nil
}

// List returns stored session infos, most recently active first. Unreadable
// files are skipped.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var file sessionFile
		if err := json.Unmarshal(data, &file); err != nil {
			logging.Debug("skipping unreadable session file", "file", entry.Name(), "error", err)
			continue
		}

		count := 0
		if file.Log != nil {
			count = file.Log.Len()
		}
		infos = append(infos, Info{
			ID:           file.ID,
			StartTime:    file.StartTime,
			LastActive:   file.LastActive,
			Summary:      file.Summary,
			MessageCount: count,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].LastActive.After(infos[j].LastActive) })
	return infos, nil
}

// LoadLatest loads the most recently active session, or nil when none exist.
func (s *Store) LoadLatest() (*Session, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, nil
	}
	return s.Load(infos[0].ID)
}

// Delete removes a stored session.
func (s *Store) Delete(id string) error {
	return os.Remove(s.path(id))
}

// Prune removes sessions older than maxAge and, keeping the newest, any
// beyond maxCount. Failures on individual files are logged and skipped.
func (s *Store) Prune(maxAge time.Duration, maxCount int) error {
	infos, err := s.List()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for i, info := range infos {
		if !info.LastActive.Before(cutoff) && i < maxCount {
			continue
		}
		if err := s.Delete(info.ID); err != nil {
			logging.Debug("failed to prune session", "session_id", info.ID, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		logging.Info("pruned old sessions", "deleted", deleted)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
