// Package checkpoint persists resumable progress for long-running batch
// work and provides the interrupt predicate consumed by the turn loop.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Interrupter reports whether in-flight work should stop at its next safe
// point. Implementations must be safe for concurrent use.
type Interrupter interface {
	ShouldInterrupt() bool
}

// Flag is the basic Interrupter: an atomic boolean raised from a signal
// handler or another goroutine.
type Flag struct {
	raised atomic.Bool
}

// Raise marks the flag.
func (f *Flag) Raise() { f.raised.Store(true) }

// Reset clears the flag.
func (f *Flag) Reset() { f.raised.Store(false) }

// ShouldInterrupt reports whether the flag has been raised.
func (f *Flag) ShouldInterrupt() bool { return f.raised.Load() }

// Checkpoint is a snapshot of batch progress. Work resumes from the
// recorded phase, skipping already-processed items.
type Checkpoint struct {
	PhaseIndex    int            `json:"phase_index"`
	PhaseProgress map[string]int `json:"phase_progress,omitempty"`
	ProcessedIDs  []string       `json:"processed_ids,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// New creates an empty checkpoint.
func New() *Checkpoint {
	return &Checkpoint{PhaseProgress: make(map[string]int)}
}

// MarkProcessed records one completed item.
func (c *Checkpoint) MarkProcessed(id string) {
	c.ProcessedIDs = append(c.ProcessedIDs, id)
}

// Processed reports whether an item was already handled.
func (c *Checkpoint) Processed(id string) bool {
	for _, p := range c.ProcessedIDs {
		if p == id {
			return true
		}
	}
	return false
}

// Save writes the checkpoint atomically via a temp file and rename, so a
// crash mid-write never leaves a truncated checkpoint behind.
func (c *Checkpoint) Save(path string) error {
	c.Timestamp = time.Now()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

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

// Load reads a checkpoint from disk. A missing file yields a fresh
// checkpoint, not an error.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	if c.PhaseProgress == nil {
		c.PhaseProgress = make(map[string]int)
	}
	return &c, nil
}

// Discard removes a checkpoint file after the work completes.
func Discard(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
