// Package checkpoint persists pipeline progress snapshots as one JSON file
// per session. Saving the same session again supersedes the previous
// snapshot, which is exactly the resume semantic: the latest checkpoint for
// a session is the only one that matters.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexmex/scjnpipe/legal"
)

var (
	ErrNotFound         = errors.New("checkpoint: not found")
	ErrInvalidSessionID = errors.New("checkpoint: invalid session id")
)

// Store is a directory-backed checkpoint store. Safe for concurrent use.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates the checkpoint directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		dir = "checkpoints"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save writes cp atomically, superseding any previous checkpoint for the
// session. A zero CreatedAt is stamped with the current time.
func (s *Store) Save(cp legal.Checkpoint) error {
	if err := validSessionID(cp.SessionID); err != nil {
		return err
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal %s: %w", cp.SessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(cp.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename %s: %w", path, err)
	}
	return nil
}

// Load returns the checkpoint for sessionID, or ErrNotFound.
func (s *Store) Load(sessionID string) (*legal.Checkpoint, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", sessionID, err)
	}
	var cp legal.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", sessionID, err)
	}
	return &cp, nil
}

// List returns all checkpoints, newest first. Corrupt files are skipped
// with a warning, not fatal: a bad snapshot must never block resume of the
// good ones.
func (s *Store) List() ([]legal.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read dir: %w", err)
	}

	var out []legal.Checkpoint
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var cp legal.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil || cp.SessionID == "" {
			s.logger.Warn("skipping corrupt checkpoint", "file", e.Name())
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes the checkpoint for sessionID. Deleting a missing session
// is a no-op.
func (s *Store) Delete(sessionID string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: delete %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func validSessionID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}
