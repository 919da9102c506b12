// Package store persists scraped documents, chunks, and embeddings.
//
// Two backends share one façade: a local directory of JSON files and a
// remote tabular store (SQLite here) with a generic documents table plus
// SCJN-specific child tables. Remote writes run behind a circuit breaker;
// when they fail the store falls back to the local backend and the save
// still succeeds. The caller never sees a remote outage as an error.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lexmex/scjnpipe/legal"
)

// Mode selects the write targets.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
	ModeDual   Mode = "dual"
)

// Embedding lifecycle states tracked on scjn_documents.
const (
	EmbeddingPending    = "pending"
	EmbeddingProcessing = "processing"
	EmbeddingCompleted  = "completed"
	EmbeddingFailed     = "failed"
)

var ErrNotFound = errors.New("store: document not found")

// Config configures the store.
type Config struct {
	// Mode selects local, remote, or dual writes. Default: local.
	Mode Mode `json:"mode" yaml:"mode"`

	// Dir is the root of the local backend. Documents live under
	// Dir/documents, chunks under Dir/chunks, embeddings under Dir/embeddings.
	Dir string `json:"dir" yaml:"dir"`

	// DB is the remote handle. Required for remote and dual modes.
	DB *sql.DB `json:"-" yaml:"-"`

	// SourceType tags rows in the shared documents table. Default: "scjn".
	SourceType string `json:"source_type" yaml:"source_type"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = ModeLocal
	}
	if c.SourceType == "" {
		c.SourceType = "scjn"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is the persistence façade. Safe for concurrent use.
type Store struct {
	cfg    Config
	local  *localBackend
	remote *remoteBackend // nil in local mode
	logger *slog.Logger

	mu       sync.RWMutex
	byQParam map[string]string // q_param -> document id
}

// New builds a Store and rehydrates the q_param index from the local
// directory, so Exists answers correctly across restarts.
func New(cfg Config) (*Store, error) {
	cfg.defaults()

	local, err := newLocalBackend(cfg.Dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		local:    local,
		logger:   cfg.Logger,
		byQParam: make(map[string]string),
	}

	if cfg.Mode != ModeLocal {
		if cfg.DB == nil {
			return nil, fmt.Errorf("store: mode %s requires a database handle", cfg.Mode)
		}
		remote, err := newRemoteBackend(cfg.DB, cfg.SourceType)
		if err != nil {
			return nil, err
		}
		s.remote = remote
	}

	index, err := local.rehydrate()
	if err != nil {
		return nil, err
	}
	s.byQParam = index
	if len(index) > 0 {
		s.logger.Info("rehydrated document index", "documents", len(index))
	}
	return s, nil
}

// SaveDocument upserts doc. Re-saving the same q_param replaces the record.
// A remote failure falls back to local and is not an error; only a local
// write failure surfaces.
func (s *Store) SaveDocument(ctx context.Context, doc *legal.Document) error {
	remoteOK := false
	if s.remote != nil {
		if err := s.remote.saveDocument(ctx, doc); err != nil {
			s.logger.Warn("remote document write failed, falling back to local",
				"document_id", doc.ID, "q_param", doc.QParam, "error", err)
		} else {
			remoteOK = true
		}
	}

	// Local write happens in local and dual modes, and as the fallback when
	// the remote write failed.
	if s.cfg.Mode != ModeRemote || !remoteOK {
		if err := s.local.saveDocument(doc); err != nil {
			return fmt.Errorf("store: local document write: %w", err)
		}
	}

	s.mu.Lock()
	prev, had := s.byQParam[doc.QParam]
	s.byQParam[doc.QParam] = doc.ID
	s.mu.Unlock()

	// A re-save under a new id supersedes the old files; drop them so a
	// restart's rehydration cannot index the stale record.
	if had && prev != doc.ID {
		s.local.removeDocument(prev)
	}
	return nil
}

// Exists reports whether a document with qParam was saved before. The remote
// store is consulted when enabled; on remote failure the local index decides.
func (s *Store) Exists(ctx context.Context, qParam string) bool {
	if s.remote != nil {
		if found, err := s.remote.exists(ctx, qParam); err == nil {
			return found
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byQParam[qParam]
	return ok
}

// DocumentID returns the id indexed for qParam.
func (s *Store) DocumentID(qParam string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byQParam[qParam]
	return id, ok
}

// LoadDocument reads a document back from the local backend.
func (s *Store) LoadDocument(qParam string) (*legal.Document, error) {
	id, ok := s.DocumentID(qParam)
	if !ok {
		return nil, fmt.Errorf("%w: q_param %s", ErrNotFound, qParam)
	}
	return s.local.loadDocument(id)
}

// SaveChunks writes chunks with the same fallback semantics as SaveDocument.
// Remote writes are batched upserts keyed by chunk_id.
func (s *Store) SaveChunks(ctx context.Context, documentID string, chunks []legal.TextChunk) error {
	remoteOK := false
	if s.remote != nil {
		if err := s.remote.saveChunks(ctx, documentID, chunks); err != nil {
			s.logger.Warn("remote chunk write failed, falling back to local",
				"document_id", documentID, "chunks", len(chunks), "error", err)
		} else {
			remoteOK = true
		}
	}
	if s.cfg.Mode != ModeRemote || !remoteOK {
		if err := s.local.saveChunks(documentID, chunks); err != nil {
			return fmt.Errorf("store: local chunk write: %w", err)
		}
	}
	return nil
}

// SaveEmbeddings writes embeddings locally and marks the document completed
// in the remote store when enabled.
func (s *Store) SaveEmbeddings(ctx context.Context, documentID string, embeddings []legal.Embedding) error {
	if err := s.local.saveEmbeddings(documentID, embeddings); err != nil {
		return fmt.Errorf("store: local embedding write: %w", err)
	}
	s.SetEmbeddingStatus(ctx, documentID, EmbeddingCompleted)
	return nil
}

// SetEmbeddingStatus updates embedding_status in the remote store.
// Best-effort: failures are logged, never returned.
func (s *Store) SetEmbeddingStatus(ctx context.Context, documentID, status string) {
	if s.remote == nil {
		return
	}
	if err := s.remote.setEmbeddingStatus(ctx, documentID, status); err != nil {
		s.logger.Warn("embedding status update failed",
			"document_id", documentID, "status", status, "error", err)
	}
}

// Count returns the number of indexed documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byQParam)
}
