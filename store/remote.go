package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lexmex/scjnpipe/legal"
)

// Schema is the remote shape: a generic documents table shared across source
// types, plus the SCJN child tables. embedding_status tracks the chunk →
// embed lifecycle per document.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id               TEXT PRIMARY KEY,
    external_id      TEXT NOT NULL,
    source_type      TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    publication_date TEXT,
    created_at       INTEGER NOT NULL,
    UNIQUE (source_type, external_id)
);

CREATE TABLE IF NOT EXISTS scjn_documents (
    document_id      TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
    q_param          TEXT NOT NULL UNIQUE,
    title            TEXT NOT NULL DEFAULT '',
    short_title      TEXT NOT NULL DEFAULT '',
    category         TEXT NOT NULL,
    scope            TEXT NOT NULL,
    status           TEXT NOT NULL,
    publication_date TEXT,
    expedition_date  TEXT,
    state            TEXT,
    subject_matters  TEXT NOT NULL DEFAULT '[]',
    articles_json    TEXT NOT NULL DEFAULT '[]',
    reforms_json     TEXT NOT NULL DEFAULT '[]',
    source_url       TEXT NOT NULL DEFAULT '',
    chunk_count      INTEGER NOT NULL DEFAULT 0,
    embedding_status TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS scjn_chunks (
    chunk_id      TEXT PRIMARY KEY,
    document_id   TEXT NOT NULL,
    chunk_index   INTEGER NOT NULL,
    content       TEXT NOT NULL,
    token_count   INTEGER NOT NULL DEFAULT 0,
    metadata_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_scjn_chunks_document ON scjn_chunks(document_id);
`

// remoteBackend writes to the tabular store behind a circuit breaker, so a
// dead backend degrades to fast local fallbacks instead of per-save timeouts.
type remoteBackend struct {
	db         *sql.DB
	sourceType string
	breaker    *gobreaker.CircuitBreaker
}

func newRemoteBackend(db *sql.DB, sourceType string) (*remoteBackend, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store: apply remote schema: %w", err)
	}
	return &remoteBackend{
		db:         db,
		sourceType: sourceType,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "remote-store",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}, nil
}

func (r *remoteBackend) saveDocument(ctx context.Context, doc *legal.Document) error {
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.upsertDocument(ctx, doc)
	})
	return err
}

func (r *remoteBackend) upsertDocument(ctx context.Context, doc *legal.Document) error {
	articles, err := json.Marshal(doc.Articles)
	if err != nil {
		return fmt.Errorf("marshal articles: %w", err)
	}
	reforms, err := json.Marshal(doc.Reforms)
	if err != nil {
		return fmt.Errorf("marshal reforms: %w", err)
	}
	subjects, err := json.Marshal(doc.SubjectMatters)
	if err != nil {
		return fmt.Errorf("marshal subject matters: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, external_id, source_type, title, publication_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_type, external_id) DO UPDATE SET
			title = excluded.title, publication_date = excluded.publication_date`,
		doc.ID, doc.QParam, r.sourceType, doc.Title, isoDate(doc.PublicationDate),
		time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert documents row: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scjn_documents (document_id, q_param, title, short_title,
			category, scope, status, publication_date, expedition_date, state,
			subject_matters, articles_json, reforms_json, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(q_param) DO UPDATE SET
			title = excluded.title, short_title = excluded.short_title,
			category = excluded.category, scope = excluded.scope,
			status = excluded.status, publication_date = excluded.publication_date,
			expedition_date = excluded.expedition_date, state = excluded.state,
			subject_matters = excluded.subject_matters,
			articles_json = excluded.articles_json,
			reforms_json = excluded.reforms_json,
			source_url = excluded.source_url`,
		doc.ID, doc.QParam, doc.Title, doc.ShortTitle,
		string(doc.Category), string(doc.Scope), string(doc.Status),
		isoDate(doc.PublicationDate), isoDate(doc.ExpeditionDate), doc.State,
		string(subjects), string(articles), string(reforms), doc.SourceURL)
	if err != nil {
		return fmt.Errorf("upsert scjn_documents row: %w", err)
	}

	return tx.Commit()
}

func (r *remoteBackend) exists(ctx context.Context, qParam string) (bool, error) {
	found, err := r.breaker.Execute(func() (any, error) {
		var n int
		err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scjn_documents WHERE q_param = ?`, qParam).Scan(&n)
		return n > 0, err
	})
	if err != nil {
		return false, err
	}
	return found.(bool), nil
}

func (r *remoteBackend) saveChunks(ctx context.Context, documentID string, chunks []legal.TextChunk) error {
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.upsertChunks(ctx, documentID, chunks)
	})
	return err
}

func (r *remoteBackend) upsertChunks(ctx context.Context, documentID string, chunks []legal.TextChunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scjn_chunks (chunk_id, document_id, chunk_index, content, token_count, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			content = excluded.content, token_count = excluded.token_count,
			metadata_json = excluded.metadata_json`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.ChunkIndex, c.Content, c.TokenCount, string(meta)); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE scjn_documents SET chunk_count = ?, embedding_status = ?
		WHERE document_id = ?`,
		len(chunks), EmbeddingProcessing, documentID)
	if err != nil {
		return fmt.Errorf("update chunk count: %w", err)
	}

	return tx.Commit()
}

func (r *remoteBackend) setEmbeddingStatus(ctx context.Context, documentID, status string) error {
	_, err := r.breaker.Execute(func() (any, error) {
		_, err := r.db.ExecContext(ctx,
			`UPDATE scjn_documents SET embedding_status = ? WHERE document_id = ?`,
			status, documentID)
		return nil, err
	})
	return err
}

func isoDate(d *legal.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}
