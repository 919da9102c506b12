package vectorstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lexmex/scjnpipe/embedding"
)

// Schema holds the on-disk shape of the persisted index. Vectors are stored
// as little-endian float32 blobs.
const Schema = `
CREATE TABLE IF NOT EXISTS vectors (
    chunk_id    TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    vector      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_document ON vectors(document_id);
`

// Persist upserts the full index into db in one transaction.
func (s *Store) Persist(ctx context.Context, db *sql.DB) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors (chunk_id, document_id, vector) VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET document_id = excluded.document_id,
		vector = excluded.vector`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, id := range s.chunkIDs {
		blob := embedding.SerializeVector(s.vectors[i])
		if _, err := stmt.ExecContext(ctx, id, s.docOf[id], blob); err != nil {
			return fmt.Errorf("upsert vector %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Load rebuilds a Store from db. An empty table yields an empty store of
// dimension dim.
func Load(ctx context.Context, db *sql.DB, dim int) (*Store, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT chunk_id, document_id, vector FROM vectors ORDER BY chunk_id`)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	s := New(dim)
	for rows.Next() {
		var chunkID, documentID string
		var blob []byte
		if err := rows.Scan(&chunkID, &documentID, &blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		vec := embedding.DeserializeVector(blob)
		if err := s.Add([][]float32{vec}, []string{chunkID}, documentID); err != nil {
			return nil, fmt.Errorf("load vector %s: %w", chunkID, err)
		}
	}
	return s, rows.Err()
}
