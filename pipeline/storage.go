package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexmex/scjnpipe/checkpoint"
	"github.com/lexmex/scjnpipe/store"
	"github.com/lexmex/scjnpipe/vectorstore"
)

// vectorWorker owns the vector index: all mutation and search goes through
// its mailbox.
type vectorWorker struct {
	coord  *Mailbox
	index  *vectorstore.Store
	logger *slog.Logger
}

func (w *vectorWorker) name() string { return "vector_store" }

func (w *vectorWorker) handle(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case SaveEmbeddings:
		vectors := make([][]float32, len(m.Embeddings))
		chunkIDs := make([]string, len(m.Embeddings))
		for i, e := range m.Embeddings {
			vectors[i] = e.Vector
			chunkIDs[i] = e.ChunkID
		}
		if err := w.index.Add(vectors, chunkIDs, m.DocumentID); err != nil {
			return &Error{Kind: ErrorTransient, Message: err.Error(), Recoverable: true, Original: msg}
		}
		return nil

	case SearchSimilar:
		start := time.Now()
		matches, err := w.index.Search(m.Vector, m.TopK, m.FilterDocumentIDs)
		if err != nil {
			// The ask still completes; the error event carries the cause.
			m.Reply <- SearchResults{Envelope: ChildEnvelope(m)}
			return err
		}
		m.Reply <- SearchResults{
			Envelope: ChildEnvelope(m), Matches: matches, Elapsed: time.Since(start),
		}
		return nil
	}
	w.logger.Warn("unexpected message", "actor", w.name(), "type", fmt.Sprintf("%T", msg))
	return nil
}

// persistWorker serializes all document, chunk, and embedding writes.
// Remote failures are already downgraded inside the store; an error here
// means the local disk failed.
type persistWorker struct {
	coord  *Mailbox
	store  *store.Store
	logger *slog.Logger
}

func (w *persistWorker) name() string { return "persistence" }

func (w *persistWorker) handle(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case SaveDocument:
		if err := w.store.SaveDocument(ctx, m.Document); err != nil {
			return err
		}
		return w.coord.Tell(ctx, DocumentSaved{
			Envelope: ChildEnvelope(m), DocumentID: m.Document.ID,
		})
	case SaveChunks:
		if err := w.store.SaveChunks(ctx, m.DocumentID, m.Chunks); err != nil {
			w.store.SetEmbeddingStatus(ctx, m.DocumentID, store.EmbeddingFailed)
			return err
		}
		w.store.SetEmbeddingStatus(ctx, m.DocumentID, store.EmbeddingProcessing)
		return nil
	case SaveEmbeddings:
		if err := w.store.SaveEmbeddings(ctx, m.DocumentID, m.Embeddings); err != nil {
			w.store.SetEmbeddingStatus(ctx, m.DocumentID, store.EmbeddingFailed)
			return err
		}
		w.store.SetEmbeddingStatus(ctx, m.DocumentID, store.EmbeddingCompleted)
		return nil
	}
	w.logger.Warn("unexpected message", "actor", w.name(), "type", fmt.Sprintf("%T", msg))
	return nil
}

// checkpointWorker persists progress snapshots off the Coordinator's loop.
type checkpointWorker struct {
	coord  *Mailbox
	store  *checkpoint.Store
	logger *slog.Logger
}

func (w *checkpointWorker) name() string { return "checkpoint" }

func (w *checkpointWorker) handle(ctx context.Context, msg Message) error {
	m, ok := msg.(SaveCheckpoint)
	if !ok {
		w.logger.Warn("unexpected message", "actor", w.name(), "type", fmt.Sprintf("%T", msg))
		return nil
	}
	if err := w.store.Save(m.Checkpoint); err != nil {
		return err
	}
	return w.coord.Tell(ctx, CheckpointSaved{
		Envelope:       ChildEnvelope(m),
		SessionID:      m.Checkpoint.SessionID,
		ProcessedCount: m.Checkpoint.ProcessedCount,
	})
}
