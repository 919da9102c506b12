package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lexmex/scjnpipe/embedding"
	"github.com/lexmex/scjnpipe/legal"
)

// embedWorker encodes chunk text into vectors. Encoding is CPU-bound (or a
// remote call), so it runs through the bounded concurrent encoder rather
// than inline batch by batch.
type embedWorker struct {
	coord     *Mailbox
	persist   *Mailbox
	vector    *Mailbox
	enc       embedding.Encoder
	batchSize int
	workers   int
	logger    *slog.Logger
}

func (w *embedWorker) name() string { return "embedder" }

func (w *embedWorker) handle(ctx context.Context, msg Message) error {
	cmd, ok := msg.(GenerateEmbeddings)
	if !ok {
		w.logger.Warn("unexpected message", "actor", w.name(), "type", fmt.Sprintf("%T", msg))
		return nil
	}

	if len(cmd.Chunks) == 0 {
		return w.coord.Tell(ctx, EmbeddingsGenerated{
			Envelope: ChildEnvelope(cmd), DocumentID: cmd.DocumentID,
		})
	}

	texts := make([]string, len(cmd.Chunks))
	for i, c := range cmd.Chunks {
		texts[i] = c.Content
	}
	vectors, err := embedding.EncodeConcurrent(ctx, w.enc, texts, w.batchSize, w.workers)
	if err != nil {
		// The document record is already persisted; embeddings can be
		// regenerated, so encoding failures are retryable.
		return &Error{Kind: ErrorTransient, Message: err.Error(), Recoverable: true, Original: msg}
	}

	embeddings := make([]legal.Embedding, len(vectors))
	for i, v := range vectors {
		embeddings[i] = legal.Embedding{
			ChunkID:   cmd.Chunks[i].ID,
			Vector:    v,
			ModelName: w.enc.Model(),
		}
	}

	save := SaveEmbeddings{
		Envelope: ChildEnvelope(cmd), DocumentID: cmd.DocumentID, Embeddings: embeddings,
	}
	if err := w.vector.Tell(ctx, save); err != nil {
		return err
	}
	if err := w.persist.Tell(ctx, save); err != nil {
		return err
	}
	return w.coord.Tell(ctx, EmbeddingsGenerated{
		Envelope: ChildEnvelope(cmd), DocumentID: cmd.DocumentID, Count: len(embeddings),
	})
}
