package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/lexmex/scjnpipe/chunk"
	"github.com/lexmex/scjnpipe/legal"
	"github.com/lexmex/scjnpipe/pdftext"
)

// pdfWorker extracts text from PDF bytes and chunks it. It keeps the last
// chunk set per document for introspection.
type pdfWorker struct {
	coord    *Mailbox
	persist  *Mailbox
	embedder *Mailbox
	opts     chunk.Options
	logger   *slog.Logger

	// cache is read from outside the worker goroutine.
	mu    sync.Mutex
	cache map[string][]legal.TextChunk
}

func (w *pdfWorker) name() string { return "pdf_processor" }

func (w *pdfWorker) handle(ctx context.Context, msg Message) error {
	cmd, ok := msg.(ProcessPDF)
	if !ok {
		w.logger.Warn("unexpected message", "actor", w.name(), "type", fmt.Sprintf("%T", msg))
		return nil
	}

	res, err := pdftext.Extract(cmd.PDFBytes)
	if err != nil {
		// Only an empty text layer is worth another attempt; a partial fetch
		// may have truncated the file. Corruption and encryption are final.
		return &Error{
			Kind:        ErrorPDF,
			Message:     err.Error(),
			Recoverable: errors.Is(err, pdftext.ErrNoText),
			Original:    msg,
		}
	}

	pieces := chunk.Split(res.Text, w.opts)
	chunks := make([]legal.TextChunk, 0, len(pieces))
	totalTokens := 0
	for _, p := range pieces {
		chunks = append(chunks, legal.TextChunk{
			ID:         legal.ChunkID(cmd.DocumentID, p.Index),
			DocumentID: cmd.DocumentID,
			Content:    p.Content,
			TokenCount: p.TokenCount,
			ChunkIndex: p.Index,
			Metadata: []legal.MetaKV{
				{Key: "source_url", Value: cmd.SourceURL},
				{Key: "start_char", Value: strconv.Itoa(p.StartChar)},
				{Key: "end_char", Value: strconv.Itoa(p.EndChar)},
				{Key: "boundary", Value: string(p.Boundary)},
			},
		})
		totalTokens += p.TokenCount
	}
	w.mu.Lock()
	w.cache[cmd.DocumentID] = chunks
	w.mu.Unlock()

	if err := w.persist.Tell(ctx, SaveChunks{
		Envelope: ChildEnvelope(cmd), DocumentID: cmd.DocumentID, Chunks: chunks,
	}); err != nil {
		return err
	}
	if err := w.embedder.Tell(ctx, GenerateEmbeddings{
		Envelope: ChildEnvelope(cmd), DocumentID: cmd.DocumentID, Chunks: chunks,
	}); err != nil {
		return err
	}

	return w.coord.Tell(ctx, PDFProcessed{
		Envelope:    ChildEnvelope(cmd),
		DocumentID:  cmd.DocumentID,
		ChunkCount:  len(chunks),
		TotalTokens: totalTokens,
		Confidence:  res.Confidence,
	})
}

// chunksFor returns the cached chunk set for a document, if any.
func (w *pdfWorker) chunksFor(documentID string) []legal.TextChunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cache[documentID]
}
