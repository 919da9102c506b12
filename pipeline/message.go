// Package pipeline is the actor-style core of the scraper: typed messages on
// bounded mailboxes, one goroutine per worker, and a Coordinator that owns
// all pipeline state. Components never share mutable memory; everything moves
// as a command, an event, or an error, each carrying the correlation ID of
// the command it descends from.
//
// Two operations deliberately stay out of the catalog: checkpoint loading
// happens before the pipeline exists (the CLI reads the session file and
// seeds Config.Resume), and per-page result fetches are internal to the
// discovery worker, which walks pagination within a single Discover.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/lexmex/scjnpipe/fetch"
	"github.com/lexmex/scjnpipe/legal"
	"github.com/lexmex/scjnpipe/vectorstore"
)

// Message is anything that travels through a mailbox.
type Message interface {
	Correlation() string
}

// Envelope carries the fields every message shares. Embed it.
type Envelope struct {
	CorrelationID string
	Timestamp     time.Time
}

// Correlation implements Message.
func (e Envelope) Correlation() string { return e.CorrelationID }

// NewEnvelope creates an envelope with a fresh correlation ID.
func NewEnvelope() Envelope {
	return Envelope{CorrelationID: uuid.NewString(), Timestamp: time.Now().UTC()}
}

// ChildEnvelope creates an envelope inheriting the parent's correlation ID.
func ChildEnvelope(parent Message) Envelope {
	return Envelope{CorrelationID: parent.Correlation(), Timestamp: time.Now().UTC()}
}

// Commands. Imperative: the sender expects work done.

// Discover drives the paginated search.
type Discover struct {
	Envelope
	Query      fetch.Query
	MaxResults int
	AllPages   bool
}

// Download fetches and parses one document detail page.
type Download struct {
	Envelope
	QParam         string
	IncludePDF     bool
	IncludeReforms bool
}

// ProcessPDF extracts and chunks one reform PDF.
type ProcessPDF struct {
	Envelope
	DocumentID string
	PDFBytes   []byte
	SourceURL  string
}

// GenerateEmbeddings encodes a document's chunks.
type GenerateEmbeddings struct {
	Envelope
	DocumentID string
	Chunks     []legal.TextChunk
}

// SaveDocument persists a document record.
type SaveDocument struct {
	Envelope
	Document *legal.Document
}

// SaveChunks persists a document's chunks.
type SaveChunks struct {
	Envelope
	DocumentID string
	Chunks     []legal.TextChunk
}

// SaveEmbeddings persists a document's embeddings and indexes the vectors.
type SaveEmbeddings struct {
	Envelope
	DocumentID string
	Embeddings []legal.Embedding
}

// SearchSimilar asks the vector worker for nearest chunks. Reply must be
// buffered with capacity 1.
type SearchSimilar struct {
	Envelope
	Vector            []float32
	TopK              int
	FilterDocumentIDs []string
	Reply             chan SearchResults
}

// SaveCheckpoint persists a progress snapshot.
type SaveCheckpoint struct {
	Envelope
	Checkpoint legal.Checkpoint
}

// Pause stops queue pumping; in-flight downloads drain naturally.
type Pause struct{ Envelope }

// Resume restarts queue pumping after a Pause.
type Resume struct{ Envelope }

// GetState asks the Coordinator for a state snapshot. Reply must be buffered
// with capacity 1.
type GetState struct {
	Envelope
	Reply chan Snapshot
}

// Events. Past tense: something happened.

// DocumentDiscovered reports one search result row.
type DocumentDiscovered struct {
	Envelope
	QParam   string
	Title    string
	Category string
}

// PageDiscovered summarizes a discovery run.
type PageDiscovered struct {
	Envelope
	DocumentsFound int
	CurrentPage    int
	TotalPages     int
	HasMorePages   bool
}

// DocumentDownloaded reports a completed detail fetch.
type DocumentDownloaded struct {
	Envelope
	DocumentID   string
	QParam       string
	HasPDF       bool
	PDFSizeBytes int
}

// PDFProcessed reports extraction and chunking of one PDF.
type PDFProcessed struct {
	Envelope
	DocumentID  string
	ChunkCount  int
	TotalTokens int
	Confidence  float64
}

// EmbeddingsGenerated reports encoded chunks.
type EmbeddingsGenerated struct {
	Envelope
	DocumentID string
	Count      int
}

// DocumentSaved reports a persisted document.
type DocumentSaved struct {
	Envelope
	DocumentID string
}

// CheckpointSaved reports a persisted checkpoint.
type CheckpointSaved struct {
	Envelope
	SessionID      string
	ProcessedCount int
}

// SearchResults answers a SearchSimilar ask.
type SearchResults struct {
	Envelope
	Matches []vectorstore.Match
	Elapsed time.Duration
}

// Error is the only way failures leave a worker. Recoverable errors carry
// the original command so the Coordinator can retry it.
type Error struct {
	Envelope
	Actor       string
	Kind        ErrorKind
	Message     string
	Recoverable bool
	QParam      string
	Original    Message
}

// ErrorKind classifies a pipeline error.
type ErrorKind string

const (
	ErrorParse     ErrorKind = "parse"     // upstream HTML shape drift
	ErrorTransient ErrorKind = "transient" // network, timeout, 429, 5xx
	ErrorPermanent ErrorKind = "permanent" // 404, oversize payload
	ErrorPDF       ErrorKind = "pdf"       // extraction failure, never fatal to the parent
	ErrorInternal  ErrorKind = "internal"  // panic or programming error
)
