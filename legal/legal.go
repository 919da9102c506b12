// Package legal defines the domain records for the SCJN legislation pipeline:
// documents, articles, reforms, text chunks, embeddings, and checkpoints.
//
// Records are value types and immutable once constructed; an update is the
// construction of a new record. Collections keep insertion order.
package legal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Article is an individual article within a legal instrument. Its position in
// the Document.Articles sequence is significant.
type Article struct {
	Number       string   `json:"number"` // "1", "2 Bis", "Transitorio Primero"
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	ReformDates  []string `json:"reform_dates"`
	IsTransitory bool     `json:"is_transitory"`
}

// Reform is an amendment to a legal instrument. It has its own identity and
// points at the amendment document through QParam.
type Reform struct {
	ID                string  `json:"id"`
	QParam            string  `json:"q_param"`
	PublicationDate   *Date   `json:"publication_date"`
	PublicationNumber string  `json:"publication_number"`
	GazetteSection    string  `json:"gazette_section"`
	TextContent       *string `json:"text_content"`
	PDFPath           *string `json:"pdf_path"`
	HasPDF            bool    `json:"has_pdf"`
}

// NewReformID returns a fresh opaque reform ID.
func NewReformID() string { return uuid.NewString() }

// Document is the aggregate root for a legal instrument scraped from the
// legislation portal. QParam is the upstream identifier and the global
// deduplication key.
type Document struct {
	ID              string          `json:"id"`
	QParam          string          `json:"q_param"`
	Title           string          `json:"title"`
	ShortTitle      string          `json:"short_title"`
	Category        Category        `json:"category"`
	Scope           Scope           `json:"scope"`
	Status          Status          `json:"status"`
	PublicationDate *Date           `json:"publication_date"`
	ExpeditionDate  *Date           `json:"expedition_date"`
	State           *string         `json:"state"` // set for sub-federal instruments
	SubjectMatters  []SubjectMatter `json:"subject_matters"`
	Articles        []Article       `json:"articles"`
	Reforms         []Reform        `json:"reforms"`
	SourceURL       string          `json:"source_url"`
}

// NewDocumentID returns a fresh opaque document ID.
func NewDocumentID() string { return uuid.NewString() }

// ArticleCount returns the number of articles.
func (d *Document) ArticleCount() int { return len(d.Articles) }

// ReformCount returns the number of reforms.
func (d *Document) ReformCount() int { return len(d.Reforms) }

// MetaKV is one metadata entry on a TextChunk. Metadata keeps insertion order,
// so it is a sequence of pairs rather than a map.
type MetaKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TextChunk is a segment of document text prepared for embedding.
type TextChunk struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Content    string   `json:"content"`
	TokenCount int      `json:"token_count"`
	ChunkIndex int      `json:"chunk_index"` // dense, 0-based
	Metadata   []MetaKV `json:"metadata"`
}

// ChunkID builds the deterministic chunk identifier for a document and index.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%04d", documentID, index)
}

// Meta returns the first metadata value for key, or "".
func (c *TextChunk) Meta(key string) string {
	for _, kv := range c.Metadata {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// Embedding is the vector representation of a text chunk.
type Embedding struct {
	ChunkID   string    `json:"chunk_id"`
	Vector    []float32 `json:"vector"`
	ModelName string    `json:"model_name"`
}

// Checkpoint records pipeline progress for one session so a run can be
// paused and resumed. The most recent checkpoint for a session supersedes
// older ones.
type Checkpoint struct {
	SessionID           string    `json:"session_id"`
	LastProcessedQParam string    `json:"last_processed_q_param"`
	ProcessedCount      int       `json:"processed_count"`
	FailedQParams       []string  `json:"failed_q_params"`
	CreatedAt           time.Time `json:"created_at"`
}
