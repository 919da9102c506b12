package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexmex/scjnpipe/legal"
)

// localBackend serializes records to JSON files under a root directory.
// Writes go through a temp file plus rename so a crash never leaves a
// half-written record behind.
type localBackend struct {
	docsDir   string
	chunksDir string
	embedDir  string
}

func newLocalBackend(root string) (*localBackend, error) {
	if root == "" {
		root = "data"
	}
	b := &localBackend{
		docsDir:   filepath.Join(root, "documents"),
		chunksDir: filepath.Join(root, "chunks"),
		embedDir:  filepath.Join(root, "embeddings"),
	}
	for _, dir := range []string{b.docsDir, b.chunksDir, b.embedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}
	return b, nil
}

func (b *localBackend) saveDocument(doc *legal.Document) error {
	return writeJSON(filepath.Join(b.docsDir, doc.ID+".json"), doc)
}

// removeDocument deletes the records filed under a superseded document id.
// Missing files are fine; chunks and embeddings may never have been written.
func (b *localBackend) removeDocument(id string) {
	for _, dir := range []string{b.docsDir, b.chunksDir, b.embedDir} {
		os.Remove(filepath.Join(dir, id+".json"))
	}
}

func (b *localBackend) loadDocument(id string) (*legal.Document, error) {
	data, err := os.ReadFile(filepath.Join(b.docsDir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
		}
		return nil, err
	}
	var doc legal.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: parse document %s: %w", id, err)
	}
	return &doc, nil
}

func (b *localBackend) saveChunks(documentID string, chunks []legal.TextChunk) error {
	return writeJSON(filepath.Join(b.chunksDir, documentID+".json"), chunks)
}

func (b *localBackend) saveEmbeddings(documentID string, embeddings []legal.Embedding) error {
	return writeJSON(filepath.Join(b.embedDir, documentID+".json"), embeddings)
}

// rehydrate scans the documents directory and rebuilds the q_param index.
// Unreadable or malformed files are skipped, not fatal.
func (b *localBackend) rehydrate() (map[string]string, error) {
	entries, err := os.ReadDir(b.docsDir)
	if err != nil {
		return nil, fmt.Errorf("store: read documents dir: %w", err)
	}

	index := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.docsDir, e.Name()))
		if err != nil {
			continue
		}
		var head struct {
			ID     string `json:"id"`
			QParam string `json:"q_param"`
		}
		if err := json.Unmarshal(data, &head); err != nil || head.ID == "" || head.QParam == "" {
			continue
		}
		index[head.QParam] = head.ID
	}
	return index, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
