// Package vectorstore holds chunk embeddings in memory and answers k-NN
// queries by exact L2 search. The index is intentionally untyped with
// respect to documents; the document filter is applied after search by
// over-fetching.
package vectorstore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")
	ErrLengthMismatch    = errors.New("vectorstore: vectors and chunk ids differ in length")
)

// Match is one search hit.
type Match struct {
	ChunkID    string  `json:"chunk_id"`
	Similarity float64 `json:"similarity"`
}

// Stats summarizes index contents.
type Stats struct {
	VectorCount   int `json:"vector_count"`
	DocumentCount int `json:"document_count"`
	Dimension     int `json:"dimension"`
}

// Store is an in-memory exact-search vector index. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	dim      int // 0 until the first Add
	vectors  [][]float32
	chunkIDs []string
	byChunk  map[string]int             // chunk_id -> position in vectors
	byDoc    map[string]map[string]bool // document_id -> chunk_id set
	docOf    map[string]string          // chunk_id -> document_id
}

// New creates an empty store. dim 0 adopts the dimension of the first Add.
func New(dim int) *Store {
	return &Store{
		dim:     dim,
		byChunk: make(map[string]int),
		byDoc:   make(map[string]map[string]bool),
		docOf:   make(map[string]string),
	}
}

// Add inserts or replaces vectors for documentID. Vector length must match
// the store dimension; re-adding a chunk_id replaces its vector in place.
func (s *Store) Add(vectors [][]float32, chunkIDs []string, documentID string) error {
	if len(vectors) != len(chunkIDs) {
		return fmt.Errorf("%w: %d vectors, %d ids", ErrLengthMismatch, len(vectors), len(chunkIDs))
	}
	if len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		s.dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("%w: got %d, want %d (chunk %s)",
				ErrDimensionMismatch, len(v), s.dim, chunkIDs[i])
		}
	}

	for i, v := range vectors {
		id := chunkIDs[i]
		if pos, ok := s.byChunk[id]; ok {
			s.vectors[pos] = v
		} else {
			s.byChunk[id] = len(s.vectors)
			s.vectors = append(s.vectors, v)
			s.chunkIDs = append(s.chunkIDs, id)
		}
		if prev, ok := s.docOf[id]; ok && prev != documentID {
			delete(s.byDoc[prev], id)
			if len(s.byDoc[prev]) == 0 {
				delete(s.byDoc, prev)
			}
		}
		s.docOf[id] = documentID
		if s.byDoc[documentID] == nil {
			s.byDoc[documentID] = make(map[string]bool)
		}
		s.byDoc[documentID][id] = true
	}
	return nil
}

// Search returns the topK chunks nearest to query, as similarity 1/(1+d)
// over L2 distance. With filterDocIDs set, the store over-fetches 2x and
// filters afterwards, so the index itself stays document-agnostic.
func (s *Store) Search(query []float32, topK int, filterDocIDs []string) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query %d, index %d", ErrDimensionMismatch, len(query), s.dim)
	}

	fetch := topK
	var allowed map[string]bool
	if len(filterDocIDs) > 0 {
		fetch = topK * 2
		allowed = make(map[string]bool)
		for _, docID := range filterDocIDs {
			for id := range s.byDoc[docID] {
				allowed[id] = true
			}
		}
	}

	matches := make([]Match, 0, len(s.vectors))
	for i, v := range s.vectors {
		matches = append(matches, Match{
			ChunkID:    s.chunkIDs[i],
			Similarity: 1 / (1 + l2(query, v)),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})

	if fetch < len(matches) {
		matches = matches[:fetch]
	}
	if allowed != nil {
		filtered := matches[:0]
		for _, m := range matches {
			if allowed[m.ChunkID] {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

// DocumentChunks returns the chunk ids stored for a document, sorted.
func (s *Store) DocumentChunks(documentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byDoc[documentID]))
	for id := range s.byDoc[documentID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats reports index size.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		VectorCount:   len(s.vectors),
		DocumentCount: len(s.byDoc),
		Dimension:     s.dim,
	}
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
