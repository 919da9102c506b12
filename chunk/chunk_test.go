package chunk

import (
	"strings"
	"testing"
)

func TestSplit_ShortText(t *testing.T) {
	text := "La presente Ley es de observancia general."
	chunks := Split(text, Options{MaxTokens: 512})
	if len(chunks) != 1 {
		t.Fatalf("split short: got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Content != text {
		t.Errorf("content: got %q, want %q", c.Content, text)
	}
	if c.Index != 0 || c.StartChar != 0 || c.EndChar != len([]rune(text)) {
		t.Errorf("position: %+v", c)
	}
	if c.Boundary != BoundaryParagraph {
		t.Errorf("boundary: %q", c.Boundary)
	}
	if c.TokenCount == 0 {
		t.Error("token count should be non-zero")
	}
}

func TestSplit_Empty(t *testing.T) {
	if got := Split("", DefaultOptions()); got != nil {
		t.Fatalf("empty text: got %v", got)
	}
	if got := Split("   \n\n  ", DefaultOptions()); got != nil {
		t.Fatalf("whitespace text: got %v", got)
	}
}

func TestSplit_ArticleBoundary(t *testing.T) {
	art1 := "Artículo 1. " + strings.Repeat("palabra ", 6)
	text := art1 + "\nArtículo 2. Segundo contenido del decreto."

	chunks := Split(text, Options{MaxTokens: 20, MinChunkTokens: 5})
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Boundary != BoundaryArticle {
		t.Errorf("chunk 0 boundary: %q, want article", chunks[0].Boundary)
	}
	if !strings.HasPrefix(chunks[1].Content, "Artículo 2") {
		t.Errorf("chunk 1 should start at the article marker: %q", chunks[1].Content)
	}
}

func TestSplit_SentenceBoundary(t *testing.T) {
	text := "Primera frase corta aquí. Segunda frase un poco más larga todavía. Tercera frase final."
	chunks := Split(text, Options{MaxTokens: 10, MinChunkTokens: 2})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	if chunks[0].Boundary != BoundarySentence {
		t.Errorf("chunk 0 boundary: %q, want sentence", chunks[0].Boundary)
	}
	if !strings.HasSuffix(chunks[0].Content, ".") {
		t.Errorf("chunk 0 should end at a sentence terminator: %q", chunks[0].Content)
	}
}

func TestSplit_ForcedWithoutBoundaries(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("palabra ", 200))
	chunks := Split(text, Options{MaxTokens: 20, MinChunkTokens: 5, IgnoreBoundaries: true})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	for _, c := range chunks[:len(chunks)-1] {
		if c.Boundary != BoundaryForced {
			t.Errorf("chunk %d boundary: %q, want forced", c.Index, c.Boundary)
		}
	}
}

func TestSplit_Overlap(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("palabra ", 200))

	with := Split(text, Options{MaxTokens: 40, OverlapTokens: 10, MinChunkTokens: 5, IgnoreBoundaries: true})
	if len(with) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(with))
	}
	if with[1].StartChar >= with[0].EndChar {
		t.Errorf("expected overlap: chunk 1 starts at %d, chunk 0 ends at %d", with[1].StartChar, with[0].EndChar)
	}

	without := Split(text, Options{MaxTokens: 40, MinChunkTokens: 5, IgnoreBoundaries: true})
	if len(without) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(without))
	}
	if without[1].StartChar < without[0].EndChar {
		t.Errorf("zero overlap must be adjacent: chunk 1 starts at %d, chunk 0 ends at %d", without[1].StartChar, without[0].EndChar)
	}
}

func TestSplit_DenseIndexes(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("frase de prueba. ", 100))
	chunks := Split(text, Options{MaxTokens: 30, MinChunkTokens: 5})
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
	}
}

func TestSplit_UnicodePreserved(t *testing.T) {
	text := "El artículo señala: ningún niño será privado. Véase § 12 y ¶ 3 de la compilación."
	chunks := Split(text, DefaultOptions())
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for _, needle := range []string{"ningún", "niño", "§ 12", "¶ 3", "compilación"} {
		if !strings.Contains(chunks[0].Content, needle) {
			t.Errorf("lost %q in %q", needle, chunks[0].Content)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty: %d", got)
	}
	if got := EstimateTokens("uno dos tres"); got != 4 { // round(3 * 1.3)
		t.Errorf("three words: %d, want 4", got)
	}
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o.MaxTokens != 512 || o.OverlapTokens != 50 || o.MinChunkTokens != 100 {
		t.Fatalf("got %+v", o)
	}
	if o.IgnoreBoundaries {
		t.Fatal("boundaries should be respected by default")
	}
}
