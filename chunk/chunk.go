// Package chunk splits extracted legal text into overlapping chunks suitable
// for embedding and similarity search.
//
// Splitting strategy, priority high to low:
//  1. Article markers ("Artículo N", "TRANSITORIO(S)", "CAPÍTULO", "TÍTULO")
//  2. Paragraph boundaries (blank line)
//  3. Sentence terminators
//  4. Forced split at the size target when no boundary qualifies
//
// Consecutive chunks share OverlapTokens worth of trailing text.
package chunk

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// BoundaryType records which boundary ended a chunk.
type BoundaryType string

const (
	BoundaryArticle   BoundaryType = "article"
	BoundaryParagraph BoundaryType = "paragraph"
	BoundarySentence  BoundaryType = "sentence"
	BoundaryForced    BoundaryType = "forced"
)

// Rough character budget per token for Spanish legal prose.
const charsPerToken = 4

// Options configures the chunking behaviour.
type Options struct {
	// MaxTokens is the maximum number of tokens per chunk.
	MaxTokens int
	// OverlapTokens is the number of tokens repeated from the tail of one
	// chunk at the head of the next. Zero produces strictly adjacent chunks.
	OverlapTokens int
	// MinChunkTokens is the minimum chunk size a boundary split may produce.
	MinChunkTokens int
	// IgnoreBoundaries disables boundary scanning; every split is forced.
	IgnoreBoundaries bool
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{
		MaxTokens:      512,
		OverlapTokens:  50,
		MinChunkTokens: 100,
	}
}

func (o *Options) sanitize() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.MinChunkTokens < 0 {
		o.MinChunkTokens = 0
	}
	if o.MinChunkTokens >= o.MaxTokens {
		o.MinChunkTokens = o.MaxTokens / 2
	}
}

// Chunk is one text fragment with its position in the source text.
// StartChar and EndChar are rune offsets into the original text.
type Chunk struct {
	Index      int
	Content    string
	TokenCount int
	StartChar  int
	EndChar    int
	Boundary   BoundaryType
}

// EstimateTokens approximates the BPE token count of text as word count
// times 1.3.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Round(float64(words) * 1.3))
}

// Split divides text into overlapping chunks. Empty or whitespace-only text
// yields nil.
func Split(text string, opts Options) []Chunk {
	opts.sanitize()

	runes := []rune(text)
	n := len(runes)
	maxChars := opts.MaxTokens * charsPerToken
	minChars := opts.MinChunkTokens * charsPerToken
	overlapChars := opts.OverlapTokens * charsPerToken

	var chunks []Chunk
	pos := 0
	for pos < n {
		for pos < n && unicode.IsSpace(runes[pos]) {
			pos++
		}
		if pos >= n {
			break
		}

		end := pos + maxChars
		boundary := BoundaryForced
		if end >= n {
			end = n
			boundary = BoundaryParagraph
		} else if !opts.IgnoreBoundaries {
			if cut, bt, ok := findBoundary(runes, pos+minChars, end); ok {
				end, boundary = cut, bt
			}
		}

		content := strings.TrimSpace(string(runes[pos:end]))
		if content != "" {
			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				Content:    content,
				TokenCount: EstimateTokens(content),
				StartChar:  pos,
				EndChar:    end,
				Boundary:   boundary,
			})
		}
		if end >= n {
			break
		}

		next := end - overlapChars
		if next <= pos {
			next = end
		}
		pos = next
	}
	return chunks
}

// Line-initial structural markers of Mexican legal texts.
var articleMarkerRe = regexp.MustCompile(`(?mi)^\s*(art[íi]culo\s+\d|transitorios?\b|cap[íi]tulo\b|t[íi]tulo\b)`)

// findBoundary picks the best split point inside runes[lo:hi]. Article
// markers win over paragraph breaks, paragraph breaks over sentence ends;
// within a kind the latest occurrence wins.
func findBoundary(runes []rune, lo, hi int) (int, BoundaryType, bool) {
	if lo >= hi {
		return 0, "", false
	}
	window := string(runes[lo:hi])

	if locs := articleMarkerRe.FindAllStringIndex(window, -1); len(locs) > 0 {
		off := locs[len(locs)-1][0]
		if cut := lo + utf8.RuneCountInString(window[:off]); cut > lo {
			return cut, BoundaryArticle, true
		}
	}

	if off := strings.LastIndex(window, "\n\n"); off >= 0 {
		return lo + utf8.RuneCountInString(window[:off]) + 2, BoundaryParagraph, true
	}

	if off := lastSentenceEnd(window); off >= 0 {
		return lo + utf8.RuneCountInString(window[:off]), BoundarySentence, true
	}

	return 0, "", false
}

// lastSentenceEnd returns the byte offset just past the last sentence
// terminator in window, or -1.
func lastSentenceEnd(window string) int {
	for i := len(window) - 1; i >= 0; i-- {
		c := window[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 >= len(window) || window[i+1] == ' ' || window[i+1] == '\n' {
			return i + 1
		}
	}
	return -1
}
