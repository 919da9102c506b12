package fetch

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Extractor turns upstream HTML fragments (reform extracts, detail bodies)
// into clean text suitable for storage and chunking. Markup is sanitized
// first, then converted to markdown; if conversion yields nothing, a
// tag-stripped plain text fallback is used.
type Extractor struct {
	sanitize *bluemonday.Policy
	strip    *bluemonday.Policy
	md       *converter.Converter
}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		sanitize: bluemonday.UGCPolicy(),
		strip:    bluemonday.StrictPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Text converts an HTML fragment to clean text. sourceURL resolves
// relative links; it may be empty. Never fails: worst case is "".
func (e *Extractor) Text(html, sourceURL string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	clean := e.sanitize.Sanitize(html)
	out, err := e.md.ConvertString(clean, converter.WithDomain(sourceURL))
	if err != nil || strings.TrimSpace(out) == "" {
		out = e.strip.Sanitize(html)
	}
	return collapseBlankLines(strings.TrimSpace(out))
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	return blankRunRe.ReplaceAllString(s, "\n\n")
}
