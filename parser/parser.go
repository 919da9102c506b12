// Package parser turns rendered HTML from the SCJN legislation portal into
// structured records: search result rows, pagination, and document detail
// pages with articles and reform history.
//
// The parsers fail closed: when a page no longer carries its stable anchor
// element the parser returns a ParseError with a truncated snippet of the
// received HTML, so shape drift upstream surfaces immediately instead of
// producing silently empty results.
package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// snippetLen bounds the HTML excerpt carried by a ParseError.
const snippetLen = 200

// ParseError reports unrecognizable page structure. It is non-recoverable:
// retrying the same payload cannot help.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parser: %s", e.Reason)
}

func newParseError(reason, rawHTML string) *ParseError {
	snippet := rawHTML
	if len(snippet) > snippetLen {
		snippet = snippet[:snippetLen]
	}
	return &ParseError{Reason: reason, Snippet: snippet}
}

// --- DOM helpers ---

func parseHTML(raw string) (*html.Node, error) {
	return html.Parse(strings.NewReader(raw))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func findAllByClass(n *html.Node, class string, out *[]*html.Node) {
	if n.Type == html.ElementNode && hasClass(n, class) {
		*out = append(*out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		findAllByClass(c, class, out)
	}
}

func findAllByTag(n *html.Node, tag string, out *[]*html.Node) {
	if n.Type == html.ElementNode && n.Data == tag {
		*out = append(*out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		findAllByTag(c, tag, out)
	}
}

func findFirstByTags(n *html.Node, tags ...string) *html.Node {
	if n.Type == html.ElementNode {
		for _, tag := range tags {
			if n.Data == tag {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirstByTags(c, tags...); found != nil {
			return found
		}
	}
	return nil
}

// nodeText collects the text content of n with whitespace collapsed,
// preserving Unicode exactly.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	collectText(n, &sb)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// nodeTextLines collects text with newline separators between blocks,
// matching the portal's visual structure closely enough for full-text use.
func nodeTextLines(n *html.Node) string {
	var sb strings.Builder
	collectTextLines(n, &sb)
	lines := strings.Split(sb.String(), "\n")
	var kept []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func collectTextLines(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "br", "tr", "li", "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteByte('\n')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectTextLines(c, sb)
	}
}

// --- q_param extraction ---

var qParamRe = regexp.MustCompile(`[?&]q=([^&]+)`)

// extractQParam pulls the URL-decoded q query parameter from an href.
// Returns "" when the href has no usable q parameter.
func extractQParam(href string) string {
	if href == "" {
		return ""
	}
	if u, err := url.Parse(href); err == nil {
		if q := u.Query().Get("q"); q != "" {
			return q
		}
	}
	// Malformed URLs still often carry a recognizable q=... segment.
	if m := qParamRe.FindStringSubmatch(href); m != nil {
		if decoded, err := url.QueryUnescape(m[1]); err == nil {
			return decoded
		}
		return m[1]
	}
	return ""
}

// hasLink reports whether the subtree contains an anchor whose href contains
// the given pattern.
func hasLink(n *html.Node, pattern string) bool {
	var anchors []*html.Node
	findAllByTag(n, "a", &anchors)
	for _, a := range anchors {
		if strings.Contains(attr(a, "href"), pattern) {
			return true
		}
	}
	return false
}

// findLink returns the first anchor in the subtree whose href contains the
// given pattern, or nil.
func findLink(n *html.Node, pattern string) *html.Node {
	var anchors []*html.Node
	findAllByTag(n, "a", &anchors)
	for _, a := range anchors {
		if strings.Contains(attr(a, "href"), pattern) {
			return a
		}
	}
	return nil
}
