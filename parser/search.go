package parser

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Stable identifiers on the portal's search results page. The DevExpress grid
// keeps these across site revisions; their disappearance means shape drift.
const (
	resultsGridID    = "gridResultados"
	emptyRowClass    = "dxgvEmptyDataRow"
	dataRowClass     = "dxgvDataRow"
	pagerTotalClass  = "dxpPagerTotal"
	pagerItemClass   = "dxpPagerItem"
	detailLinkMarker = "wfOrdenamientoDetalle"
	extractMarker    = "wfExtracto"
	reformPDFMarker  = "AbrirDocReforma"
)

// SearchResultItem is one parsed row of the search results grid.
type SearchResultItem struct {
	QParam          string
	Title           string
	Category        string
	PublicationDate string // raw upstream string; the scraper parses dates
	ExpeditionDate  string
	Status          string
	Scope           string
	HasPDF          bool
	HasExtract      bool
}

// ParseSearchResults parses a search results page. A missing results grid is
// a ParseError; an empty grid or the portal's "no results" marker yields an
// empty slice. Rows missing a title or q parameter are skipped, not errors.
func ParseSearchResults(rawHTML string) ([]SearchResultItem, error) {
	doc, err := parseHTML(rawHTML)
	if err != nil {
		return nil, newParseError("unparseable HTML: "+err.Error(), rawHTML)
	}

	grid := findByID(doc, resultsGridID)
	if grid == nil {
		return nil, newParseError("results grid not found (id="+resultsGridID+")", rawHTML)
	}

	if empty := findByClass(grid, emptyRowClass); empty != nil {
		if strings.Contains(strings.ToLower(nodeText(empty)), "no se encontraron") {
			return []SearchResultItem{}, nil
		}
	}

	var rows []*html.Node
	findAllByClass(grid, dataRowClass, &rows)
	if len(rows) == 0 {
		// Valid structure, zero results.
		return []SearchResultItem{}, nil
	}

	results := make([]SearchResultItem, 0, len(rows))
	for _, row := range rows {
		if item, ok := parseResultRow(row); ok {
			results = append(results, item)
		}
	}
	return results, nil
}

// parseResultRow extracts one SearchResultItem from a grid row. Returns
// ok=false for rows that do not carry a usable detail link.
func parseResultRow(row *html.Node) (SearchResultItem, bool) {
	var cells []*html.Node
	findAllByTag(row, "td", &cells)
	if len(cells) < 6 {
		return SearchResultItem{}, false
	}

	link := findLink(cells[0], detailLinkMarker)
	if link == nil {
		return SearchResultItem{}, false
	}
	title := nodeText(link)
	qParam := extractQParam(attr(link, "href"))
	if title == "" || qParam == "" {
		return SearchResultItem{}, false
	}

	item := SearchResultItem{
		QParam:          qParam,
		Title:           title,
		PublicationDate: nodeText(cells[1]),
		ExpeditionDate:  nodeText(cells[2]),
		Status:          nodeText(cells[3]),
		Category:        nodeText(cells[4]),
		Scope:           nodeText(cells[5]),
		HasExtract:      hasLink(row, extractMarker),
		HasPDF:          hasLink(row, reformPDFMarker),
	}
	if item.Status == "" {
		item.Status = "UNKNOWN"
	}
	if item.Category == "" {
		item.Category = "UNKNOWN"
	}
	if item.Scope == "" {
		item.Scope = "FEDERAL"
	}
	return item, true
}

// Pagination describes the grid pager state.
type Pagination struct {
	CurrentPage int
	TotalPages  int
	// NextPageHint is the pager's onclick callback for the next page when one
	// exists; the browser fetch path replays it. Empty on the last page.
	NextPageHint string
}

// Accent-insensitive "Página N de M".
var pagerRe = regexp.MustCompile(`(?i)P[aá]gina\s+(\d+)\s+de\s+(\d+)`)

// ParsePagination extracts pager state from a search results page. Pages
// without a recognizable pager report a single page; that is not an error.
func ParsePagination(rawHTML string) Pagination {
	p := Pagination{CurrentPage: 1, TotalPages: 1}

	doc, err := parseHTML(rawHTML)
	if err != nil {
		return p
	}
	grid := findByID(doc, resultsGridID)
	if grid == nil {
		return p
	}

	if total := findByClass(grid, pagerTotalClass); total != nil {
		if m := pagerRe.FindStringSubmatch(nodeText(total)); m != nil {
			p.CurrentPage, _ = strconv.Atoi(m[1])
			p.TotalPages, _ = strconv.Atoi(m[2])
		}
	}

	if p.CurrentPage < p.TotalPages {
		next := strconv.Itoa(p.CurrentPage + 1)
		var items []*html.Node
		findAllByClass(grid, pagerItemClass, &items)
		for _, item := range items {
			onclick := attr(item, "onclick")
			if onclick != "" && strings.Contains(nodeText(item), next) {
				p.NextPageHint = onclick
				break
			}
		}
	}
	return p
}
