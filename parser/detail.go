package parser

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Stable identifiers on the portal's detail page.
const (
	detailContainerID = "contenedor"
	detailTitleClass  = "titulo-ordenamiento"
	metadataClass     = "datos-ordenamiento"
	metadataRowClass  = "dato"
	labelClass        = "etiqueta"
	valueClass        = "valor"
	contentID         = "contenido-ordenamiento"
	articleClass      = "articulo"
	reformsID         = "reformas"
	reformRowClass    = "reforma-row"
	reformTableClass  = "tabla-reformas"
)

// ArticleResult is one parsed article of a legal instrument.
type ArticleResult struct {
	Number       string
	Title        string
	Content      string
	IsTransitory bool
}

// ReformResult is one parsed row of the reform history table.
type ReformResult struct {
	QParam           string
	Title            string
	PublicationDate  string // raw upstream string
	GazetteReference string
	HasPDF           bool
}

// DocumentDetail is the parsed detail page: metadata plus articles and the
// reform table. Category, scope, and status remain raw label strings; the
// scraper resolves them to variants.
type DocumentDetail struct {
	Title           string
	ShortTitle      string
	Category        string
	Scope           string
	Status          string
	PublicationDate string
	ExpeditionDate  string
	FullText        string
	Articles        []ArticleResult
	Reforms         []ReformResult
}

// Spanish labels of the metadata block, matched case- and accent-tolerantly.
var metadataLabels = []struct {
	label string
	field func(*DocumentDetail, string)
}{
	{"tipo de ordenamiento", func(d *DocumentDetail, v string) { d.Category = v }},
	{"ámbito", func(d *DocumentDetail, v string) { d.Scope = v }},
	{"ambito", func(d *DocumentDetail, v string) { d.Scope = v }},
	{"estatus", func(d *DocumentDetail, v string) { d.Status = v }},
	{"fecha de publicación", func(d *DocumentDetail, v string) { d.PublicationDate = v }},
	{"fecha de publicacion", func(d *DocumentDetail, v string) { d.PublicationDate = v }},
	{"fecha de expedición", func(d *DocumentDetail, v string) { d.ExpeditionDate = v }},
	{"fecha de expedicion", func(d *DocumentDetail, v string) { d.ExpeditionDate = v }},
}

// ParseDocumentDetail parses a document detail page. A missing main container
// is a ParseError. An empty title is permitted and yields an empty result.
func ParseDocumentDetail(rawHTML string) (*DocumentDetail, error) {
	doc, err := parseHTML(rawHTML)
	if err != nil {
		return nil, newParseError("unparseable HTML: "+err.Error(), rawHTML)
	}

	container := findByID(doc, detailContainerID)
	if container == nil {
		return nil, newParseError("document container not found (id="+detailContainerID+")", rawHTML)
	}

	detail := &DocumentDetail{}

	if titleElem := findByClass(container, detailTitleClass); titleElem != nil {
		detail.Title = nodeText(titleElem)
	}
	detail.ShortTitle = ShortTitle(detail.Title)

	if datos := findByClass(container, metadataClass); datos != nil {
		parseMetadataBlock(datos, detail)
	}

	if content := findByID(container, contentID); content != nil {
		detail.FullText = nodeTextLines(content)
		detail.Articles = parseArticles(content)
	}

	detail.Reforms = parseReforms(container)

	return detail, nil
}

func parseMetadataBlock(datos *html.Node, detail *DocumentDetail) {
	var rows []*html.Node
	findAllByClass(datos, metadataRowClass, &rows)
	for _, row := range rows {
		labelElem := findByClass(row, labelClass)
		valueElem := findByClass(row, valueClass)
		if labelElem == nil || valueElem == nil {
			continue
		}
		label := strings.TrimSuffix(strings.ToLower(nodeText(labelElem)), ":")
		value := nodeText(valueElem)
		for _, m := range metadataLabels {
			if strings.Contains(label, m.label) {
				m.field(detail, value)
				break
			}
		}
	}
}

// --- articles ---

var (
	articleIDRe = regexp.MustCompile(`(?i)^art`)

	// "Artículo 1", "Artículo 1°", "Artículo 2 Bis", "Artículo 123-A".
	// The dashed form goes first: alternation is leftmost-first and a bare
	// \d+ would otherwise swallow "123" out of "123-A".
	articleNumberRe = regexp.MustCompile(`(?i)art[ií]culo\s+(\d+-[A-Z]|\d+(?:\s*[°º])?(?:\s+[Bb]is)?(?:\s+[A-Z])?)`)

	// Spanish ordinals used by transitory articles.
	transitoryOrdinalRe = regexp.MustCompile(
		`(?:TRANSITORIO\s+)?(PRIMERO|SEGUNDO|TERCERO|CUARTO|QUINTO|SEXTO|SÉPTIMO|SEPTIMO|OCTAVO|NOVENO|DÉCIMO|DECIMO|\d+)`)

	anyNumberRe = regexp.MustCompile(`(\d+)`)
)

// parseArticles finds article blocks by their structural class, falling back
// to elements whose id starts with "art".
func parseArticles(content *html.Node) []ArticleResult {
	var elems []*html.Node
	findAllByClass(content, articleClass, &elems)
	if len(elems) == 0 {
		var divs []*html.Node
		findAllByTag(content, "div", &divs)
		for _, d := range divs {
			if articleIDRe.MatchString(attr(d, "id")) {
				elems = append(elems, d)
			}
		}
	}

	var articles []ArticleResult
	for _, elem := range elems {
		if a, ok := parseArticleElement(elem); ok {
			articles = append(articles, a)
		}
	}
	return articles
}

func parseArticleElement(elem *html.Node) (ArticleResult, bool) {
	isTransitory := strings.Contains(strings.ToLower(attr(elem, "class")), "transitorio")
	text := nodeText(elem)
	if strings.Contains(strings.ToUpper(text), "TRANSITORIO") {
		isTransitory = true
	}

	var title string
	if h := findFirstByTags(elem, "h3", "h4", "h2"); h != nil {
		title = nodeText(h)
	}

	number := extractArticleNumber(title, isTransitory)

	var paragraphs []*html.Node
	findAllByTag(elem, "p", &paragraphs)
	var parts []string
	for _, p := range paragraphs {
		if t := nodeText(p); t != "" {
			parts = append(parts, t)
		}
	}
	var content string
	if len(parts) > 0 {
		content = strings.Join(parts, "\n")
	} else {
		content = text
		if title != "" && strings.HasPrefix(content, title) {
			content = strings.TrimSpace(strings.TrimPrefix(content, title))
		}
	}

	if number == "" && content == "" {
		return ArticleResult{}, false
	}
	return ArticleResult{
		Number:       number,
		Title:        title,
		Content:      content,
		IsTransitory: isTransitory,
	}, true
}

// extractArticleNumber pulls the article number out of a heading. Transitory
// articles use Spanish ordinals; regular articles use numerals with the
// portal's "1°", "2 Bis", "123-A" variants.
func extractArticleNumber(title string, isTransitory bool) string {
	if title == "" {
		return ""
	}
	if isTransitory {
		if m := transitoryOrdinalRe.FindStringSubmatch(strings.ToUpper(title)); m != nil {
			return m[1]
		}
	}
	if m := articleNumberRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyNumberRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	return ""
}

// --- reforms ---

// parseReforms extracts the reform history rows, if the page carries any.
func parseReforms(container *html.Node) []ReformResult {
	section := findByID(container, reformsID)
	if section == nil {
		return nil
	}

	var rows []*html.Node
	findAllByClass(section, reformRowClass, &rows)
	if len(rows) == 0 {
		if tabla := findByClass(section, reformTableClass); tabla != nil {
			findAllByTag(tabla, "tr", &rows)
		}
	}

	var reforms []ReformResult
	for _, row := range rows {
		if r, ok := parseReformRow(row); ok {
			reforms = append(reforms, r)
		}
	}
	return reforms
}

func parseReformRow(row *html.Node) (ReformResult, bool) {
	var cells []*html.Node
	findAllByTag(row, "td", &cells)
	if len(cells) == 0 {
		return ReformResult{}, false
	}

	link := findLink(row, detailLinkMarker)
	if link == nil {
		return ReformResult{}, false
	}
	qParam := extractQParam(attr(link, "href"))
	if qParam == "" {
		return ReformResult{}, false
	}

	r := ReformResult{
		QParam: qParam,
		Title:  nodeText(link),
		HasPDF: hasLink(row, reformPDFMarker),
	}
	if len(cells) > 1 {
		r.PublicationDate = nodeText(cells[1])
	}
	if len(cells) > 2 {
		r.GazetteReference = nodeText(cells[2])
	}
	return r, true
}
