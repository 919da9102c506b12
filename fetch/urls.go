package fetch

import (
	"net/url"
	"strconv"
)

// DefaultBase is the upstream legislation portal root.
const DefaultBase = "https://legislacion.scjn.gob.mx/Buscador/Paginas/"

// Query selects a slice of the upstream catalog. Empty fields are omitted
// from the search URL, which the portal treats as "all".
type Query struct {
	Category string // categoria
	Scope    string // ambito
	Status   string // estatus
}

// Endpoints builds upstream URLs from a base. The zero value uses
// DefaultBase, so tests can point everything at an httptest server.
type Endpoints struct {
	Base string
}

func (e Endpoints) base() string {
	if e.Base == "" {
		return DefaultBase
	}
	return e.Base
}

// Search returns the search page URL for a query and 1-based page number.
func (e Endpoints) Search(q Query, page int) string {
	v := url.Values{}
	if q.Category != "" {
		v.Set("categoria", q.Category)
	}
	if q.Scope != "" {
		v.Set("ambito", q.Scope)
	}
	if q.Status != "" {
		v.Set("estatus", q.Status)
	}
	if page > 1 {
		v.Set("pagina", strconv.Itoa(page))
	}
	u := e.base() + "Buscar.aspx"
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// Detail returns the document detail page URL for a q_param.
func (e Endpoints) Detail(qParam string) string {
	return e.base() + "wfOrdenamientoDetalle.aspx?q=" + url.QueryEscape(qParam)
}

// PDF returns the reform PDF URL for a q_param.
func (e Endpoints) PDF(qParam string) string {
	return e.base() + "AbrirDocReforma.aspx?q=" + url.QueryEscape(qParam)
}

// Extract returns the reform extract page URL for a q_param.
func (e Endpoints) Extract(qParam string) string {
	return e.base() + "wfExtracto.aspx?q=" + url.QueryEscape(qParam)
}
