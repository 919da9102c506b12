package parser

import (
	"errors"
	"reflect"
	"testing"
)

const detailPageHTML = `<!DOCTYPE html>
<html><body>
<div id="contenedor">
  <h1 class="titulo-ordenamiento">LEY FEDERAL DEL TRABAJO</h1>
  <div class="datos-ordenamiento">
    <div class="dato"><span class="etiqueta">Tipo de Ordenamiento:</span><span class="valor">LEY FEDERAL</span></div>
    <div class="dato"><span class="etiqueta">Ámbito:</span><span class="valor">FEDERAL</span></div>
    <div class="dato"><span class="etiqueta">Estatus:</span><span class="valor">VIGENTE</span></div>
    <div class="dato"><span class="etiqueta">Fecha de Publicación:</span><span class="valor">01/04/1970</span></div>
    <div class="dato"><span class="etiqueta">Fecha de Expedicion:</span><span class="valor">23/12/1969</span></div>
  </div>
  <div id="contenido-ordenamiento">
    <div class="articulo">
      <h3>Artículo 1</h3>
      <p>La presente Ley es de observancia general en toda la República.</p>
      <p>Rige las relaciones de trabajo.</p>
    </div>
    <div class="articulo">
      <h3>Artículo 2 Bis</h3>
      <p>Las normas del trabajo tienden a conseguir el equilibrio.</p>
    </div>
    <div class="articulo transitorio">
      <h3>TRANSITORIO PRIMERO</h3>
      <p>Esta Ley entrará en vigor el 1o. de mayo de 1970.</p>
    </div>
  </div>
  <div id="reformas">
    <table class="tabla-reformas">
      <tr class="reforma-row">
        <td><a href="wfOrdenamientoDetalle.aspx?q=Ref1%3D%3D">DECRETO de reforma</a></td>
        <td>30/11/2012</td>
        <td>DOF Primera Sección</td>
        <td><a href="AbrirDocReforma.aspx?q=Ref1%3D%3D">PDF</a></td>
      </tr>
      <tr class="reforma-row">
        <td><a href="wfOrdenamientoDetalle.aspx?q=Ref2%3D%3D">DECRETO sin PDF</a></td>
        <td></td>
        <td></td>
      </tr>
    </table>
  </div>
</div>
</body></html>`

func TestParseDocumentDetail(t *testing.T) {
	d, err := ParseDocumentDetail(detailPageHTML)
	if err != nil {
		t.Fatal(err)
	}

	if d.Title != "LEY FEDERAL DEL TRABAJO" {
		t.Errorf("title: %q", d.Title)
	}
	if d.ShortTitle != "LFT" {
		t.Errorf("short title: %q, want LFT", d.ShortTitle)
	}
	if d.Category != "LEY FEDERAL" || d.Scope != "FEDERAL" || d.Status != "VIGENTE" {
		t.Errorf("metadata: %+v", d)
	}
	if d.PublicationDate != "01/04/1970" {
		t.Errorf("publication date: %q", d.PublicationDate)
	}
	if d.ExpeditionDate != "23/12/1969" {
		t.Errorf("expedition date (accentless label): %q", d.ExpeditionDate)
	}

	if len(d.Articles) != 3 {
		t.Fatalf("articles: got %d, want 3", len(d.Articles))
	}
	if d.Articles[0].Number != "1" {
		t.Errorf("article 0 number: %q", d.Articles[0].Number)
	}
	if want := "La presente Ley es de observancia general en toda la República.\nRige las relaciones de trabajo."; d.Articles[0].Content != want {
		t.Errorf("article 0 content:\n got %q\nwant %q", d.Articles[0].Content, want)
	}
	if d.Articles[1].Number != "2 Bis" {
		t.Errorf("article 1 number: %q, want 2 Bis", d.Articles[1].Number)
	}
	if !d.Articles[2].IsTransitory || d.Articles[2].Number != "PRIMERO" {
		t.Errorf("transitory article: %+v", d.Articles[2])
	}

	if len(d.Reforms) != 2 {
		t.Fatalf("reforms: got %d, want 2", len(d.Reforms))
	}
	r := d.Reforms[0]
	if r.QParam != "Ref1==" || !r.HasPDF || r.PublicationDate != "30/11/2012" {
		t.Errorf("reform 0: %+v", r)
	}
	if r.GazetteReference != "DOF Primera Sección" {
		t.Errorf("gazette: %q", r.GazetteReference)
	}
	if d.Reforms[1].HasPDF {
		t.Error("reform 1 should have no PDF")
	}
}

func TestParseDocumentDetail_Deterministic(t *testing.T) {
	a, _ := ParseDocumentDetail(detailPageHTML)
	b, _ := ParseDocumentDetail(detailPageHTML)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("parsing identical HTML twice differs")
	}
}

func TestParseDocumentDetail_MissingContainer(t *testing.T) {
	_, err := ParseDocumentDetail(`<html><body><div id="otro"></div></body></html>`)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParseDocumentDetail_EmptyTitlePermitted(t *testing.T) {
	d, err := ParseDocumentDetail(`<div id="contenedor"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "" || len(d.Articles) != 0 || len(d.Reforms) != 0 {
		t.Fatalf("got %+v", d)
	}
}

func TestParseArticles_IDPrefixFallback(t *testing.T) {
	page := `<div id="contenedor"><div id="contenido-ordenamiento">
	  <div id="art15"><h4>Artículo 15°</h4><p>Contenido.</p></div>
	  <div id="art123a"><h4>Artículo 123-A</h4><p>Más contenido.</p></div>
	</div></div>`
	d, err := ParseDocumentDetail(page)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Articles) != 2 {
		t.Fatalf("articles: got %d, want 2", len(d.Articles))
	}
	if d.Articles[0].Number != "15°" {
		t.Errorf("degree number: %q", d.Articles[0].Number)
	}
	if d.Articles[1].Number != "123-A" {
		t.Errorf("dashed number: %q", d.Articles[1].Number)
	}
}

func TestExtractArticleNumber(t *testing.T) {
	cases := []struct {
		title      string
		transitory bool
		want       string
	}{
		{"Artículo 1", false, "1"},
		{"Artículo 1°", false, "1°"},
		{"ARTÍCULO 2 Bis", false, "2 Bis"},
		{"Artículo 123-A", false, "123-A"},
		{"TRANSITORIO SEGUNDO", true, "SEGUNDO"},
		{"DÉCIMO", true, "DÉCIMO"},
		{"Disposición 42", false, "42"},
		{"", false, ""},
	}
	for _, c := range cases {
		if got := extractArticleNumber(c.title, c.transitory); got != c.want {
			t.Errorf("extractArticleNumber(%q, %v) = %q, want %q", c.title, c.transitory, got, c.want)
		}
	}
}

func TestShortTitle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"LEY FEDERAL DEL TRABAJO", "LFT"},
		{"CONSTITUCIÓN POLÍTICA DE LOS ESTADOS UNIDOS MEXICANOS", "CPEUM"},
		{"CÓDIGO DE COMERCIO", "CC"},
		{"", ""},
	}
	for _, c := range cases {
		if got := ShortTitle(c.in); got != c.want {
			t.Errorf("ShortTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractQParam(t *testing.T) {
	cases := []struct{ href, want string }{
		{"wfOrdenamientoDetalle.aspx?q=AbC%3D%3D", "AbC=="},
		{"wfOrdenamientoDetalle.aspx?q=plain", "plain"},
		{"wfOrdenamientoDetalle.aspx?x=1&q=second", "second"},
		{"no-query.aspx", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := extractQParam(c.href); got != c.want {
			t.Errorf("extractQParam(%q) = %q, want %q", c.href, got, c.want)
		}
	}
}
