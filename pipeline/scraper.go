package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lexmex/scjnpipe/fetch"
	"github.com/lexmex/scjnpipe/legal"
	"github.com/lexmex/scjnpipe/parser"
)

// scraperWorker turns a Download command into a Document record: detail
// fetch, parse, variant resolution, then the reform PDFs. PDF failures are
// logged and swallowed; they never fail the parent document.
type scraperWorker struct {
	coord     *Mailbox
	persist   *Mailbox
	pdfproc   *Mailbox
	source    fetch.Source
	pdf       *fetch.Fetcher
	extractor *fetch.Extractor
	eps       fetch.Endpoints
	logger    *slog.Logger

	// fetchExtracts enables the per-reform extract page fetch.
	fetchExtracts bool
}

// attachExtracts fetches each reform's extract page and stores the sanitized
// text on the record. Best-effort: a failed extract leaves the field nil.
func (w *scraperWorker) attachExtracts(ctx context.Context, doc *legal.Document) {
	for i := range doc.Reforms {
		q := doc.Reforms[i].QParam
		if q == "" {
			continue
		}
		extractURL := w.eps.Extract(q)
		html, err := w.source.Page(ctx, extractURL)
		if err != nil {
			w.logger.Debug("reform extract failed", "reform_q", q, "error", err)
			continue
		}
		if text := w.extractor.Text(html, extractURL); text != "" {
			doc.Reforms[i].TextContent = &text
		}
	}
}

func (w *scraperWorker) name() string { return "scraper" }

func (w *scraperWorker) handle(ctx context.Context, msg Message) error {
	cmd, ok := msg.(Download)
	if !ok {
		w.logger.Warn("unexpected message", "actor", w.name(), "type", fmt.Sprintf("%T", msg))
		return nil
	}

	html, err := w.source.Page(ctx, w.eps.Detail(cmd.QParam))
	if err != nil {
		return err
	}
	detail, err := parser.ParseDocumentDetail(html)
	if err != nil {
		return err
	}

	doc := w.buildDocument(cmd, detail)
	if w.fetchExtracts && cmd.IncludeReforms {
		w.attachExtracts(ctx, doc)
	}
	if err := w.persist.Tell(ctx, SaveDocument{Envelope: ChildEnvelope(cmd), Document: doc}); err != nil {
		return err
	}

	pdfBytes := 0
	hasPDF := false
	for _, r := range doc.Reforms {
		if !r.HasPDF {
			continue
		}
		hasPDF = true
		if !cmd.IncludePDF {
			continue
		}
		n, err := w.processReformPDF(ctx, cmd, doc.ID, r.QParam)
		if err != nil {
			w.logger.Warn("reform pdf failed",
				"q_param", cmd.QParam, "reform_q", r.QParam, "error", err)
			continue
		}
		pdfBytes += n
	}

	return w.coord.Tell(ctx, DocumentDownloaded{
		Envelope:     ChildEnvelope(cmd),
		DocumentID:   doc.ID,
		QParam:       cmd.QParam,
		HasPDF:       hasPDF,
		PDFSizeBytes: pdfBytes,
	})
}

// processReformPDF downloads one reform PDF and hands it to the processor.
// The tell blocks when the processor lags; that is the intended flow control.
func (w *scraperWorker) processReformPDF(ctx context.Context, cmd Download, documentID, reformQ string) (int, error) {
	pdfURL := w.eps.PDF(reformQ)
	data, err := w.pdf.PDF(ctx, pdfURL)
	if err != nil {
		return 0, err
	}
	err = w.pdfproc.Tell(ctx, ProcessPDF{
		Envelope:   ChildEnvelope(cmd),
		DocumentID: documentID,
		PDFBytes:   data,
		SourceURL:  pdfURL,
	})
	return len(data), err
}

// buildDocument maps parsed strings onto the domain record. Unknown labels
// resolve to defaults, malformed dates to nil.
func (w *scraperWorker) buildDocument(cmd Download, detail *parser.DocumentDetail) *legal.Document {
	doc := &legal.Document{
		ID:              legal.NewDocumentID(),
		QParam:          cmd.QParam,
		Title:           detail.Title,
		ShortTitle:      detail.ShortTitle,
		Category:        legal.ParseCategory(detail.Category),
		Scope:           legal.ParseScope(detail.Scope),
		Status:          legal.ParseStatus(detail.Status),
		PublicationDate: legal.ParseUpstreamDate(detail.PublicationDate),
		ExpeditionDate:  legal.ParseUpstreamDate(detail.ExpeditionDate),
		SourceURL:       w.eps.Detail(cmd.QParam),
	}
	if doc.ShortTitle == "" {
		doc.ShortTitle = parser.ShortTitle(detail.Title)
	}

	for _, a := range detail.Articles {
		doc.Articles = append(doc.Articles, legal.Article{
			Number:       a.Number,
			Title:        a.Title,
			Content:      a.Content,
			IsTransitory: a.IsTransitory,
		})
	}
	if cmd.IncludeReforms {
		for _, r := range detail.Reforms {
			doc.Reforms = append(doc.Reforms, legal.Reform{
				ID:                legal.NewReformID(),
				QParam:            r.QParam,
				PublicationDate:   legal.ParseUpstreamDate(r.PublicationDate),
				PublicationNumber: r.Title,
				GazetteSection:    r.GazetteReference,
				HasPDF:            r.HasPDF,
			})
		}
	}
	return doc
}
