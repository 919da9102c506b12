package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lexmex/scjnpipe/fetch"
	"github.com/lexmex/scjnpipe/parser"
)

// discoveryWorker drives the paginated search. It keeps a process-local set
// of q_params it has already emitted so re-running Discover within a session
// never floods the Coordinator with duplicates.
type discoveryWorker struct {
	coord    *Mailbox
	source   fetch.Source
	eps      fetch.Endpoints
	maxPages int
	seen     map[string]struct{}
	logger   *slog.Logger
}

func (w *discoveryWorker) name() string { return "discovery" }

func (w *discoveryWorker) handle(ctx context.Context, msg Message) error {
	cmd, ok := msg.(Discover)
	if !ok {
		w.logger.Warn("unexpected message", "actor", w.name(), "type", fmt.Sprintf("%T", msg))
		return nil
	}

	items, pag, err := w.fetchPage(ctx, cmd, 1)
	if err != nil {
		return err
	}

	emitted, err := w.emit(ctx, cmd, items, cmd.MaxResults)
	if err != nil {
		return err
	}
	firstPageFound := len(items)

	lastPage := 1
	if cmd.AllPages {
		limit := min(pag.TotalPages, w.maxPages)
		for page := 2; page <= limit; page++ {
			if cmd.MaxResults > 0 && emitted >= cmd.MaxResults {
				break
			}
			items, _, err := w.fetchPage(ctx, cmd, page)
			if err != nil {
				// A later page failing does not abort the run.
				w.logger.Warn("skipping search page", "page", page, "error", err)
				continue
			}
			budget := 0
			if cmd.MaxResults > 0 {
				budget = cmd.MaxResults - emitted
			}
			n, err := w.emit(ctx, cmd, items, budget)
			if err != nil {
				return err
			}
			emitted += n
			lastPage = page
		}
	}

	w.logger.Info("discovery finished",
		"emitted", emitted, "pages_visited", lastPage, "total_pages", pag.TotalPages)

	return w.coord.Tell(ctx, PageDiscovered{
		Envelope:       ChildEnvelope(cmd),
		DocumentsFound: firstPageFound,
		CurrentPage:    lastPage,
		TotalPages:     pag.TotalPages,
		HasMorePages:   lastPage < pag.TotalPages,
	})
}

func (w *discoveryWorker) fetchPage(ctx context.Context, cmd Discover, page int) ([]parser.SearchResultItem, parser.Pagination, error) {
	html, err := w.source.Page(ctx, w.eps.Search(cmd.Query, page))
	if err != nil {
		return nil, parser.Pagination{}, err
	}
	items, err := parser.ParseSearchResults(html)
	if err != nil {
		return nil, parser.Pagination{}, err
	}
	return items, parser.ParsePagination(html), nil
}

// emit tells the Coordinator about unseen items. budget caps emissions when
// positive; budget <= 0 with MaxResults set means the cap is spent.
func (w *discoveryWorker) emit(ctx context.Context, cmd Discover, items []parser.SearchResultItem, budget int) (int, error) {
	emitted := 0
	for _, item := range items {
		if _, dup := w.seen[item.QParam]; dup {
			continue
		}
		if cmd.MaxResults > 0 && emitted >= budget {
			break
		}
		w.seen[item.QParam] = struct{}{}
		ev := DocumentDiscovered{
			Envelope: ChildEnvelope(cmd),
			QParam:   item.QParam,
			Title:    item.Title,
			Category: item.Category,
		}
		if err := w.coord.Tell(ctx, ev); err != nil {
			return emitted, err
		}
		emitted++
	}
	return emitted, nil
}
