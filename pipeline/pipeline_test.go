package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lexmex/scjnpipe/checkpoint"
	"github.com/lexmex/scjnpipe/embedding"
	"github.com/lexmex/scjnpipe/fetch"
	"github.com/lexmex/scjnpipe/legal"
	"github.com/lexmex/scjnpipe/store"
	"github.com/lexmex/scjnpipe/vectorstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var eps fetch.Endpoints // zero value; the fake source never dials

// fakeSource serves canned HTML per URL and can queue failures.
type fakeSource struct {
	delay time.Duration

	mu       sync.Mutex
	pages    map[string]string
	failures map[string][]error
	calls    map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:    make(map[string]string),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (s *fakeSource) Page(ctx context.Context, url string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[url]++
	if errs := s.failures[url]; len(errs) > 0 {
		err := errs[0]
		s.failures[url] = errs[1:]
		return "", err
	}
	html, ok := s.pages[url]
	if !ok {
		return "", &fetch.StatusError{URL: url, StatusCode: http.StatusNotFound}
	}
	return html, nil
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

// searchHTML builds a single-grid results page for the given q_params.
func searchHTML(page, totalPages int, qs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="gridResultados"><table>`)
	for _, q := range qs {
		fmt.Fprintf(&b, `<tr class="dxgvDataRow">
			<td><a href="wfOrdenamientoDetalle.aspx?q=%s">DOCUMENTO %s</a></td>
			<td>01/01/2000</td><td></td><td>VIGENTE</td><td>LEY</td><td>FEDERAL</td><td></td>
		</tr>`, strings.ReplaceAll(q, "=", "%3D"), q)
	}
	fmt.Fprintf(&b, `</table><div class="dxpPagerTotal">Página %d de %d</div></div></body></html>`,
		page, totalPages)
	return b.String()
}

func detailHTML(title string) string {
	return `<html><body><div id="contenedor">
	  <h1 class="titulo-ordenamiento">` + title + `</h1>
	  <div class="datos-ordenamiento">
	    <div class="dato"><span class="etiqueta">Estatus:</span><span class="valor">VIGENTE</span></div>
	  </div>
	  <div id="contenido-ordenamiento">
	    <div class="articulo"><h3>Artículo 1</h3><p>Disposiciones generales.</p></div>
	  </div>
	</div></body></html>`
}

type testEnv struct {
	source *fakeSource
	store  *store.Store
	cps    *checkpoint.Store
	p      *Pipeline
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New(store.Config{Dir: t.TempDir(), Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	cps, err := checkpoint.NewStore(t.TempDir(), quiet)
	if err != nil {
		t.Fatal(err)
	}
	source := newFakeSource()

	cfg := Config{
		Source:       source,
		Store:        st,
		Checkpoints:  cps,
		SessionID:    "test-session",
		RetryBackoff: 5 * time.Millisecond,
		Logger:       quiet,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	return &testEnv{source: source, store: st, cps: cps, p: p}
}

func waitFor(t *testing.T, p *Pipeline, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last Snapshot
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		snap, err := p.State(ctx)
		cancel()
		if err == nil {
			last = snap
			if cond(snap) {
				return snap
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached; last state %+v", last)
	return last
}

func TestHappyPathSinglePage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.source.pages[eps.Search(fetch.Query{}, 1)] = searchHTML(1, 1, "A==", "B==")
	env.source.pages[eps.Detail("A==")] = detailHTML("LEY PRIMERA")
	env.source.pages[eps.Detail("B==")] = detailHTML("LEY SEGUNDA")

	if err := env.p.Discover(context.Background(), fetch.Query{}, 0, false); err != nil {
		t.Fatal(err)
	}

	snap := waitFor(t, env.p, func(s Snapshot) bool {
		return s.State == StateIdle && s.DownloadedCount == 2
	})
	if snap.DiscoveredCount != 2 || snap.ErrorCount != 0 {
		t.Fatalf("final state: %+v", snap)
	}

	ctx := context.Background()
	for _, q := range []string{"A==", "B=="} {
		if !env.store.Exists(ctx, q) {
			t.Errorf("document %s not persisted", q)
		}
	}
	doc, err := env.store.LoadDocument("A==")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "LEY PRIMERA" || doc.Status != legal.StatusVigente {
		t.Fatalf("document: %+v", doc)
	}
}

func TestDedupByPriorExistence(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// A== already persisted before the run.
	pre := &legal.Document{ID: legal.NewDocumentID(), QParam: "A==", Title: "YA GUARDADA",
		Category: legal.CategoryLey, Scope: legal.ScopeFederal, Status: legal.StatusVigente}
	if err := env.store.SaveDocument(ctx, pre); err != nil {
		t.Fatal(err)
	}

	env.source.pages[eps.Search(fetch.Query{}, 1)] = searchHTML(1, 1, "A==", "C==")
	env.source.pages[eps.Detail("A==")] = detailHTML("NO DEBE DESCARGARSE")
	env.source.pages[eps.Detail("C==")] = detailHTML("LEY NUEVA")

	if err := env.p.Discover(ctx, fetch.Query{}, 0, false); err != nil {
		t.Fatal(err)
	}
	snap := waitFor(t, env.p, func(s Snapshot) bool {
		return s.State == StateIdle && s.DownloadedCount == 1
	})
	if snap.DiscoveredCount != 2 {
		t.Fatalf("discovered: %d, want 2", snap.DiscoveredCount)
	}
	if n := env.source.callCount(eps.Detail("A==")); n != 0 {
		t.Fatalf("pre-existing document was fetched %d times", n)
	}
}

func TestTransientThenSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	env.source.pages[eps.Search(fetch.Query{}, 1)] = searchHTML(1, 1, "A==")
	env.source.pages[eps.Detail("A==")] = detailHTML("LEY RESILIENTE")
	env.source.failures[eps.Detail("A==")] = []error{
		&fetch.StatusError{URL: eps.Detail("A=="), StatusCode: http.StatusServiceUnavailable},
	}

	if err := env.p.Discover(context.Background(), fetch.Query{}, 0, false); err != nil {
		t.Fatal(err)
	}
	snap := waitFor(t, env.p, func(s Snapshot) bool {
		return s.State == StateIdle && s.DownloadedCount == 1
	})
	if snap.ErrorCount != 1 {
		t.Fatalf("error count: %d, want 1", snap.ErrorCount)
	}
	if n := env.source.callCount(eps.Detail("A==")); n != 2 {
		t.Fatalf("detail fetches: %d, want 2", n)
	}
	if len(snap.FailedQParams) != 0 {
		t.Fatalf("recovered q_param listed as failed: %v", snap.FailedQParams)
	}
}

func TestPermanentFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.source.pages[eps.Search(fetch.Query{}, 1)] = searchHTML(1, 1, "A==")
	// No detail page registered: the fake answers 404.

	if err := env.p.Discover(context.Background(), fetch.Query{}, 0, false); err != nil {
		t.Fatal(err)
	}
	snap := waitFor(t, env.p, func(s Snapshot) bool {
		return s.State == StateIdle && s.ErrorCount == 1
	})
	if snap.DownloadedCount != 0 {
		t.Fatalf("downloaded: %d, want 0", snap.DownloadedCount)
	}
	if n := env.source.callCount(eps.Detail("A==")); n != 1 {
		t.Fatalf("404 must not be retried, got %d fetches", n)
	}
	if len(snap.FailedQParams) != 1 || snap.FailedQParams[0] != "A==" {
		t.Fatalf("failed q_params: %v", snap.FailedQParams)
	}
	if env.store.Exists(context.Background(), "A==") {
		t.Fatal("failed document must not be persisted")
	}
}

func TestRetriesExhausted(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxRetries = 2 })
	detailURL := eps.Detail("A==")
	env.source.pages[eps.Search(fetch.Query{}, 1)] = searchHTML(1, 1, "A==")
	env.source.pages[detailURL] = detailHTML("NUNCA LLEGA")
	var fails []error
	for range 5 {
		fails = append(fails, &fetch.StatusError{URL: detailURL, StatusCode: http.StatusBadGateway})
	}
	env.source.failures[detailURL] = fails

	if err := env.p.Discover(context.Background(), fetch.Query{}, 0, false); err != nil {
		t.Fatal(err)
	}
	snap := waitFor(t, env.p, func(s Snapshot) bool {
		return s.State == StateIdle && len(s.FailedQParams) == 1
	})
	// One initial attempt plus MaxRetries.
	if n := env.source.callCount(detailURL); n != 3 {
		t.Fatalf("attempts: %d, want 3", n)
	}
	if snap.DownloadedCount != 0 {
		t.Fatalf("downloaded: %d", snap.DownloadedCount)
	}
}

func TestPauseAndResumeWithCheckpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.source.pages[eps.Search(fetch.Query{}, 1)] = searchHTML(1, 1, "A==", "B==")
	env.source.pages[eps.Detail("A==")] = detailHTML("LEY A")
	env.source.pages[eps.Detail("B==")] = detailHTML("LEY B")

	ctx := context.Background()
	if err := env.p.Discover(ctx, fetch.Query{}, 0, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, env.p, func(s Snapshot) bool { return s.DownloadedCount == 2 })

	if err := env.p.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, env.p, func(s Snapshot) bool { return s.State == StatePaused })

	var cp *legal.Checkpoint
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, err := env.cps.Load("test-session"); err == nil {
			cp = got
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if cp == nil {
		t.Fatal("pause did not persist a checkpoint")
	}
	if cp.ProcessedCount != 2 {
		t.Fatalf("checkpoint processed count: %d, want 2", cp.ProcessedCount)
	}

	if err := env.p.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, env.p, func(s Snapshot) bool { return s.State != StatePaused })
}

func TestBoundedConcurrency(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxConcurrentDownloads = 3 })
	env.source.delay = 15 * time.Millisecond

	qs := make([]string, 8)
	for i := range qs {
		qs[i] = fmt.Sprintf("Q%d==", i)
		env.source.pages[eps.Detail(qs[i])] = detailHTML(fmt.Sprintf("LEY %d", i))
	}
	env.source.pages[eps.Search(fetch.Query{}, 1)] = searchHTML(1, 1, qs...)

	if err := env.p.Discover(context.Background(), fetch.Query{}, 0, false); err != nil {
		t.Fatal(err)
	}

	maxActive := 0
	waitFor(t, env.p, func(s Snapshot) bool {
		if s.ActiveDownloads > maxActive {
			maxActive = s.ActiveDownloads
		}
		if s.DownloadedCount > s.DiscoveredCount {
			t.Fatalf("downloaded %d > discovered %d", s.DownloadedCount, s.DiscoveredCount)
		}
		return s.State == StateIdle && s.DownloadedCount == 8
	})
	if maxActive > 3 {
		t.Fatalf("active downloads peaked at %d", maxActive)
	}
}

func TestBackpressureBlocksSender(t *testing.T) {
	m := NewMailbox("narrow", 1)
	ctx := context.Background()

	if err := m.Tell(ctx, Pause{Envelope: NewEnvelope()}); err != nil {
		t.Fatal(err)
	}

	// Mailbox full: the next tell blocks until timeout.
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := m.Tell(short, Pause{Envelope: NewEnvelope()}); err == nil {
		t.Fatal("tell into a full mailbox should block until cancellation")
	}

	// Draining one slot unblocks the sender; nothing is lost.
	done := make(chan error, 1)
	go func() { done <- m.Tell(ctx, Resume{Envelope: NewEnvelope()}) }()
	first := <-m.Receive()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	second := <-m.Receive()
	if _, ok := first.(Pause); !ok {
		t.Fatalf("first message: %T", first)
	}
	if _, ok := second.(Resume); !ok {
		t.Fatalf("second message: %T", second)
	}
}

func TestEmbedWorker(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := NewMailbox("coord", 8)
	persist := NewMailbox("persist", 8)
	vector := NewMailbox("vector", 8)
	w := &embedWorker{
		coord: coord, persist: persist, vector: vector,
		enc:       embedding.New(embedding.Config{Dimension: 8}),
		batchSize: 2, workers: 2, logger: quiet,
	}

	cmd := GenerateEmbeddings{
		Envelope:   NewEnvelope(),
		DocumentID: "doc-1",
		Chunks: []legal.TextChunk{
			{ID: legal.ChunkID("doc-1", 0), Content: "primer fragmento"},
			{ID: legal.ChunkID("doc-1", 1), Content: "segundo fragmento"},
			{ID: legal.ChunkID("doc-1", 2), Content: "tercer fragmento"},
		},
	}
	if err := w.handle(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}

	save := (<-vector.Receive()).(SaveEmbeddings)
	if len(save.Embeddings) != 3 || len(save.Embeddings[0].Vector) != 8 {
		t.Fatalf("vector save: %d embeddings", len(save.Embeddings))
	}
	if save.Correlation() != cmd.Correlation() {
		t.Fatal("correlation id not propagated")
	}
	<-persist.Receive()
	gen := (<-coord.Receive()).(EmbeddingsGenerated)
	if gen.Count != 3 || gen.Correlation() != cmd.Correlation() {
		t.Fatalf("event: %+v", gen)
	}
}

func TestEmbedWorker_EmptyChunks(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := NewMailbox("coord", 2)
	w := &embedWorker{
		coord: coord, persist: NewMailbox("p", 2), vector: NewMailbox("v", 2),
		enc: embedding.New(embedding.Config{}), batchSize: 2, workers: 1, logger: quiet,
	}
	if err := w.handle(context.Background(), GenerateEmbeddings{Envelope: NewEnvelope(), DocumentID: "d"}); err != nil {
		t.Fatal(err)
	}
	gen := (<-coord.Receive()).(EmbeddingsGenerated)
	if gen.Count != 0 {
		t.Fatalf("count: %d", gen.Count)
	}
}

func TestVectorWorkerSearch(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := &vectorWorker{coord: NewMailbox("coord", 2), index: vectorstore.New(2), logger: quiet}
	ctx := context.Background()

	if err := w.handle(ctx, SaveEmbeddings{
		Envelope: NewEnvelope(), DocumentID: "doc-1",
		Embeddings: []legal.Embedding{
			{ChunkID: "c1", Vector: []float32{1, 0}},
			{ChunkID: "c2", Vector: []float32{0, 1}},
		},
	}); err != nil {
		t.Fatal(err)
	}

	reply := make(chan SearchResults, 1)
	if err := w.handle(ctx, SearchSimilar{
		Envelope: NewEnvelope(), Vector: []float32{1, 0}, TopK: 1, Reply: reply,
	}); err != nil {
		t.Fatal(err)
	}
	res := <-reply
	if len(res.Matches) != 1 || res.Matches[0].ChunkID != "c1" {
		t.Fatalf("matches: %+v", res.Matches)
	}
	if res.Matches[0].Similarity != 1.0 {
		t.Fatalf("self similarity: %f", res.Matches[0].Similarity)
	}
}

func TestPDFFailureDoesNotFailDocument(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := NewMailbox("coord", 8)
	w := &pdfWorker{
		coord: coord, persist: NewMailbox("p", 8), embedder: NewMailbox("e", 8),
		cache: map[string][]legal.TextChunk{}, logger: quiet,
	}
	err := w.handle(context.Background(), ProcessPDF{
		Envelope: NewEnvelope(), DocumentID: "doc-1", PDFBytes: []byte("not a pdf"),
	})
	ev := classify(w.name(), Pause{}, err)
	if ev.Kind != ErrorPDF || ev.Recoverable {
		t.Fatalf("classification: %+v", ev)
	}
}

func TestPDFWorker_EmptyBytes(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := &pdfWorker{
		coord: NewMailbox("c", 2), persist: NewMailbox("p", 2), embedder: NewMailbox("e", 2),
		cache: map[string][]legal.TextChunk{}, logger: quiet,
	}
	err := w.handle(context.Background(), ProcessPDF{Envelope: NewEnvelope(), DocumentID: "d"})
	if err == nil {
		t.Fatal("empty bytes must error")
	}
	var ev *Error
	if !errors.As(err, &ev) || ev.Recoverable {
		t.Fatalf("empty pdf must be non-recoverable: %v", err)
	}
}
