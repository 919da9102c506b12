package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lexmex/scjnpipe/checkpoint"
	"github.com/lexmex/scjnpipe/chunk"
	"github.com/lexmex/scjnpipe/embedding"
	"github.com/lexmex/scjnpipe/fetch"
	"github.com/lexmex/scjnpipe/legal"
	"github.com/lexmex/scjnpipe/store"
	"github.com/lexmex/scjnpipe/vectorstore"
)

// Config wires a Pipeline. Source, Store, and Checkpoints are required.
type Config struct {
	// Source produces rendered HTML for search and detail pages.
	Source fetch.Source
	// PDFFetcher downloads reform PDFs. Defaults to a plain fetcher.
	PDFFetcher *fetch.Fetcher
	// Endpoints builds upstream URLs. Zero value targets the live portal.
	Endpoints fetch.Endpoints

	Store       *store.Store
	Checkpoints *checkpoint.Store
	// Vectors defaults to a fresh in-memory index.
	Vectors *vectorstore.Store
	// Encoder defaults to the deterministic hash encoder.
	Encoder embedding.Encoder

	ChunkOptions chunk.Options

	SessionID              string
	MaxConcurrentDownloads int           // default 3
	MaxRetries             int           // default 3
	RetryBackoff           time.Duration // default 2s, multiplied by attempt
	CheckpointInterval     int           // downloads between checkpoints, default 10
	MaxPages               int           // discovery page cap, default 100
	IncludePDFs            bool
	IncludeReforms         bool
	FetchExtracts          bool

	// PDFMailboxSize bounds the PDF processor queue; a small value makes the
	// scraper block and is the pipeline's flow control. Default 4.
	PDFMailboxSize int

	// Resume seeds progress counters from a previous session's checkpoint.
	Resume *legal.Checkpoint

	EmbedBatchSize int // default 32
	EmbedWorkers   int // default 2

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PDFFetcher == nil {
		c.PDFFetcher = fetch.New()
	}
	if c.Vectors == nil {
		c.Vectors = vectorstore.New(0)
	}
	if c.Encoder == nil {
		c.Encoder = embedding.New(embedding.Config{})
	}
	if c.ChunkOptions == (chunk.Options{}) {
		c.ChunkOptions = chunk.DefaultOptions()
	}
	if c.SessionID == "" {
		c.SessionID = "session-" + time.Now().UTC().Format("20060102-150405")
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 10
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	if c.PDFMailboxSize <= 0 {
		c.PDFMailboxSize = 4
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 32
	}
	if c.EmbedWorkers <= 0 {
		c.EmbedWorkers = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline runs the worker set. Create with New, drive with Tell and the
// typed helpers, stop with Stop.
type Pipeline struct {
	cfg     Config
	coord   *coordinator
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers []workerEntry

	coordMbox   *Mailbox
	pdfproc     *pdfWorker
	searchMboxV *Mailbox // vector worker mailbox, used by SearchSimilar
}

// workerEntry pairs a worker with its mailbox.
type workerEntry struct {
	w    worker
	mbox *Mailbox
}

// New validates the config and builds the worker graph. Start launches it.
func New(cfg Config) (*Pipeline, error) {
	cfg.defaults()
	if cfg.Source == nil {
		return nil, errors.New("pipeline: Source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("pipeline: Store is required")
	}
	if cfg.Checkpoints == nil {
		return nil, errors.New("pipeline: Checkpoints is required")
	}

	// The Coordinator mailbox is the event fan-in; size it generously so
	// worker tells back to the Coordinator do not feed a blocking cycle.
	coordMbox := NewMailbox("coordinator", 1024)
	discoveryMbox := NewMailbox("discovery", 4)
	// Capacity >= maxConcurrent keeps the pump's tells non-blocking.
	scraperMbox := NewMailbox("scraper", cfg.MaxConcurrentDownloads)
	pdfMbox := NewMailbox("pdf_processor", cfg.PDFMailboxSize)
	embedMbox := NewMailbox("embedder", 16)
	vectorMbox := NewMailbox("vector_store", 16)
	persistMbox := NewMailbox("persistence", 16)
	checkpointMbox := NewMailbox("checkpoint", 16)

	coord := &coordinator{
		mbox:         coordMbox,
		discovery:    discoveryMbox,
		scraper:      scraperMbox,
		checkpointer: checkpointMbox,
		exists:       cfg.Store.Exists,
		logger:       cfg.Logger,

		sessionID:          cfg.SessionID,
		maxConcurrent:      cfg.MaxConcurrentDownloads,
		maxRetries:         cfg.MaxRetries,
		retryBackoff:       cfg.RetryBackoff,
		checkpointInterval: cfg.CheckpointInterval,
		includePDF:         cfg.IncludePDFs,
		includeReforms:     cfg.IncludeReforms,

		state:      StateIdle,
		discovered: make(map[string]struct{}),
		downloaded: make(map[string]struct{}),
		retries:    make(map[string]int),
	}
	if cp := cfg.Resume; cp != nil {
		coord.processed = cp.ProcessedCount
		coord.lastQParam = cp.LastProcessedQParam
		coord.failed = append(coord.failed, cp.FailedQParams...)
	}

	p := &Pipeline{
		cfg:         cfg,
		coord:       coord,
		coordMbox:   coordMbox,
		searchMboxV: vectorMbox,
	}
	p.pdfproc = &pdfWorker{
		coord:    coordMbox,
		persist:  persistMbox,
		embedder: embedMbox,
		opts:     cfg.ChunkOptions,
		cache:    make(map[string][]legal.TextChunk),
		logger:   cfg.Logger,
	}

	workers := []workerEntry{
		{coord, coordMbox},
		{&discoveryWorker{
			coord:    coordMbox,
			source:   cfg.Source,
			eps:      cfg.Endpoints,
			maxPages: cfg.MaxPages,
			seen:     make(map[string]struct{}),
			logger:   cfg.Logger,
		}, discoveryMbox},
		{&scraperWorker{
			coord:         coordMbox,
			persist:       persistMbox,
			pdfproc:       pdfMbox,
			source:        cfg.Source,
			pdf:           cfg.PDFFetcher,
			extractor:     fetch.NewExtractor(),
			eps:           cfg.Endpoints,
			logger:        cfg.Logger,
			fetchExtracts: cfg.FetchExtracts,
		}, scraperMbox},
		{p.pdfproc, pdfMbox},
		{&embedWorker{
			coord:     coordMbox,
			persist:   persistMbox,
			vector:    vectorMbox,
			enc:       cfg.Encoder,
			batchSize: cfg.EmbedBatchSize,
			workers:   cfg.EmbedWorkers,
			logger:    cfg.Logger,
		}, embedMbox},
		{&vectorWorker{coord: coordMbox, index: cfg.Vectors, logger: cfg.Logger}, vectorMbox},
		{&persistWorker{coord: coordMbox, store: cfg.Store, logger: cfg.Logger}, persistMbox},
		{&checkpointWorker{coord: coordMbox, store: cfg.Checkpoints, logger: cfg.Logger}, checkpointMbox},
	}
	p.workers = workers
	return p, nil
}

// Start launches one goroutine per worker.
func (p *Pipeline) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	for _, e := range p.workers {
		p.wg.Add(1)
		go func(e workerEntry) {
			defer p.wg.Done()
			runWorker(ctx, e.w, e.mbox, p.coordMbox, p.cfg.Logger)
		}(e)
	}
}

// Stop cancels every worker and waits for them to drain.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.cfg.Source.Close()
}

// Tell sends a message to the Coordinator.
func (p *Pipeline) Tell(ctx context.Context, msg Message) error {
	return p.coordMbox.Tell(ctx, msg)
}

// Discover starts a discovery run.
func (p *Pipeline) Discover(ctx context.Context, query fetch.Query, maxResults int, allPages bool) error {
	return p.Tell(ctx, Discover{
		Envelope: NewEnvelope(), Query: query, MaxResults: maxResults, AllPages: allPages,
	})
}

// Pause stops queue pumping and saves a checkpoint.
func (p *Pipeline) Pause(ctx context.Context) error {
	return p.Tell(ctx, Pause{Envelope: NewEnvelope()})
}

// Resume restarts queue pumping.
func (p *Pipeline) Resume(ctx context.Context) error {
	return p.Tell(ctx, Resume{Envelope: NewEnvelope()})
}

// State asks the Coordinator for a snapshot.
func (p *Pipeline) State(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := p.Tell(ctx, GetState{Envelope: NewEnvelope(), Reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, fmt.Errorf("pipeline: get state: %w", ctx.Err())
	}
}

// SearchSimilar asks the vector worker for the nearest chunks.
func (p *Pipeline) SearchSimilar(ctx context.Context, vector []float32, topK int, filterDocIDs []string) (SearchResults, error) {
	reply := make(chan SearchResults, 1)
	cmd := SearchSimilar{
		Envelope: NewEnvelope(), Vector: vector, TopK: topK,
		FilterDocumentIDs: filterDocIDs, Reply: reply,
	}
	if err := p.searchMboxV.Tell(ctx, cmd); err != nil {
		return SearchResults{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return SearchResults{}, fmt.Errorf("pipeline: search: %w", ctx.Err())
	}
}

// ChunksFor exposes the PDF processor's cached chunks for a document.
func (p *Pipeline) ChunksFor(documentID string) []legal.TextChunk {
	return p.pdfproc.chunksFor(documentID)
}

// SessionID returns the session this pipeline checkpoints under.
func (p *Pipeline) SessionID() string { return p.cfg.SessionID }

// VectorStats reports the vector index statistics.
func (p *Pipeline) VectorStats() vectorstore.Stats { return p.cfg.Vectors.Stats() }
