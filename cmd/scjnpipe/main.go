// Command scjnpipe drives the SCJN ingestion pipeline: discover documents on
// the legislative portal, download and parse them, chunk and embed reform
// PDFs, and persist everything locally (optionally mirrored to sqlite).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexmex/scjnpipe/bridge"
	"github.com/lexmex/scjnpipe/checkpoint"
	"github.com/lexmex/scjnpipe/chunk"
	"github.com/lexmex/scjnpipe/config"
	"github.com/lexmex/scjnpipe/dbopen"
	"github.com/lexmex/scjnpipe/embedding"
	"github.com/lexmex/scjnpipe/fetch"
	"github.com/lexmex/scjnpipe/legal"
	"github.com/lexmex/scjnpipe/pipeline"
	"github.com/lexmex/scjnpipe/ratelimit"
	"github.com/lexmex/scjnpipe/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "discover":
		os.Exit(cmdDiscover(os.Args[2:]))
	case "resume":
		os.Exit(cmdResume(os.Args[2:]))
	case "status":
		os.Exit(cmdStatus(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: scjnpipe <command> [flags]

commands:
  discover   search the portal and ingest matching documents
  resume     continue a checkpointed session
  status     list checkpointed sessions
`)
}

// runFlags are the knobs shared by discover and resume.
type runFlags struct {
	configPath    string
	outputDir     string
	checkpointDir string
	concurrency   int
	rateLimit     float64
	skipPDFs      bool
	listen        string
}

func (rf *runFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&rf.configPath, "config", "", "YAML config file")
	fs.StringVar(&rf.outputDir, "output-dir", "", "document storage directory")
	fs.StringVar(&rf.checkpointDir, "checkpoint-dir", "", "checkpoint directory")
	fs.IntVar(&rf.concurrency, "concurrency", 0, "max concurrent downloads")
	fs.Float64Var(&rf.rateLimit, "rate-limit", 0, "upstream requests per second")
	fs.BoolVar(&rf.skipPDFs, "skip-pdfs", false, "skip reform PDF download and processing")
	fs.StringVar(&rf.listen, "listen", "", "serve the status HTTP API on this address")
}

// merge applies flag overrides on top of the loaded config.
func (rf *runFlags) merge(cfg *config.Config) {
	if rf.outputDir != "" {
		cfg.StorageDir = rf.outputDir
	}
	if rf.checkpointDir != "" {
		cfg.CheckpointDir = rf.checkpointDir
	}
	if rf.concurrency > 0 {
		cfg.MaxConcurrentDownloads = rf.concurrency
	}
	if rf.rateLimit > 0 {
		cfg.RateLimitPerSecond = rf.rateLimit
	}
	if rf.listen != "" {
		cfg.ListenAddr = rf.listen
	}
}

func cmdDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	var rf runFlags
	rf.register(fs)
	category := fs.String("category", "", "ordenamiento category (e.g. LEY)")
	scope := fs.String("scope", "", "ambito filter (e.g. FEDERAL)")
	status := fs.String("status", "", "estatus filter (e.g. VIGENTE)")
	maxResults := fs.Int("max-results", 0, "stop after this many documents (0 = all)")
	allPages := fs.Bool("all-pages", false, "walk every result page")
	fs.Parse(args)

	cfg, err := config.Load(rf.configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		return 2
	}
	rf.merge(cfg)

	query := fetch.Query{Category: *category, Scope: *scope, Status: *status}
	return run(cfg, query, *maxResults, *allPages, !rf.skipPDFs, nil)
}

func cmdResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	var rf runFlags
	rf.register(fs)
	sessionID := fs.String("session-id", "", "session to resume (required)")
	fs.Parse(args)

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "resume: -session-id is required")
		return 1
	}
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		return 2
	}
	rf.merge(cfg)

	logger := newLogger()
	cps, err := checkpoint.NewStore(cfg.CheckpointDir, logger)
	if err != nil {
		slog.Error("open checkpoints", "error", err)
		return 2
	}
	cp, err := cps.Load(*sessionID)
	if err != nil {
		slog.Error("load checkpoint", "session_id", *sessionID, "error", err)
		return 2
	}
	return run(cfg, fetch.Query{}, 0, true, !rf.skipPDFs, cp)
}

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	checkpointDir := fs.String("checkpoint-dir", "checkpoints", "checkpoint directory")
	fs.Parse(args)

	cps, err := checkpoint.NewStore(*checkpointDir, newLogger())
	if err != nil {
		slog.Error("open checkpoints", "error", err)
		return 2
	}
	sessions, err := cps.List()
	if err != nil {
		slog.Error("list checkpoints", "error", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Println("no checkpointed sessions")
		return 0
	}
	for _, cp := range sessions {
		fmt.Printf("%s\tprocessed=%d\tfailed=%d\tlast=%s\t%s\n",
			cp.SessionID, cp.ProcessedCount, len(cp.FailedQParams),
			cp.LastProcessedQParam, cp.CreatedAt.Format(time.RFC3339))
	}
	return 0
}

// run builds the pipeline from cfg and drives one search to completion or
// interruption. An interrupt pauses the pipeline, which saves a checkpoint.
func run(cfg *config.Config, query fetch.Query, maxResults int, allPages, includePDFs bool, resume *legal.Checkpoint) int {
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	limiter := ratelimit.New(cfg.RateLimitPerSecond)

	httpOpts := []fetch.Option{
		fetch.WithLimiter(limiter),
		fetch.WithLogger(logger),
	}
	if cfg.HTTPTimeoutSeconds > 0 {
		httpOpts = append(httpOpts, fetch.WithClient(&http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		}))
	}
	if cfg.UserAgent != "" {
		httpOpts = append(httpOpts, fetch.WithUserAgent(cfg.UserAgent))
	}
	if cfg.PDFMaxBytes > 0 {
		httpOpts = append(httpOpts, fetch.WithMaxPDFBytes(cfg.PDFMaxBytes))
	}

	var source fetch.Source
	if cfg.UseBrowser {
		browserOpts := []fetch.BrowserOption{
			fetch.WithBrowserLimiter(limiter),
			fetch.WithBrowserTimeout(time.Duration(cfg.HTTPTimeoutSeconds) * time.Second),
			fetch.WithBrowserLogger(logger),
		}
		if cfg.UserAgent != "" {
			browserOpts = append(browserOpts, fetch.WithBrowserUserAgent(cfg.UserAgent))
		}
		source = fetch.NewBrowser(browserOpts...)
	} else {
		source = fetch.New(httpOpts...)
	}
	pdfFetcher := fetch.New(httpOpts...)

	storeCfg := store.Config{
		Mode:   store.Mode(cfg.StorageMode),
		Dir:    cfg.StorageDir,
		Logger: logger,
	}
	if storeCfg.Mode != store.ModeLocal {
		db, err := dbopen.Open(cfg.RemoteDBPath, dbopen.WithMkdirAll())
		if err != nil {
			slog.Error("open remote db", "error", err)
			return 2
		}
		defer db.Close()
		storeCfg.DB = db
	}
	st, err := store.New(storeCfg)
	if err != nil {
		slog.Error("open store", "error", err)
		return 2
	}

	cps, err := checkpoint.NewStore(cfg.CheckpointDir, logger)
	if err != nil {
		slog.Error("open checkpoints", "error", err)
		return 2
	}

	enc := embedding.New(embedding.Config{
		Endpoint:  cfg.EmbeddingEndpoint,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
		Logger:    logger,
	})

	pcfg := pipeline.Config{
		Source:      source,
		PDFFetcher:  pdfFetcher,
		Store:       st,
		Checkpoints: cps,
		Encoder:     enc,
		ChunkOptions: chunk.Options{
			MaxTokens:        cfg.ChunkMaxTokens,
			OverlapTokens:    cfg.ChunkOverlapTokens,
			MinChunkTokens:   cfg.ChunkMinTokens,
			IgnoreBoundaries: !cfg.RespectBoundaries,
		},
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
		MaxRetries:             cfg.MaxRetries,
		CheckpointInterval:     cfg.CheckpointInterval,
		MaxPages:               cfg.MaxPages,
		IncludePDFs:            includePDFs,
		IncludeReforms:         true,
		Resume:                 resume,
		Logger:                 logger,
	}
	if resume != nil {
		pcfg.SessionID = resume.SessionID
	}
	p, err := pipeline.New(pcfg)
	if err != nil {
		slog.Error("build pipeline", "error", err)
		return 2
	}
	p.Start(ctx)
	defer p.Stop()

	b := bridge.New(p, bridge.Config{Logger: logger})
	b.AddListener(printProgress())

	if cfg.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           bridge.Router(b),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("status API listening", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("status API", "error", err)
			}
		}()
		defer srv.Close()
	}

	if err := b.StartSearch(ctx, query, maxResults, allPages); err != nil {
		slog.Error("start search", "error", err)
		return 1
	}
	slog.Info("session started", "session_id", p.SessionID())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Pause persists a checkpoint before shutdown.
			pauseCtx, pauseCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Pause(pauseCtx); err != nil {
				slog.Error("pause on shutdown", "error", err)
			}
			pauseCancel()
			b.StopSearch(context.Background())
			slog.Info("interrupted; resume with",
				"command", "scjnpipe resume -session-id "+p.SessionID())
			return 1
		case <-ticker.C:
			prog := b.Progress()
			if !prog.Completed {
				continue
			}
			b.StopSearch(context.Background())
			snap, err := p.State(context.Background())
			if err != nil {
				slog.Error("final state", "error", err)
				return 1
			}
			fmt.Printf("done: discovered=%d downloaded=%d errors=%d failed=%d\n",
				snap.DiscoveredCount, snap.DownloadedCount, snap.ErrorCount, len(snap.FailedQParams))
			if len(snap.FailedQParams) > 0 {
				return 1
			}
			return 0
		}
	}
}

// printProgress returns a listener that logs only when downloads advance.
func printProgress() bridge.Listener {
	last := -1
	return func(p bridge.Progress) {
		if p.Downloaded == last {
			return
		}
		last = p.Downloaded
		slog.Info("progress",
			"state", p.State, "discovered", p.Discovered,
			"downloaded", p.Downloaded, "active", p.Active,
			"pending", p.Pending, "errors", p.Errors)
	}
}

func newLogger() *slog.Logger {
	lvl := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
