// Package bridge translates coarse external commands (start, stop, pause,
// resume, status) into pipeline messages and polls the Coordinator for
// progress, fanning updates out to registered listeners. One search runs at
// a time per bridge.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lexmex/scjnpipe/fetch"
	"github.com/lexmex/scjnpipe/pipeline"
)

var ErrSearchRunning = errors.New("bridge: a search is already running")

// Progress is the externally visible job state. Completed is derived: the
// pipeline going idle after work, or the stall counter tripping.
type Progress struct {
	SessionID  string         `json:"session_id"`
	State      pipeline.State `json:"state"`
	Discovered int            `json:"discovered"`
	Downloaded int            `json:"downloaded"`
	Pending    int            `json:"pending"`
	Active     int            `json:"active"`
	Errors     int            `json:"errors"`
	Completed  bool           `json:"completed"`
	Stalled    bool           `json:"stalled"`
}

// Listener receives progress updates. Listeners run on the poll goroutine;
// a panicking listener is logged and dropped for the tick, never fatal.
type Listener func(Progress)

// Config configures a Bridge.
type Config struct {
	// PollInterval between GetState asks. Default 500ms.
	PollInterval time.Duration
	// StallPolls is the number of polls without a download increase after
	// which the job is reported completed. Default 10.
	StallPolls int
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.StallPolls <= 0 {
		c.StallPolls = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Bridge drives one pipeline.
type Bridge struct {
	p      *pipeline.Pipeline
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	listeners      []Listener
	running        bool
	stopPoll       context.CancelFunc
	pollDone       chan struct{}
	lastDownloaded int
	stallCount     int
	progress       Progress
}

// New creates a Bridge around a started pipeline.
func New(p *pipeline.Pipeline, cfg Config) *Bridge {
	cfg.defaults()
	return &Bridge{p: p, cfg: cfg, logger: cfg.Logger}
}

// AddListener registers a progress listener, called on the poll goroutine.
func (b *Bridge) AddListener(fn Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// AddAsyncListener registers a listener that runs on its own goroutine per
// update, so a slow consumer cannot delay polling.
func (b *Bridge) AddAsyncListener(fn Listener) {
	b.AddListener(func(p Progress) { go b.emit(fn, p) })
}

// StartSearch begins discovery and the poll loop. Only one search may run
// at a time.
func (b *Bridge) StartSearch(ctx context.Context, query fetch.Query, maxResults int, allPages bool) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrSearchRunning
	}
	b.running = true
	b.stallCount = 0
	b.lastDownloaded = 0
	b.progress = Progress{SessionID: b.p.SessionID()}
	pollCtx, cancel := context.WithCancel(context.Background())
	b.stopPoll = cancel
	b.pollDone = make(chan struct{})
	b.mu.Unlock()

	if err := b.p.Discover(ctx, query, maxResults, allPages); err != nil {
		cancel()
		b.mu.Lock()
		b.running = false
		close(b.pollDone)
		b.mu.Unlock()
		return err
	}

	go b.pollLoop(pollCtx)
	return nil
}

// StopSearch pauses the pipeline (saving a checkpoint) and stops polling.
func (b *Bridge) StopSearch(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	cancel := b.stopPoll
	done := b.pollDone
	b.running = false
	b.mu.Unlock()

	err := b.p.Pause(ctx)
	cancel()
	<-done
	return err
}

// PauseSearch pauses the pipeline; polling continues so status stays live.
func (b *Bridge) PauseSearch(ctx context.Context) error { return b.p.Pause(ctx) }

// ResumeSearch resumes a paused pipeline.
func (b *Bridge) ResumeSearch(ctx context.Context) error {
	b.mu.Lock()
	b.stallCount = 0
	b.mu.Unlock()
	return b.p.Resume(ctx)
}

// Status asks the Coordinator for a snapshot.
func (b *Bridge) Status(ctx context.Context) (pipeline.Snapshot, error) {
	return b.p.State(ctx)
}

// Progress returns the last polled progress.
func (b *Bridge) Progress() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer close(b.pollDone)
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

func (b *Bridge) poll(ctx context.Context) {
	askCtx, cancel := context.WithTimeout(ctx, b.cfg.PollInterval)
	snap, err := b.p.State(askCtx)
	cancel()
	if err != nil {
		return
	}

	b.mu.Lock()
	if snap.DownloadedCount > b.lastDownloaded {
		b.lastDownloaded = snap.DownloadedCount
		b.stallCount = 0
	} else if snap.State != pipeline.StatePaused && snap.State != pipeline.StateIdle {
		b.stallCount++
	}
	stalled := b.stallCount >= b.cfg.StallPolls

	prog := Progress{
		SessionID:  snap.SessionID,
		State:      snap.State,
		Discovered: snap.DiscoveredCount,
		Downloaded: snap.DownloadedCount,
		Pending:    snap.PendingCount,
		Active:     snap.ActiveDownloads,
		Errors:     snap.ErrorCount,
		Stalled: stalled,
		// The poll loop only runs during a search, and StartSearch queues
		// Discover ahead of any GetState ask, so an idle snapshot here means
		// the run finished even if every document was deduplicated or failed.
		Completed: stalled || snap.State == pipeline.StateIdle,
	}
	b.progress = prog
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	for _, fn := range listeners {
		b.emit(fn, prog)
	}
}

// emit runs one listener, containing panics.
func (b *Bridge) emit(fn Listener, prog Progress) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("progress listener panicked", "panic", r)
		}
	}()
	fn(prog)
}
