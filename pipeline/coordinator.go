package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexmex/scjnpipe/legal"
)

// State is the Coordinator's run state.
type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateDownloading State = "downloading"
	StateProcessing  State = "processing"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// Snapshot is a point-in-time view of pipeline progress.
type Snapshot struct {
	State           State    `json:"state"`
	SessionID       string   `json:"session_id"`
	DiscoveredCount int      `json:"discovered_count"`
	DownloadedCount int      `json:"downloaded_count"`
	PendingCount    int      `json:"pending_count"`
	ActiveDownloads int      `json:"active_downloads"`
	ProcessedCount  int      `json:"processed_count"`
	ErrorCount      int      `json:"error_count"`
	LastQParam      string   `json:"last_processed_q_param"`
	FailedQParams   []string `json:"failed_q_params"`
}

type pendingItem struct {
	qParam      string
	correlation string
}

// retryReady is the internal message a retry timer posts when the backoff
// for a failed download has elapsed.
type retryReady struct {
	Envelope
	cmd Download
}

// coordinator owns all pipeline counters. Every mutation happens on its
// single mailbox; no other component touches this state.
type coordinator struct {
	mbox         *Mailbox
	discovery    *Mailbox
	scraper      *Mailbox
	checkpointer *Mailbox
	exists       func(ctx context.Context, qParam string) bool
	logger       *slog.Logger

	sessionID          string
	maxConcurrent      int
	maxRetries         int
	retryBackoff       time.Duration
	checkpointInterval int
	includePDF         bool
	includeReforms     bool

	state         State
	stateBefore   State // state to restore on Resume
	discovered    map[string]struct{}
	downloaded    map[string]struct{}
	pending       []pendingItem
	retries       map[string]int
	failed        []string
	active        int
	processed     int
	errorCount    int
	lastQParam    string
	discoveryDone bool
}

func (c *coordinator) name() string { return "coordinator" }

func (c *coordinator) handle(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case Discover:
		c.state = StateDiscovering
		c.discoveryDone = false
		return c.discovery.Tell(ctx, m)

	case DocumentDiscovered:
		c.onDiscovered(ctx, m)

	case PageDiscovered:
		c.discoveryDone = true
		c.logger.Info("discovery complete",
			"found", m.DocumentsFound, "total_pages", m.TotalPages)
		c.pump(ctx)
		c.checkCompletion()

	case retryReady:
		c.pending = append(c.pending, pendingItem{qParam: m.cmd.QParam, correlation: m.cmd.CorrelationID})
		c.pump(ctx)

	case DocumentDownloaded:
		c.onDownloaded(ctx, m)

	case DocumentSaved:
		c.logger.Debug("document saved", "document_id", m.DocumentID)

	case PDFProcessed:
		c.logger.Info("pdf processed", "document_id", m.DocumentID,
			"chunks", m.ChunkCount, "tokens", m.TotalTokens, "confidence", m.Confidence)

	case EmbeddingsGenerated:
		c.logger.Debug("embeddings generated", "document_id", m.DocumentID, "count", m.Count)

	case CheckpointSaved:
		c.logger.Info("checkpoint saved", "session_id", m.SessionID, "processed", m.ProcessedCount)

	case *Error:
		c.onError(ctx, m)

	case Pause:
		if c.state != StatePaused {
			c.stateBefore = c.state
			c.state = StatePaused
			c.saveCheckpoint(ctx)
		}

	case Resume:
		if c.state == StatePaused {
			c.state = c.stateBefore
			if c.state == "" {
				c.state = StateIdle
			}
			c.pump(ctx)
			c.checkCompletion()
		}

	case SaveCheckpoint:
		return c.checkpointer.Tell(ctx, m)

	case GetState:
		m.Reply <- c.snapshot()

	default:
		c.logger.Warn("unexpected message", "actor", c.name(), "type", fmt.Sprintf("%T", msg))
	}
	return nil
}

// onDiscovered deduplicates before dispatch: a q_param already seen this run
// or already persisted is dropped without ever reaching the Scraper.
func (c *coordinator) onDiscovered(ctx context.Context, ev DocumentDiscovered) {
	if _, dup := c.discovered[ev.QParam]; dup {
		return
	}
	c.discovered[ev.QParam] = struct{}{}
	if c.exists(ctx, ev.QParam) {
		c.logger.Debug("already persisted, skipping", "q_param", ev.QParam)
		return
	}
	c.pending = append(c.pending, pendingItem{qParam: ev.QParam, correlation: ev.CorrelationID})
	c.pump(ctx)
}

func (c *coordinator) onDownloaded(ctx context.Context, ev DocumentDownloaded) {
	c.downloaded[ev.QParam] = struct{}{}
	c.active--
	c.processed++
	c.lastQParam = ev.QParam
	if c.state != StatePaused {
		c.state = StateProcessing
	}

	if c.checkpointInterval > 0 && c.processed%c.checkpointInterval == 0 {
		c.saveCheckpoint(ctx)
	}
	c.pump(ctx)
	c.checkCompletion()
}

// onError classifies a failure: recoverable errors from a download go to the
// retry queue until the per-q_param ceiling, everything else is surfaced.
func (c *coordinator) onError(ctx context.Context, ev *Error) {
	c.errorCount++
	c.logger.Warn("pipeline error", "actor", ev.Actor, "kind", ev.Kind,
		"recoverable", ev.Recoverable, "q_param", ev.QParam, "error", ev.Message)

	download, isDownload := ev.Original.(Download)
	if ev.Actor == "scraper" && ev.QParam != "" {
		c.active--

		switch {
		case ev.Recoverable && isDownload:
			c.retries[ev.QParam]++
			if c.retries[ev.QParam] <= c.maxRetries {
				c.scheduleRetry(ctx, download)
			} else {
				c.logger.Warn("retries exhausted", "q_param", ev.QParam)
				c.failed = append(c.failed, ev.QParam)
			}
		default:
			c.failed = append(c.failed, ev.QParam)
		}
	}

	c.pump(ctx)
	c.checkCompletion()
}

// scheduleRetry posts the command back after the backoff. The timer runs off
// the Coordinator loop; the retry re-enters through the mailbox.
func (c *coordinator) scheduleRetry(ctx context.Context, cmd Download) {
	attempt := c.retries[cmd.QParam]
	delay := c.retryBackoff * time.Duration(attempt)
	c.logger.Info("scheduling retry", "q_param", cmd.QParam, "attempt", attempt, "delay", delay)

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			c.mbox.Tell(ctx, retryReady{Envelope: ChildEnvelope(cmd), cmd: cmd})
		}
	}()
}

// pump dispatches pending downloads while capacity allows. The Scraper
// mailbox capacity is at least maxConcurrent, so these tells never block.
func (c *coordinator) pump(ctx context.Context) {
	for len(c.pending) > 0 && c.active < c.maxConcurrent && c.state != StatePaused {
		item := c.pending[0]
		c.pending = c.pending[1:]
		c.active++
		c.state = StateDownloading

		cmd := Download{
			Envelope:       Envelope{CorrelationID: item.correlation, Timestamp: time.Now().UTC()},
			QParam:         item.qParam,
			IncludePDF:     c.includePDF,
			IncludeReforms: c.includeReforms,
		}
		if err := c.scraper.Tell(ctx, cmd); err != nil {
			c.active--
			return
		}
	}
}

func (c *coordinator) checkCompletion() {
	if c.state == StatePaused {
		return
	}
	if c.discoveryDone && len(c.pending) == 0 && c.active == 0 && len(c.discovered) > 0 {
		c.state = StateIdle
	}
}

func (c *coordinator) saveCheckpoint(ctx context.Context) {
	cp := legal.Checkpoint{
		SessionID:           c.sessionID,
		LastProcessedQParam: c.lastQParam,
		ProcessedCount:      c.processed,
		FailedQParams:       append([]string(nil), c.failed...),
	}
	if err := c.checkpointer.Tell(ctx, SaveCheckpoint{Envelope: NewEnvelope(), Checkpoint: cp}); err != nil {
		c.logger.Warn("checkpoint dispatch failed", "error", err)
	}
}

func (c *coordinator) snapshot() Snapshot {
	return Snapshot{
		State:           c.state,
		SessionID:       c.sessionID,
		DiscoveredCount: len(c.discovered),
		DownloadedCount: len(c.downloaded),
		PendingCount:    len(c.pending),
		ActiveDownloads: c.active,
		ProcessedCount:  c.processed,
		ErrorCount:      c.errorCount,
		LastQParam:      c.lastQParam,
		FailedQParams:   append([]string(nil), c.failed...),
	}
}
