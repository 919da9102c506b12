package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lexmex/scjnpipe/fetch"
	"github.com/lexmex/scjnpipe/parser"
)

// worker is one mailbox consumer. handle processes a single message; a
// returned error is converted to an Error event for the Coordinator, so
// nothing escapes a mailbox except as a typed message.
type worker interface {
	name() string
	handle(ctx context.Context, msg Message) error
}

// runWorker drains a mailbox until the context is cancelled. Panics inside a
// handler become internal error events instead of taking the process down.
func runWorker(ctx context.Context, w worker, mbox *Mailbox, coord *Mailbox, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mbox.Receive():
			dispatch(ctx, w, msg, coord, logger)
		}
	}
}

func dispatch(ctx context.Context, w worker, msg Message, coord *Mailbox, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic", "actor", w.name(), "panic", r)
			reportError(ctx, coord, &Error{
				Envelope: ChildEnvelope(msg),
				Actor:    w.name(),
				Kind:     ErrorInternal,
				Message:  fmt.Sprint(r),
				QParam:   qParamOf(msg),
			})
		}
	}()

	if err := w.handle(ctx, msg); err != nil {
		reportError(ctx, coord, classify(w.name(), msg, err))
	}
}

func reportError(ctx context.Context, coord *Mailbox, ev *Error) {
	if err := coord.Tell(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		slog.Default().Error("error event dropped", "actor", ev.Actor, "error", ev.Message)
	}
}

// classify builds an Error event from a handler failure. A worker can return
// a ready-made *Error to override the default mapping.
func classify(actor string, msg Message, err error) *Error {
	var ready *Error
	if errors.As(err, &ready) {
		if ready.CorrelationID == "" {
			ready.Envelope = ChildEnvelope(msg)
		}
		if ready.Actor == "" {
			ready.Actor = actor
		}
		if ready.QParam == "" {
			ready.QParam = qParamOf(msg)
		}
		return ready
	}

	ev := &Error{
		Envelope: ChildEnvelope(msg),
		Actor:    actor,
		Message:  err.Error(),
		QParam:   qParamOf(msg),
	}

	var pe *parser.ParseError
	switch {
	case errors.As(err, &pe):
		ev.Kind = ErrorParse
	case fetch.IsTransient(err):
		ev.Kind = ErrorTransient
		ev.Recoverable = true
		ev.Original = msg
	default:
		var se *fetch.StatusError
		if errors.As(err, &se) || errors.Is(err, fetch.ErrTooLarge) || errors.Is(err, fetch.ErrEmptyBody) {
			ev.Kind = ErrorPermanent
		} else {
			ev.Kind = ErrorInternal
		}
	}
	return ev
}

// Error implements the error interface so workers can return events directly.
func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: %s: %s: %s", e.Actor, e.Kind, e.Message)
}

func qParamOf(msg Message) string {
	switch m := msg.(type) {
	case Download:
		return m.QParam
	case DocumentDiscovered:
		return m.QParam
	case *Error:
		return m.QParam
	}
	return ""
}
