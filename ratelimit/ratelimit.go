// Package ratelimit provides the process-wide token bucket that gates every
// outbound HTTP request of the pipeline.
//
// The bucket holds at most one token (no bursting); tokens refill at the
// configured steady rate. Acquire blocks until a token is available or the
// context is cancelled. This package is the only place the politeness
// concern lives: every fetch path must go through a Limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultRate is the default steady rate in requests per second.
// One request every two seconds keeps the upstream portal comfortable.
const DefaultRate = 0.5

// Limiter gates outbound requests. Two implementations share the contract:
// the real token bucket and a no-op for tests.
type Limiter interface {
	// Acquire blocks until a request token is available.
	Acquire(ctx context.Context) error
	// Reset refills the bucket. Useful between batches and in tests.
	Reset()
}

// TokenBucket is a capacity-1 token bucket limiter.
type TokenBucket struct {
	rate float64 // tokens per second

	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
}

// New creates a TokenBucket with the given rate in requests per second.
// rate <= 0 falls back to DefaultRate.
func New(rate float64) *TokenBucket {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &TokenBucket{
		rate:     rate,
		tokens:   1.0,
		lastFill: time.Now(),
	}
}

// Acquire blocks until a token is available, then consumes it.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	b.mu.Lock()

	now := time.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens = min(1.0, b.tokens+elapsed*b.rate)
	b.lastFill = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		b.mu.Unlock()
		return nil
	}

	wait := time.Duration((1.0 - b.tokens) / b.rate * float64(time.Second))
	b.tokens = 0
	b.lastFill = now.Add(wait)
	b.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset refills the bucket to one token.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	b.tokens = 1.0
	b.lastFill = time.Now()
	b.mu.Unlock()
}

// NoOp is a limiter that never waits. Use in tests.
type NoOp struct{}

// Acquire returns immediately.
func (NoOp) Acquire(ctx context.Context) error { return ctx.Err() }

// Reset does nothing.
func (NoOp) Reset() {}
