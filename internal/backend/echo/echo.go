// Package echo provides a backend that answers every request with its own
// body. It backs the "echo" engine type and the end-to-end tests.
package echo

import (
	"context"
	"fmt"
	"time"

	"github.com/seantiz/ngnshed/internal/backend"
)

// DefaultMaxConcurrency is the number of requests one echo engine runs at once.
const DefaultMaxConcurrency = 8

// Backend echoes request bodies, optionally after a fixed delay.
type Backend struct {
	name           string
	maxConcurrency int
	delay          time.Duration
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithName sets the name the backend reports.
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithMaxConcurrency sets how many requests one engine may run at a time.
func WithMaxConcurrency(n int) Option {
	return func(b *Backend) { b.maxConcurrency = n }
}

// WithDelay makes every request take at least d.
func WithDelay(d time.Duration) Option {
	return func(b *Backend) { b.delay = d }
}

// New creates an echo backend.
func New(opts ...Option) *Backend {
	b := &Backend{name: "echo", maxConcurrency: DefaultMaxConcurrency}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Process returns the request body unchanged.
func (b *Backend) Process(ctx context.Context, req backend.Request) (backend.Result, error) {
	start := time.Now()
	if b.delay > 0 {
		timer := time.NewTimer(b.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return backend.Result{}, fmt.Errorf("echo %s: %w", req.ID, ctx.Err())
		}
	}
	if req.LogWriter != nil {
		req.LogWriter(fmt.Sprintf("echo %s: %d bytes", req.ID, len(req.Body)))
	}

	out := make([]byte, len(req.Body))
	copy(out, req.Body)
	return backend.Result{
		Output:     out,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// Capabilities reports the backend name and its per-engine concurrency.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: b.name, MaxConcurrency: b.maxConcurrency}
}

// Cleanup is a no-op; echo engines hold no resources.
func (b *Backend) Cleanup(_ context.Context, _ string) error { return nil }
