// Package remote provides a backend that forwards each engine request to
// an external worker process over a stream socket (TCP, Unix or vsock),
// using length-prefixed JSON frames. Workers stream log lines back while a
// request runs, followed by one result frame.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/ngnshed/internal/backend"
)

// DefaultMaxConcurrency is the number of requests one engine forwards at once.
const DefaultMaxConcurrency = 4

// ErrWorker wraps errors reported by the worker itself.
var ErrWorker = errors.New("worker error")

// Backend forwards requests to a worker.
type Backend struct {
	name           string
	network        string
	address        string
	maxConcurrency int
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithName sets the name the backend reports.
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithMaxConcurrency sets how many requests one engine may forward at a time.
func WithMaxConcurrency(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.maxConcurrency = n
		}
	}
}

// New creates a backend for the worker at address on network.
func New(network, address string, opts ...Option) *Backend {
	b := &Backend{
		name:           "remote",
		network:        network,
		address:        address,
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Process sends req to the worker on a fresh connection and waits for its
// result. Cancelling ctx closes the connection.
func (b *Backend) Process(ctx context.Context, req backend.Request) (backend.Result, error) {
	start := time.Now()

	conn, err := Dial(ctx, b.network, b.address)
	if err != nil {
		return backend.Result{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	resp, err := conn.Run(WorkRequest{
		ID:         req.ID,
		TaskID:     req.TaskID,
		EngineID:   req.EngineID,
		Header:     req.Header,
		Body:       req.Body,
		BufferSize: req.BufferSize,
	}, req.LogWriter)
	roundTripDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return backend.Result{}, ctx.Err()
		}
		return backend.Result{}, err
	}

	res := backend.Result{Output: resp.Output, DurationMS: resp.DurationMS}
	if resp.Error != "" {
		return res, fmt.Errorf("%w: %s", ErrWorker, resp.Error)
	}
	return res, nil
}

// Capabilities reports the backend's name and per-engine concurrency.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: b.name, MaxConcurrency: b.maxConcurrency}
}

// Cleanup is a no-op; connections are per request.
func (b *Backend) Cleanup(_ context.Context, _ string) error { return nil }
