package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/seantiz/ngnshed/internal/backend"
	"github.com/seantiz/ngnshed/internal/shed"
	"github.com/seantiz/ngnshed/internal/store"
	"github.com/seantiz/ngnshed/internal/task"
)

// Defaults for Options fields left at zero.
const (
	DefaultIdleTimeout = 500 * time.Millisecond
	DefaultPollRate    = 50
	DefaultPollBurst   = 1
)

// Options tunes the runners a Dispatcher starts.
type Options struct {
	// Capacity is the number of requests an engine accepts at once, queued
	// or running. Zero means shed.DefaultCapacity.
	Capacity int
	// IdleTimeout is how long a runner with nothing to do waits before it
	// asks the shed to shut its engine down.
	IdleTimeout time.Duration
	// PollRate and PollBurst pace the pulls of a runner whose queue holds
	// nothing eligible.
	PollRate  rate.Limit
	PollBurst int
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = shed.DefaultCapacity
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.PollRate <= 0 {
		o.PollRate = DefaultPollRate
	}
	if o.PollBurst <= 0 {
		o.PollBurst = DefaultPollBurst
	}
	return o
}

// Dispatcher starts and tracks engine runners. Its Initializer is the
// shed.InitFunc handed to Shed.Push.
type Dispatcher struct {
	registry *backend.Registry
	store    store.Store
	broker   *EventBroker
	logger   *slog.Logger
	opts     Options
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher resolving engine types against reg and
// recording engine exits in s. broker may be nil.
func NewDispatcher(reg *backend.Registry, s store.Store, broker *EventBroker, logger *slog.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		registry: reg,
		store:    s,
		broker:   broker,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// Registry returns the backend registry engine types are resolved against.
func (d *Dispatcher) Registry() *backend.Registry {
	return d.registry
}

// Initializer returns the function that starts a runner for a newly created
// engine. It runs under the shed's lock, so it only resolves the backend and
// launches the runner goroutine.
func (d *Dispatcher) Initializer() shed.InitFunc {
	return func(e *shed.Engine, reqBufferSize int, r shed.Request) error {
		req, ok := r.(*task.Request)
		if !ok || req.Task() == nil {
			return fmt.Errorf("unsupported request %T", r)
		}
		b, err := d.registry.Resolve(e.Type())
		if err != nil {
			return err
		}

		run := newRunner(d, e, b, req, reqBufferSize)
		enginesRunning.Inc()
		d.wg.Go(func() {
			defer enginesRunning.Dec()
			run.run()
		})
		return nil
	}
}

// Wait blocks until all runners have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
