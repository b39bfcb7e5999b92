package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/seantiz/ngnshed/internal/backend"
	"github.com/seantiz/ngnshed/internal/model"
	"github.com/seantiz/ngnshed/internal/shed"
	"github.com/seantiz/ngnshed/internal/task"
)

// runner drives one engine: it processes the engine's base request, then
// pulls queued requests from the shed until it is told to stop.
type runner struct {
	d       *Dispatcher
	ngn     *shed.Engine
	backend backend.Backend
	base    *task.Request
	bufSize int
	logger  *slog.Logger

	capacity int
	slots    chan struct{}
	limiter  *rate.Limiter
	inflight sync.WaitGroup

	lastActive atomic.Int64
	processed  atomic.Int32
	failed     atomic.Int32
	started    time.Time
}

func newRunner(d *Dispatcher, e *shed.Engine, b backend.Backend, base *task.Request, bufSize int) *runner {
	concurrency := b.Capabilities().MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	r := &runner{
		d:        d,
		ngn:      e,
		backend:  b,
		base:     base,
		bufSize:  bufSize,
		logger:   d.logger.With("engine_id", e.ID(), "engine_type", e.Type()),
		capacity: d.opts.Capacity,
		slots:    make(chan struct{}, concurrency),
		limiter:  rate.NewLimiter(d.opts.PollRate, d.opts.PollBurst),
		started:  time.Now(),
	}
	r.touch()
	return r
}

func (r *runner) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

func (r *runner) idle() bool {
	// Only the slot held by the pulling loop itself is taken.
	if len(r.slots) > 1 {
		return false
	}
	return time.Since(time.Unix(0, r.lastActive.Load())) >= r.d.opts.IdleTimeout
}

func (r *runner) run() {
	ctx := r.ngn.Context()
	s := r.ngn.Shed()
	r.logger.Debug("engine runner started", "capacity", r.capacity, "concurrency", cap(r.slots))

	r.slots <- struct{}{}
	r.launch(ctx, r.base)

	reason := r.pullLoop(ctx, s)

	r.inflight.Wait()
	s.DoneEngine(r.ngn)
	if s.Aborted() {
		reason = model.ExitAborted
	}
	r.finish(reason)
}

// pullLoop pulls requests until the shed reports end of queue or abort, or
// the engine context ends. It returns the exit reason.
func (r *runner) pullLoop(ctx context.Context, s *shed.Shed) string {
	for {
		select {
		case r.slots <- struct{}{}:
		case <-ctx.Done():
			return model.ExitCancelled
		}

		req, err := s.Pull(r.ngn, r.capacity, r.idle())
		switch {
		case err == nil:
			tr, ok := req.(*task.Request)
			if !ok || tr.Task() == nil {
				<-r.slots
				r.logger.Error("pulled unsupported request", "type", fmt.Sprintf("%T", req))
				continue
			}
			r.touch()
			r.launch(ctx, tr)
		case errors.Is(err, shed.ErrRetry):
			<-r.slots
			if err := r.limiter.Wait(ctx); err != nil {
				return model.ExitCancelled
			}
		case errors.Is(err, shed.ErrEndOfQueue):
			<-r.slots
			return model.ExitEndOfQueue
		case errors.Is(err, shed.ErrAborted):
			<-r.slots
			return model.ExitAborted
		default:
			<-r.slots
			r.logger.Error("pull request", "error", err)
			return model.ExitCancelled
		}
	}
}

// launch runs req in its own goroutine. The caller must hold a slot, which
// is released once the request is done.
func (r *runner) launch(ctx context.Context, req *task.Request) {
	r.inflight.Go(func() {
		defer func() { <-r.slots }()
		r.execute(ctx, req)
	})
}

func (r *runner) execute(ctx context.Context, req *task.Request) {
	t := req.Task()
	connID := r.ngn.ConnID()
	start := time.Now()

	res, err := r.backend.Process(ctx, backend.Request{
		ID:         req.ID,
		TaskID:     t.ID(),
		EngineID:   r.ngn.ID(),
		Header:     req.Header,
		Body:       req.Body,
		BufferSize: r.bufSize,
		LogWriter: func(line string) {
			if r.d.broker != nil {
				r.d.broker.Publish(connID, line)
			}
		},
	})

	status := "ok"
	result := task.Result{EngineID: r.ngn.ID()}
	if err != nil {
		status = "error"
		result.Err = err
		r.failed.Add(1)
		r.logger.Warn("request failed", "task_id", t.ID(), "error", err)
	} else {
		result.Output = res.Output
	}
	requestDuration.WithLabelValues(r.ngn.Type(), status).Observe(time.Since(start).Seconds())
	r.processed.Add(1)

	if err := r.ngn.Shed().Done(r.ngn, t); err != nil {
		r.logger.Error("report task done", "task_id", t.ID(), "error", err)
	}
	t.Complete(result)
	r.touch()
}

// finish releases backend resources and records the engine exit.
func (r *runner) finish(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.backend.Cleanup(ctx, r.ngn.ID()); err != nil {
		r.logger.Error("backend cleanup", "error", err)
	}

	exited := time.Now().UTC()
	exit := &model.EngineExit{
		ID:         model.NewID(),
		EngineID:   r.ngn.ID(),
		ConnID:     r.ngn.ConnID(),
		EngineType: r.ngn.Type(),
		Reason:     reason,
		Processed:  int(r.processed.Load()),
		Failed:     int(r.failed.Load()),
		DurationMS: int(exited.Sub(r.started).Milliseconds()),
		StartedAt:  r.started.UTC(),
		ExitedAt:   exited,
	}
	if r.d.store != nil {
		if err := r.d.store.RecordEngineExit(ctx, exit); err != nil {
			r.logger.Error("record engine exit", "error", err)
		}
	}
	engineRuns.WithLabelValues(r.ngn.Type(), reason).Inc()
	r.logger.Info("engine runner exited",
		"reason", reason, "processed", exit.Processed, "failed", exit.Failed, "duration_ms", exit.DurationMS)
}
