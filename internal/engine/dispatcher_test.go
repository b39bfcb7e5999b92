package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/ngnshed/internal/backend"
	"github.com/seantiz/ngnshed/internal/engine"
	"github.com/seantiz/ngnshed/internal/model"
	"github.com/seantiz/ngnshed/internal/shed"
	"github.com/seantiz/ngnshed/internal/store"
	"github.com/seantiz/ngnshed/internal/task"
)

// delayBackend is a configurable mock backend for engine tests.
type delayBackend struct {
	delay       time.Duration
	err         error
	concurrency int

	running    atomic.Int32
	maxRunning atomic.Int32
	cleaned    atomic.Int32
}

func (d *delayBackend) Process(ctx context.Context, req backend.Request) (backend.Result, error) {
	n := d.running.Add(1)
	defer d.running.Add(-1)
	for {
		m := d.maxRunning.Load()
		if n <= m || d.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}

	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return backend.Result{}, ctx.Err()
	}
	if d.err != nil {
		return backend.Result{}, d.err
	}
	if req.LogWriter != nil {
		req.LogWriter("processed " + req.ID)
	}
	return backend.Result{Output: append([]byte("out:"), req.Body...)}, nil
}

func (d *delayBackend) Capabilities() backend.Capabilities {
	c := d.concurrency
	if c == 0 {
		c = 10
	}
	return backend.Capabilities{Name: "delay", MaxConcurrency: c}
}

func (d *delayBackend) Cleanup(_ context.Context, _ string) error {
	d.cleaned.Add(1)
	return nil
}

type harness struct {
	disp   *engine.Dispatcher
	store  store.Store
	broker *engine.EventBroker
	shed   *shed.Shed
	cancel context.CancelFunc
}

func newHarness(t *testing.T, b backend.Backend) *harness {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := backend.NewRegistry()
	reg.Register("delay", b)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	broker := engine.NewEventBroker()
	disp := engine.NewDispatcher(reg, s, broker, logger, engine.Options{
		IdleTimeout: 20 * time.Millisecond,
		PollRate:    1000,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sh := shed.New("c1", 4096, logger, shed.WithBaseContext(ctx), shed.WithEventSink(broker))
	return &harness{disp: disp, store: s, broker: broker, shed: sh, cancel: cancel}
}

func (h *harness) push(t *testing.T, id string) *task.Task {
	t.Helper()
	req := &task.Request{ID: "r-" + id, EngineType: "delay", Body: []byte(id)}
	tk := task.New(id, req, false)
	if err := h.shed.Push("delay", tk, req, h.disp.Initializer()); err != nil {
		t.Fatalf("Push %s: %v", id, err)
	}
	tk.Thaw()
	return tk
}

func wait(t *testing.T, tk *task.Task) task.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := tk.Wait(ctx)
	if err != nil {
		t.Fatalf("task %s did not complete: %v", tk.ID(), err)
	}
	return res
}

func listExits(t *testing.T, s store.Store) []*model.EngineExit {
	t.Helper()
	exits, _, err := s.ListEngineExits(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("ListEngineExits: %v", err)
	}
	return exits
}

func TestDispatcherProcessesBaseAndQueuedRequests(t *testing.T) {
	b := &delayBackend{delay: 10 * time.Millisecond}
	h := newHarness(t, b)

	tasks := []*task.Task{h.push(t, "t0")}
	for i := 1; i < 5; i++ {
		tasks = append(tasks, h.push(t, fmt.Sprintf("t%d", i)))
	}

	for _, tk := range tasks {
		res := wait(t, tk)
		if res.Err != nil {
			t.Fatalf("task %s error: %v", tk.ID(), res.Err)
		}
		if want := "out:" + tk.ID(); string(res.Output) != want {
			t.Errorf("task %s output = %q, want %q", tk.ID(), res.Output, want)
		}
		if res.EngineID == "" {
			t.Errorf("task %s has no engine id", tk.ID())
		}
	}

	h.disp.Wait()

	exits := listExits(t, h.store)
	processed := 0
	for _, e := range exits {
		if e.Reason != model.ExitEndOfQueue {
			t.Errorf("exit reason = %q, want %q", e.Reason, model.ExitEndOfQueue)
		}
		if e.ConnID != "c1" || e.EngineType != "delay" {
			t.Errorf("exit conn/type = %q/%q, want c1/delay", e.ConnID, e.EngineType)
		}
		processed += e.Processed
	}
	if processed != len(tasks) {
		t.Errorf("processed = %d, want %d", processed, len(tasks))
	}
	if got := b.cleaned.Load(); int(got) != len(exits) {
		t.Errorf("cleanup calls = %d, want %d", got, len(exits))
	}
	if n := len(h.shed.Engines()); n != 0 {
		t.Errorf("registered engines after exit = %d, want 0", n)
	}
}

func TestDispatcherFirstEngineHandlesQueue(t *testing.T) {
	h := newHarness(t, &delayBackend{delay: 50 * time.Millisecond})

	base := h.push(t, "base")
	queued := h.push(t, "queued")

	if base.Engine() == nil {
		t.Fatal("base task not bound to an engine")
	}
	if queued.Engine() != nil {
		t.Error("queued task should not own an engine")
	}

	r1, r2 := wait(t, base), wait(t, queued)
	if r1.EngineID != "c1-0" || r2.EngineID != "c1-0" {
		t.Errorf("engine ids = %q, %q, want both c1-0", r1.EngineID, r2.EngineID)
	}
}

func TestDispatcherBackendError(t *testing.T) {
	h := newHarness(t, &delayBackend{err: errors.New("boom")})

	res := wait(t, h.push(t, "t0"))
	if res.Err == nil || res.Err.Error() != "boom" {
		t.Errorf("result error = %v, want boom", res.Err)
	}

	h.disp.Wait()
	exits := listExits(t, h.store)
	if len(exits) != 1 || exits[0].Failed != 1 {
		t.Fatalf("exits = %+v, want one exit with one failure", exits)
	}
}

func TestDispatcherRespectsBackendConcurrency(t *testing.T) {
	b := &delayBackend{delay: 20 * time.Millisecond, concurrency: 2}
	h := newHarness(t, b)

	var tasks []*task.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, h.push(t, fmt.Sprintf("t%d", i)))
	}
	for _, tk := range tasks {
		wait(t, tk)
	}

	if got := b.maxRunning.Load(); got > 2 {
		t.Errorf("max concurrent requests = %d, want <= 2", got)
	}
}

func TestDispatcherAbortStopsRunner(t *testing.T) {
	h := newHarness(t, &delayBackend{delay: time.Minute})

	tk := h.push(t, "t0")
	h.shed.Abort()
	h.cancel()

	res := wait(t, tk)
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("result error = %v, want context.Canceled", res.Err)
	}

	h.disp.Wait()
	exits := listExits(t, h.store)
	if len(exits) != 1 || exits[0].Reason != model.ExitAborted {
		t.Fatalf("exits = %+v, want one aborted exit", exits)
	}
}

func TestDispatcherUnknownEngineType(t *testing.T) {
	h := newHarness(t, &delayBackend{})

	req := &task.Request{ID: "r1", EngineType: "grpc"}
	tk := task.New("t1", req, false)
	err := h.shed.Push("grpc", tk, req, h.disp.Initializer())
	if !errors.Is(err, backend.ErrNotRegistered) {
		t.Errorf("Push error = %v, want ErrNotRegistered", err)
	}
	if n := len(h.shed.Engines()); n != 0 {
		t.Errorf("registered engines = %d, want 0", n)
	}
}

func TestDispatcherPublishesEvents(t *testing.T) {
	h := newHarness(t, &delayBackend{delay: 5 * time.Millisecond})
	events, unsub := h.broker.Subscribe("c1")
	defer unsub()

	wait(t, h.push(t, "t0"))
	h.disp.Wait()

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for !seen["processed r-t0"] || !seen["exit engine engine_id=c1-0 engine_type=delay"] {
		select {
		case line := <-events:
			seen[line] = true
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}
