// Package task provides the unit of work the server hands to request
// engines: a Request carrying the payload and connection notes, and the Task
// driving it, whose I/O can be frozen while an engine takes over.
package task

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/seantiz/ngnshed/internal/shed"
)

// ErrOutputClosed is the result error of a task whose output was closed
// before any engine produced a response.
var ErrOutputClosed = errors.New("task output closed")

// Request is one request exchange handed to an engine.
type Request struct {
	ID         string
	EngineType string
	Header     http.Header
	Body       []byte

	task  *Task
	mu    sync.Mutex
	notes map[string]string
}

// Task returns the task driving the request.
func (r *Request) Task() *Task { return r.task }

// SetNote records a connection note on the request.
func (r *Request) SetNote(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notes == nil {
		r.notes = make(map[string]string)
	}
	r.notes[key] = value
}

// Note returns the connection note stored under key.
func (r *Request) Note(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes[key]
}

// Result is what a task produced, or the reason it produced nothing.
type Result struct {
	Output   []byte
	EngineID string
	Err      error
}

// Task drives a single Request. It satisfies shed.Task.
type Task struct {
	id         string
	req        *Request
	serHeaders bool

	frozen atomic.Bool
	engine atomic.Pointer[shed.Engine]

	once   sync.Once
	done   chan struct{}
	result Result
}

var _ shed.Task = (*Task)(nil)

// New creates a task for req. serializedHeaders marks it as unfit for
// out-of-connection processing.
func New(id string, req *Request, serializedHeaders bool) *Task {
	t := &Task{
		id:         id,
		req:        req,
		serHeaders: serializedHeaders,
		done:       make(chan struct{}),
	}
	req.task = t
	return t
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// Request returns the request the task drives.
func (t *Task) Request() *Request { return t.req }

// SerializedHeaders reports whether the task is in serialized-headers mode.
func (t *Task) SerializedHeaders() bool { return t.serHeaders }

// Freeze pauses the task's I/O.
func (t *Task) Freeze(_ shed.Request) { t.frozen.Store(true) }

// Thaw resumes the task's I/O, making it eligible for an engine pull.
func (t *Task) Thaw() { t.frozen.Store(false) }

// Frozen reports whether the task's I/O is paused.
func (t *Task) Frozen() bool { return t.frozen.Load() }

// AssignEngine binds the task to the engine that runs in it.
func (t *Task) AssignEngine(e *shed.Engine) { t.engine.Store(e) }

// Engine returns the engine bound to the task, or nil.
func (t *Task) Engine() *shed.Engine { return t.engine.Load() }

// CloseOutput terminates the task's output. A task that has not completed
// yet completes with ErrOutputClosed.
func (t *Task) CloseOutput() error {
	t.Complete(Result{Err: ErrOutputClosed})
	return nil
}

// Complete records the task result. Only the first call has an effect; it
// reports whether this call completed the task.
func (t *Task) Complete(res Result) bool {
	completed := false
	t.once.Do(func() {
		t.result = res
		close(t.done)
		completed = true
	})
	return completed
}

// Done is closed once the task completed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task completes or ctx ends.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
