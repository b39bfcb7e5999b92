package shed

import (
	"context"
	"sync/atomic"
)

// DefaultCapacity is the capacity a newly created engine starts with, before
// it declares its own on the first Pull.
const DefaultCapacity = 100

// Request is an opaque handle to the originating request exchange. The shed
// never inspects it; it only hands it back to the engine on Pull.
type Request any

// Task is the unit of work behind a request, as seen by the shed.
type Task interface {
	// ID identifies the task in logs.
	ID() string

	// SerializedHeaders reports whether the task runs in the compatibility
	// mode that forbids handing it to an out-of-band engine.
	SerializedHeaders() bool

	// Freeze pauses the task's own I/O for the given request. The request is
	// driven by the engine's pull loop from then on.
	Freeze(r Request)

	// Frozen reports whether the task is still frozen by the connection.
	// Frozen tasks are skipped by Pull.
	Frozen() bool

	// CloseOutput forcibly terminates the task's output stream.
	CloseOutput() error

	// AssignEngine binds the task to the engine it runs.
	AssignEngine(e *Engine)
}

// Noter is implemented by requests that can carry connection notes. The shed
// records the id of the pushed task on such requests.
type Noter interface {
	SetNote(key, value string)
}

// NoteTaskID is the note key under which the pushed task id is recorded.
const NoteTaskID = "h2-task-id"

// InitFunc sets up a newly created engine of a type. It receives the engine
// (identity, type and resource scope via Context), the shed's request buffer
// size hint and the request that triggered the creation, which becomes the
// engine's first unit of work. A non-nil error discards the engine and fails
// the push.
//
// InitFunc runs while the shed is locked and must not call back into the
// shed synchronously. Starting a goroutine that pulls is the expected use.
type InitFunc func(e *Engine, reqBufferSize int, r Request) error

// Engine is a named worker context that pulls queued requests from its shed.
// Counters and queue are guarded by the shed mutex.
type Engine struct {
	id     string
	typ    string
	connID string
	shed   *Shed
	task   Task

	ctx    context.Context
	cancel context.CancelFunc

	shutdown atomic.Bool
	queue    *entryQueue

	capacity int
	assigned int
	live     int
	finished int
}

// Stats is a point-in-time copy of an engine's counters.
type Stats struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Capacity int    `json:"capacity"`
	Assigned int    `json:"assigned"`
	Live     int    `json:"live"`
	Finished int    `json:"finished"`
	Queued   int    `json:"queued"`
	Shutdown bool   `json:"shutdown"`
}

// ID returns the engine identity, unique within its shed.
func (e *Engine) ID() string { return e.id }

// Type returns the engine-type name the engine is registered under.
func (e *Engine) Type() string { return e.typ }

// ConnID returns the id of the connection owning the engine.
func (e *Engine) ConnID() string { return e.connID }

// Shed returns the shed the engine belongs to.
func (e *Engine) Shed() *Shed { return e.shed }

// IsShutdown reports whether the engine accepts no more work.
func (e *Engine) IsShutdown() bool { return e.shutdown.Load() }

// Context is the engine's resource scope. It is cancelled once the engine
// has exited through DoneEngine.
func (e *Engine) Context() context.Context { return e.ctx }

// Task returns the task the engine runs in, nil until initialization
// succeeded.
func (e *Engine) Task() Task {
	e.shed.mu.Lock()
	defer e.shed.mu.Unlock()
	return e.task
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.shed.mu.Lock()
	defer e.shed.mu.Unlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() Stats {
	return Stats{
		ID:       e.id,
		Type:     e.typ,
		Capacity: e.capacity,
		Assigned: e.assigned,
		Live:     e.live,
		Finished: e.finished,
		Queued:   e.queue.len(),
		Shutdown: e.shutdown.Load(),
	}
}
