package shed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// EventSink receives one line per shed lifecycle event, keyed by connection
// id. It exists for diagnostics only and never influences control flow.
type EventSink interface {
	Publish(topic, line string)
}

// Option configures a Shed.
type Option func(*Shed)

// WithEventSink publishes shed lifecycle lines to sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Shed) { s.events = sink }
}

// WithBaseContext sets the context engine resource scopes derive from.
// Cancelling it cancels every engine's Context.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Shed) { s.baseCtx = ctx }
}

// Shed is the per-connection registry of request engines. It maps an engine
// type name to at most one registered Engine and brokers requests between
// the connection and the engines. It is safe for concurrent use.
type Shed struct {
	mu sync.Mutex

	connID        string
	reqBufferSize int
	logger        *slog.Logger
	events        EventSink
	baseCtx       context.Context

	engines map[string]*Engine
	aborted bool
	nextID  int
	userCtx any
}

// New creates an empty shed for the connection identified by connID.
// reqBufferSize is passed through to engine initializers. A nil logger
// discards log output.
func New(connID string, reqBufferSize int, logger *slog.Logger, opts ...Option) *Shed {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Shed{
		connID:        connID,
		reqBufferSize: reqBufferSize,
		logger:        logger.With("conn_id", connID),
		baseCtx:       context.Background(),
		engines:       make(map[string]*Engine),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnID returns the id of the connection the shed belongs to.
func (s *Shed) ConnID() string { return s.connID }

// RequestBufferSize returns the buffer size hint handed to initializers.
func (s *Shed) RequestBufferSize() int { return s.reqBufferSize }

// SetUserContext stores an opaque value for the shed's owner.
func (s *Shed) SetUserContext(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCtx = v
}

// UserContext returns the value stored with SetUserContext.
func (s *Shed) UserContext() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userCtx
}

// Abort marks the shed as aborted. Engines observe it on their next Pull,
// which puts them into shutdown, and DoneEngine stops draining queues.
func (s *Shed) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.note(slog.LevelDebug, "shed aborted")
}

// Aborted reports whether Abort was called.
func (s *Shed) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Engines returns a snapshot of the registered engines, sorted by type.
func (s *Shed) Engines() []Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]Stats, 0, len(s.engines))
	for _, e := range s.engines {
		stats = append(stats, e.statsLocked())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Type < stats[j].Type
	})
	return stats
}

// Push hands request r of task t to the engine registered for engineType.
//
// A usable engine (not shut down, under capacity) gets the request appended
// to its queue and the task frozen. Otherwise, if initFn is non-nil, a new
// engine is created, initialized with r as its first unit of work, bound to
// t and registered for engineType, replacing any previous registration.
// Without initFn the push fails with ErrShutdown, ErrOverCapacity or
// ErrNoRoute. Tasks in serialized-headers mode fail with ErrNotAcceptable.
func (s *Shed) Push(engineType string, t Task, r Request, initFn InitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := r.(Noter); ok {
		n.SetNote(NoteTaskID, t.ID())
	}
	if t.SerializedHeaders() {
		pushTotal.WithLabelValues(engineType, outcomeNotAcceptable).Inc()
		return ErrNotAcceptable
	}

	var refusal error
	refusalOutcome := outcomeNoRoute
	if ngn, ok := s.engines[engineType]; ok {
		switch {
		case ngn.shutdown.Load():
			s.note(slog.LevelDebug, "engine in shutdown", "engine_id", ngn.id)
			refusal = fmt.Errorf("push to %s: %w", ngn.id, ErrShutdown)
			refusalOutcome = outcomeShutdown
		case ngn.assigned >= ngn.capacity:
			s.note(slog.LevelDebug, "engine over capacity",
				"engine_id", ngn.id, "assigned", ngn.assigned, "capacity", ngn.capacity)
			refusal = fmt.Errorf("push to %s: %w", ngn.id, ErrOverCapacity)
			refusalOutcome = outcomeOverCapacity
		default:
			// The task is processed by the engine from now on; its own I/O
			// stays paused until the connection thaws it.
			t.Freeze(r)
			ngn.queue.push(t, r)
			ngn.assigned++
			queuedEntries.Inc()
			pushTotal.WithLabelValues(engineType, outcomeQueued).Inc()
			s.note(slog.LevelDebug, "pushed request", "task_id", t.ID(), "engine_id", ngn.id)
			return nil
		}
	}

	if initFn == nil {
		pushTotal.WithLabelValues(engineType, refusalOutcome).Inc()
		if refusal != nil {
			return refusal
		}
		return fmt.Errorf("%w %q", ErrNoRoute, engineType)
	}

	ngn := s.newEngine(engineType)
	err := initFn(ngn, s.reqBufferSize, r)
	s.note(slog.LevelDebug, "init engine", "engine_id", ngn.id, "engine_type", ngn.typ, "ok", err == nil)
	if err != nil {
		ngn.cancel()
		pushTotal.WithLabelValues(engineType, outcomeInitFailed).Inc()
		return fmt.Errorf("init engine %s: %w", ngn.id, err)
	}

	ngn.task = t
	t.AssignEngine(ngn)
	if _, replaced := s.engines[engineType]; !replaced {
		enginesRegistered.Inc()
	}
	s.engines[engineType] = ngn
	pushTotal.WithLabelValues(engineType, outcomeCreated).Inc()
	return nil
}

// newEngine allocates an engine whose first unit of work is the request that
// triggered its creation, hence one assigned and live request.
func (s *Shed) newEngine(engineType string) *Engine {
	ctx, cancel := context.WithCancel(s.baseCtx)
	ngn := &Engine{
		id:       fmt.Sprintf("%s-%d", s.connID, s.nextID),
		typ:      engineType,
		connID:   s.connID,
		shed:     s,
		ctx:      ctx,
		cancel:   cancel,
		queue:    newEntryQueue(),
		capacity: DefaultCapacity,
		assigned: 1,
		live:     1,
	}
	s.nextID++
	return ngn
}

// Pull returns the next request for engine e. capacity becomes the engine's
// declared capacity. With an empty queue, wantShutdown puts the engine into
// shutdown.
//
// Pull returns ErrAborted once the shed is aborted, ErrEndOfQueue when the
// queue is empty and the engine is shut down, and ErrRetry when no request is
// eligible yet. Queued requests whose task is still frozen are skipped, so a
// later request may be returned before an earlier frozen one.
func (s *Shed) Pull(e *Engine, capacity int, wantShutdown bool) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		s.note(slog.LevelDebug, "abort while pulling requests", "engine_id", e.id)
		e.shutdown.Store(true)
		pullTotal.WithLabelValues(outcomeAborted).Inc()
		return nil, ErrAborted
	}

	e.capacity = capacity
	if e.queue.len() == 0 {
		if wantShutdown {
			s.note(slog.LevelDebug, "empty queue, shutdown engine", "engine_id", e.id)
			e.shutdown.Store(true)
		}
		if e.shutdown.Load() {
			pullTotal.WithLabelValues(outcomeEndOfQueue).Inc()
			return nil, ErrEndOfQueue
		}
		pullTotal.WithLabelValues(outcomeRetry).Inc()
		return nil, ErrRetry
	}

	ent := e.queue.popNonFrozen()
	if ent == nil {
		pullTotal.WithLabelValues(outcomeRetry).Inc()
		return nil, ErrRetry
	}
	e.live++
	queuedEntries.Dec()
	pullTotal.WithLabelValues(outcomePulled).Inc()
	s.note(slog.LevelDebug, "pulled request", "task_id", ent.task.ID(), "engine_id", e.id)
	return ent.request, nil
}

// Done reports that engine e finished the pulled request of task t.
//
// Done does not check that t was live on e. Calling it twice for the same
// task, or for a task never pulled, skews the counters.
func (s *Shed) Done(e *Engine, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doneTask(e, t, true, false, false)
	return nil
}

func (s *Shed) doneTask(e *Engine, t Task, wasLive, aborted, closeOutput bool) {
	state := "done"
	if aborted {
		state = "aborted"
	}
	s.note(slog.LevelDebug, "task "+state, "task_id", t.ID(), "engine_id", e.id)

	e.finished++
	if wasLive {
		e.live--
	}
	e.assigned--

	if closeOutput {
		if err := t.CloseOutput(); err != nil {
			s.logger.Warn("close task output", "task_id", t.ID(), "engine_id", e.id, "error", err)
		}
	}
}

// DoneEngine reports that engine e exits for good. Requests still queued are
// force-finished with their output closed, unless the shed was aborted. The
// engine is unregistered only if it is still the one registered for its
// type. Inconsistent counters are logged, never fatal.
func (s *Shed) DoneEngine(e *Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.aborted && e.queue.len() > 0 {
		s.note(slog.LevelWarn, "exit engine, has still requests queued",
			"engine_id", e.id, "engine_type", e.typ, "shutdown", e.shutdown.Load(),
			"assigned", e.assigned, "live", e.live, "finished", e.finished)
		for _, ent := range e.queue.drain() {
			queuedEntries.Dec()
			forcedFinishTotal.Inc()
			s.note(slog.LevelWarn, "engine has queued task, aborting",
				"engine_id", e.id, "task_id", ent.task.ID(), "frozen", ent.task.Frozen())
			s.doneTask(e, ent.task, false, true, true)
		}
	} else if n := e.queue.len(); n > 0 {
		// Aborted connection: the entries go away with it.
		queuedEntries.Sub(float64(n))
		e.queue.drain()
	}

	if !s.aborted && (e.assigned > 1 || e.live > 1) {
		s.note(slog.LevelWarn, "exit engine",
			"engine_id", e.id, "engine_type", e.typ,
			"assigned", e.assigned, "live", e.live, "finished", e.finished)
	} else {
		s.note(slog.LevelDebug, "exit engine", "engine_id", e.id, "engine_type", e.typ)
	}

	if existing, ok := s.engines[e.typ]; ok && existing == e {
		delete(s.engines, e.typ)
		enginesRegistered.Dec()
	}
	e.cancel()
}

// note logs msg and mirrors it to the event sink.
func (s *Shed) note(level slog.Level, msg string, args ...any) {
	s.logger.Log(context.Background(), level, msg, args...)
	if s.events != nil {
		s.events.Publish(s.connID, formatEvent(msg, args))
	}
}

func formatEvent(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}
