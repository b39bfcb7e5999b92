package shed

import (
	"errors"
	"fmt"
)

// Push outcomes.
var (
	// ErrNotAcceptable is returned when a task cannot be handed to an engine at
	// all (serialized-headers mode). The caller must process it in-connection.
	ErrNotAcceptable = errors.New("task not acceptable for engine processing")

	// ErrUnavailable is the general class of transient push failures. Callers
	// should treat it as back-pressure and fall back or retry later.
	ErrUnavailable = errors.New("engine unavailable")

	// ErrShutdown indicates the engine for the type is shutting down. It wraps
	// ErrUnavailable.
	ErrShutdown = fmt.Errorf("%w: engine in shutdown", ErrUnavailable)

	// ErrOverCapacity indicates the engine for the type has no room for
	// another assigned request. It wraps ErrUnavailable.
	ErrOverCapacity = fmt.Errorf("%w: engine over capacity", ErrUnavailable)

	// ErrNoRoute is returned when no engine exists for the type and no
	// initializer was supplied.
	ErrNoRoute = errors.New("no engine for type")
)

// Pull outcomes.
var (
	// ErrRetry means there is no eligible work right now. It is not a failure.
	ErrRetry = errors.New("no eligible request, try again")

	// ErrEndOfQueue means the queue is empty and the engine is shut down. It is
	// terminal for the engine's pull loop.
	ErrEndOfQueue = errors.New("engine queue drained")

	// ErrAborted means the shed was aborted. It is terminal and takes priority
	// over every other pull outcome.
	ErrAborted = errors.New("shed aborted")
)

// IsTransient reports whether a push failure is back-pressure rather than a
// permanent refusal.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
