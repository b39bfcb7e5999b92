package backend

import (
	"context"
	"net/http"
)

// Backend processes the requests pulled by the engines of one engine type.
type Backend interface {
	// Process handles a single request and returns its output. The context
	// is cancelled when the engine's connection goes away.
	Process(ctx context.Context, req Request) (Result, error)

	// Capabilities reports the backend's name and how many requests one
	// engine may run at a time.
	Capabilities() Capabilities

	// Cleanup releases any resources held for the given engine after it exited.
	Cleanup(ctx context.Context, engineID string) error
}

// Request is one request handed to a backend.
type Request struct {
	ID       string      `json:"id"`
	TaskID   string      `json:"task_id"`
	EngineID string      `json:"engine_id"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`

	// BufferSize is the connection's request buffer size hint.
	BufferSize int `json:"buffer_size"`

	// LogWriter is an optional callback the backend invokes to emit a line
	// to the connection event stream.
	LogWriter func(line string) `json:"-"`
}

// Result holds the output a backend produced for a request.
type Result struct {
	Output     []byte `json:"output"`
	DurationMS int64  `json:"duration_ms"`
}

// Capabilities describes what a backend supports.
type Capabilities struct {
	Name           string `json:"name"`
	MaxConcurrency int    `json:"max_concurrency"`
}
