// testserver starts an ngnshed API server with stub backends for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/seantiz/ngnshed/internal/api"
	"github.com/seantiz/ngnshed/internal/backend"
	"github.com/seantiz/ngnshed/internal/backend/echo"
	"github.com/seantiz/ngnshed/internal/backend/remote"
	"github.com/seantiz/ngnshed/internal/engine"
	"github.com/seantiz/ngnshed/internal/store"
	"github.com/seantiz/ngnshed/internal/worker"
)

// stubBackend answers with a fixed output after a delay, emitting log lines.
type stubBackend struct {
	name        string
	concurrency int
	delay       time.Duration
	output      []byte
	logLines    []string
}

func (s *stubBackend) Process(ctx context.Context, req backend.Request) (backend.Result, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return backend.Result{}, ctx.Err()
	}

	if req.LogWriter != nil {
		for _, line := range s.logLines {
			req.LogWriter(line + " " + req.ID)
		}
	}

	return backend.Result{
		Output:     s.output,
		DurationMS: s.delay.Milliseconds(),
	}, nil
}

func (s *stubBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: s.name, MaxConcurrency: s.concurrency}
}

func (s *stubBackend) Cleanup(_ context.Context, _ string) error { return nil }

func main() {
	addr := ":8080"
	if v := os.Getenv("NGNSHED_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := backend.NewRegistry()
	reg.Register("echo", echo.New())
	reg.Register("slow", &stubBackend{
		name:        "stub-slow",
		concurrency: 2,
		delay:       200 * time.Millisecond,
		output:      []byte("hello from slow"),
		logLines:    []string{"[slow] accepted", "[slow] done"},
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// An in-process worker backs the "remote" engine type.
	wl, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("worker listen: %v", err)
	}
	ws := worker.New(wl, worker.Echo, logger.With("component", "worker"))
	go ws.Serve()
	defer ws.Close()
	reg.Register("remote", remote.New(remote.NetworkTCP, wl.Addr().String(), remote.WithName("stub-remote")))

	broker := engine.NewEventBroker()
	disp := engine.NewDispatcher(reg, db, broker, logger, engine.Options{
		IdleTimeout: 100 * time.Millisecond,
	})
	srv := api.NewServer(addr, db, disp, broker, 64*1024, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	disp.Wait()
}
