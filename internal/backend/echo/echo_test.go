package echo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/ngnshed/internal/backend"
	"github.com/seantiz/ngnshed/internal/backend/echo"
)

func TestProcessEchoesBody(t *testing.T) {
	b := echo.New()

	var lines []string
	res, err := b.Process(context.Background(), backend.Request{
		ID:        "r1",
		Body:      []byte("hello"),
		LogWriter: func(line string) { lines = append(lines, line) },
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if string(res.Output) != "hello" {
		t.Errorf("output = %q, want %q", res.Output, "hello")
	}
	if len(lines) != 1 || lines[0] != "echo r1: 5 bytes" {
		t.Errorf("log lines = %v, want [echo r1: 5 bytes]", lines)
	}
}

func TestProcessDelayHonorsContext(t *testing.T) {
	b := echo.New(echo.WithDelay(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Process(ctx, backend.Request{ID: "r1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Process error = %v, want DeadlineExceeded", err)
	}
}

func TestCapabilities(t *testing.T) {
	caps := echo.New().Capabilities()
	if caps.Name != "echo" || caps.MaxConcurrency != echo.DefaultMaxConcurrency {
		t.Errorf("capabilities = %+v", caps)
	}

	caps = echo.New(echo.WithName("slow"), echo.WithMaxConcurrency(2)).Capabilities()
	if caps.Name != "slow" || caps.MaxConcurrency != 2 {
		t.Errorf("capabilities = %+v, want slow/2", caps)
	}
}

func TestCleanup(t *testing.T) {
	if err := echo.New().Cleanup(context.Background(), "c1-0"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
}

func TestProcessReportsDuration(t *testing.T) {
	b := echo.New(echo.WithDelay(20 * time.Millisecond))

	res, err := b.Process(context.Background(), backend.Request{ID: "r1", Body: []byte("x")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.DurationMS < 20 {
		t.Errorf("DurationMS = %d, want at least 20", res.DurationMS)
	}
}
