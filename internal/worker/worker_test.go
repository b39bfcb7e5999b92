package worker

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/ngnshed/internal/backend/remote"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// handleOverPipe sends req through a pipe and reads back the worker's frames.
func handleOverPipe(t *testing.T, h Handler, req any) ([]string, remote.WorkResponse) {
	t.Helper()
	server, client := net.Pipe()
	defer client.Close()

	s := New(nil, h, discardLogger())

	go func() {
		if err := remote.WriteMessage(client, req); err != nil {
			t.Errorf("write request: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleConnection(server)
	}()

	var logs []string
	var final remote.WorkResponse
	for {
		var msg remote.Message
		if err := remote.ReadMessage(client, &msg); err != nil {
			t.Fatalf("read message: %v", err)
		}
		if msg.Type == remote.MsgTypeLog {
			logs = append(logs, msg.Line)
			continue
		}
		if msg.Response != nil {
			final = *msg.Response
		}
		break
	}
	<-done
	return logs, final
}

func TestEchoHandler(t *testing.T) {
	logs, resp := handleOverPipe(t, Echo, &remote.WorkRequest{ID: "r1", Body: []byte("abc")})

	if resp.Error != "" {
		t.Fatalf("Error = %q", resp.Error)
	}
	if string(resp.Output) != "abc" {
		t.Errorf("Output = %q, want abc", resp.Output)
	}
	if len(logs) != 1 || logs[0] != "worker echo r1: 3 bytes" {
		t.Errorf("logs = %v", logs)
	}
}

func TestCommandHandlerStreamsLines(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	logs, resp := handleOverPipe(t, Command("cat"), &remote.WorkRequest{ID: "r1", Body: []byte("one\ntwo\n")})

	if resp.Error != "" {
		t.Fatalf("Error = %q", resp.Error)
	}
	if string(resp.Output) != "one\ntwo\n" {
		t.Errorf("Output = %q", resp.Output)
	}
	if strings.Join(logs, ",") != "one,two" {
		t.Errorf("logs = %v, want [one two]", logs)
	}
}

func TestCommandHandlerFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	logs, resp := handleOverPipe(t, Command("sh", "-c", "echo oops >&2; exit 3"), &remote.WorkRequest{ID: "r1"})

	if !strings.Contains(resp.Error, "oops") {
		t.Errorf("Error = %q, want it to contain stderr", resp.Error)
	}
	if len(logs) != 1 || logs[0] != "oops" {
		t.Errorf("logs = %v, want [oops]", logs)
	}
}

func TestMalformedRequest(t *testing.T) {
	_, resp := handleOverPipe(t, Echo, "not a request object")
	if !strings.Contains(resp.Error, "read request") {
		t.Errorf("Error = %q, want read request error", resp.Error)
	}
}

func TestServeStopsOnClose(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(l, Echo, discardLogger())

	errc := make(chan error, 1)
	go func() { errc <- s.Serve() }()

	ctx := context.Background()
	c, err := remote.Dial(ctx, remote.NetworkTCP, l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	resp, err := c.Run(remote.WorkRequest{ID: "r1", Body: []byte("x")}, nil)
	c.Close()
	if err != nil || string(resp.Output) != "x" {
		t.Fatalf("Run = %q, %v", resp.Output, err)
	}

	s.Close()
	if err := <-errc; err != nil {
		t.Errorf("Serve returned %v, want nil", err)
	}
}

func TestHandlerCancelledWhenEngineHangsUp(t *testing.T) {
	server, client := net.Pipe()

	started := make(chan struct{})
	cancelled := make(chan error, 1)
	h := func(ctx context.Context, _ *remote.WorkRequest, _ func(string)) ([]byte, error) {
		close(started)
		<-ctx.Done()
		cancelled <- ctx.Err()
		return nil, ctx.Err()
	}
	s := New(nil, h, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleConnection(server)
	}()

	if err := remote.WriteMessage(client, &remote.WorkRequest{ID: "r1"}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	<-started
	client.Close()

	select {
	case err := <-cancelled:
		if err != context.Canceled {
			t.Errorf("handler ctx error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler context not cancelled after the engine hung up")
	}
	<-done
}
