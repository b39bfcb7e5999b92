// Package worker implements the process on the far side of a remote
// backend. It accepts framed requests on a listener, runs them through a
// Handler, and streams log lines and the result back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/seantiz/ngnshed/internal/backend/remote"
)

// Handler processes one request. logf sends a log line to the engine.
type Handler func(ctx context.Context, req *remote.WorkRequest, logf func(string)) ([]byte, error)

// Server handles worker connections, one request per connection.
type Server struct {
	listener net.Listener
	handler  Handler
	timeout  time.Duration
	logger   *slog.Logger

	conns sync.WaitGroup
}

// DefaultTimeout bounds a single request when the engine sets no deadline.
const DefaultTimeout = 30 * time.Second

// New creates a worker server on l.
func New(l net.Listener, h Handler, logger *slog.Logger) *Server {
	return &Server{listener: l, handler: h, timeout: DefaultTimeout, logger: logger}
}

// Serve accepts connections and handles requests. It blocks until the
// listener is closed, then waits for in-flight requests.
func (s *Server) Serve() error {
	defer s.conns.Wait()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.conns.Go(func() { s.handleConnection(conn) })
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	var req remote.WorkRequest
	if err := remote.ReadMessage(conn, &req); err != nil {
		s.logger.Warn("read request", "error", err)
		s.sendResult(conn, remote.WorkResponse{Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	// The engine sends nothing after the request frame; a read returning
	// means it hung up, or the connection was closed below.
	go func() {
		var b [1]byte
		conn.Read(b[:])
		cancel()
	}()

	// Log frames may be written from handler goroutines.
	var writeMu sync.Mutex
	logf := func(line string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := remote.WriteMessage(conn, &remote.Message{Type: remote.MsgTypeLog, Line: line}); err != nil {
			s.logger.Debug("write log line", "error", err)
		}
	}

	start := time.Now()
	out, err := s.handler(ctx, &req, logf)
	resp := remote.WorkResponse{Output: out, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		resp.Error = err.Error()
	}
	s.logger.Info("request handled",
		"request_id", req.ID, "engine_id", req.EngineID, "duration_ms", resp.DurationMS, "error", resp.Error)

	writeMu.Lock()
	defer writeMu.Unlock()
	s.sendResult(conn, resp)
}

func (s *Server) sendResult(conn net.Conn, resp remote.WorkResponse) {
	if err := remote.WriteMessage(conn, &remote.Message{Type: remote.MsgTypeResult, Response: &resp}); err != nil {
		s.logger.Warn("write result", "error", err)
	}
}
