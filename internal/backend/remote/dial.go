package remote

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
)

// Networks a worker can be reached on.
const (
	NetworkTCP   = "tcp"
	NetworkUnix  = "unix"
	NetworkVsock = "vsock"
)

// Retry defaults for worker connection establishment.
const (
	dialMaxRetries  = 5
	dialBaseBackoff = 100 * time.Millisecond
)

// Conn is a connection to a worker. Each Conn carries one request and is
// used by a single goroutine.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the worker at address on network, retrying with
// exponential backoff. For NetworkVsock the address is "<cid>:<port>".
func Dial(ctx context.Context, network, address string) (*Conn, error) {
	var lastErr error
	backoff := dialBaseBackoff

	for attempt := range dialMaxRetries {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial worker: %w", ctx.Err())
		default:
		}

		conn, err := dialOnce(ctx, network, address)
		if err != nil {
			lastErr = err
			dialsTotal.WithLabelValues(network, dialRetry).Inc()
			if attempt < dialMaxRetries-1 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, fmt.Errorf("dial worker: %w", ctx.Err())
				}
				backoff *= 2
			}
			continue
		}

		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set deadline: %w", err)
			}
		}

		dialsTotal.WithLabelValues(network, dialOK).Inc()
		return &Conn{conn: conn, reader: bufio.NewReader(conn)}, nil
	}

	dialsTotal.WithLabelValues(network, dialFailed).Inc()
	return nil, fmt.Errorf("dial worker after %d attempts: %w", dialMaxRetries, lastErr)
}

func dialOnce(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case NetworkVsock:
		cid, port, err := ParseVsockAddr(address)
		if err != nil {
			return nil, err
		}
		return vsock.Dial(cid, port, nil)
	case NetworkTCP, NetworkUnix:
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	default:
		return nil, fmt.Errorf("unsupported worker network %q", network)
	}
}

// ParseVsockAddr parses a "<cid>:<port>" vsock address.
func ParseVsockAddr(address string) (cid, port uint32, err error) {
	c, p, ok := strings.Cut(address, ":")
	if !ok {
		return 0, 0, fmt.Errorf("vsock address %q: want <cid>:<port>", address)
	}
	cid64, err := strconv.ParseUint(c, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("vsock address %q: bad cid: %w", address, err)
	}
	port64, err := strconv.ParseUint(p, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("vsock address %q: bad port: %w", address, err)
	}
	return uint32(cid64), uint32(port64), nil
}

// Run sends req and reads back streamed log lines and the final result.
// Each log line is passed to logWriter as it arrives.
func (c *Conn) Run(req WorkRequest, logWriter func(string)) (WorkResponse, error) {
	if err := WriteMessage(c.conn, &req); err != nil {
		return WorkResponse{}, fmt.Errorf("send request: %w", err)
	}
	return c.readMessages(logWriter)
}

func (c *Conn) readMessages(logWriter func(string)) (WorkResponse, error) {
	for {
		var msg Message
		if err := ReadMessage(c.reader, &msg); err != nil {
			return WorkResponse{}, fmt.Errorf("read worker message: %w", err)
		}

		switch msg.Type {
		case MsgTypeLog:
			if logWriter != nil {
				logWriter(msg.Line)
			}
		case MsgTypeResult:
			if msg.Response == nil {
				return WorkResponse{}, fmt.Errorf("received result message with nil response")
			}
			return *msg.Response, nil
		default:
			return WorkResponse{}, fmt.Errorf("unknown message type: %q", msg.Type)
		}
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
