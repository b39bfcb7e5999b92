package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/ngnshed/internal/engine"
)

func TestConnRegistryLifecycle(t *testing.T) {
	broker := engine.NewEventBroker()
	cr := newConnRegistry(broker, 4096, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx := cr.connContext(context.Background(), server)
	c := connFromContext(ctx)
	if c == nil {
		t.Fatal("connContext did not attach a connection")
	}
	if c.shed.ConnID() != c.id || c.shed.RequestBufferSize() != 4096 {
		t.Errorf("shed conn/buffer = %q/%d, want %q/4096", c.shed.ConnID(), c.shed.RequestBufferSize(), c.id)
	}
	if got, ok := cr.get(c.id); !ok || got != c {
		t.Fatal("connection not registered by id")
	}

	events, unsub := broker.Subscribe(c.id)
	defer unsub()

	// Non-terminal states leave the connection alone.
	cr.connState(server, http.StateActive)
	cr.connState(server, http.StateIdle)
	if c.shed.Aborted() {
		t.Fatal("shed aborted before the connection closed")
	}

	cr.connState(server, http.StateClosed)
	if !c.shed.Aborted() {
		t.Error("shed not aborted after close")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("connection context not cancelled after close")
	}
	if _, ok := cr.get(c.id); ok {
		t.Error("closed connection still registered")
	}

	// Drain the abort event, then expect the topic to be closed.
	for range events {
	}

	// A second close is ignored.
	cr.connState(server, http.StateClosed)
}

func TestConnFromContextWithoutShed(t *testing.T) {
	if c := connFromContext(context.Background()); c != nil {
		t.Errorf("connFromContext = %v, want nil", c)
	}
}

func TestListConnections(t *testing.T) {
	srv := newTestServerWithIdle(t, time.Second)
	ts := startConnServer(t, srv)

	resp, _ := postRequest(t, ts.Client(), ts.URL+"/v1/engines/echo/requests", "x", nil)
	connID := connIDOf(t, resp.Header.Get(headerEngineID))

	r, err := ts.Client().Get(ts.URL + "/v1/connections")
	if err != nil {
		t.Fatalf("GET connections: %v", err)
	}
	defer r.Body.Close()

	var infos []connInfo
	if err := json.NewDecoder(r.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var found *connInfo
	for i := range infos {
		if infos[i].ID == connID {
			found = &infos[i]
		}
	}
	if found == nil {
		t.Fatalf("connection %s not listed in %+v", connID, infos)
	}
	if found.Aborted {
		t.Error("open connection reported as aborted")
	}
	if len(found.Engines) != 1 || found.Engines[0].Type != "echo" {
		t.Errorf("engines = %+v, want one echo engine", found.Engines)
	}

	one, err := ts.Client().Get(ts.URL + "/v1/connections/" + connID)
	if err != nil {
		t.Fatalf("GET connection: %v", err)
	}
	one.Body.Close()
	if one.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", one.StatusCode)
	}
}

func TestGetConnectionNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := startConnServer(t, srv)

	for _, path := range []string{"/v1/connections/nope", "/v1/connections/nope/events"} {
		resp, err := ts.Client().Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestStreamEventsUntilConnectionCloses(t *testing.T) {
	srv := newTestServerWithIdle(t, time.Second)
	ts := startConnServer(t, srv)

	// Client A's connection is the one being watched.
	trA := &http.Transport{}
	clientA := &http.Client{Transport: trA}
	resp, _ := postRequest(t, clientA, ts.URL+"/v1/engines/echo/requests", "first", nil)
	connID := connIDOf(t, resp.Header.Get(headerEngineID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/connections/"+connID+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	clientB := &http.Client{Transport: &http.Transport{}}
	stream, err := clientB.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// A second request on A is queued to the existing engine and pulled.
	postRequest(t, clientA, ts.URL+"/v1/engines/echo/requests", "second", nil)
	trA.CloseIdleConnections()

	scanner := bufio.NewScanner(stream.Body)
	var data []string
	done := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: done" {
			done = true
		}
		if d, ok := strings.CutPrefix(line, "data: "); ok {
			data = append(data, d)
		}
	}

	if !done {
		t.Error("stream ended without a done event")
	}
	joined := strings.Join(data, "\n")
	for _, want := range []string{"pushed request", "pulled request", "shed aborted"} {
		if !strings.Contains(joined, want) {
			t.Errorf("events missing %q:\n%s", want, joined)
		}
	}
}
