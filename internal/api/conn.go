package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/ngnshed/internal/engine"
	"github.com/seantiz/ngnshed/internal/model"
	"github.com/seantiz/ngnshed/internal/shed"
)

type shedKey struct{}

// connection is one client connection and the shed serving its requests.
type connection struct {
	id       string
	remote   string
	openedAt time.Time
	shed     *shed.Shed
	cancel   context.CancelFunc
}

// connInfo is the JSON view of a connection.
type connInfo struct {
	ID         string       `json:"id"`
	RemoteAddr string       `json:"remote_addr"`
	OpenedAt   time.Time    `json:"opened_at"`
	Aborted    bool         `json:"aborted"`
	Engines    []shed.Stats `json:"engines"`
}

func (c *connection) info() connInfo {
	return connInfo{
		ID:         c.id,
		RemoteAddr: c.remote,
		OpenedAt:   c.openedAt,
		Aborted:    c.shed.Aborted(),
		Engines:    c.shed.Engines(),
	}
}

// connRegistry tracks open connections, keyed by net.Conn for the server
// hooks and by id for the API.
type connRegistry struct {
	mu     sync.Mutex
	byConn map[net.Conn]*connection
	byID   map[string]*connection

	broker        *engine.EventBroker
	reqBufferSize int
	logger        *slog.Logger
}

func newConnRegistry(broker *engine.EventBroker, reqBufferSize int, logger *slog.Logger) *connRegistry {
	return &connRegistry{
		byConn:        make(map[net.Conn]*connection),
		byID:          make(map[string]*connection),
		broker:        broker,
		reqBufferSize: reqBufferSize,
		logger:        logger,
	}
}

// connContext is the http.Server ConnContext hook. It creates the shed for
// a new connection and stores it in the connection's context.
func (cr *connRegistry) connContext(ctx context.Context, nc net.Conn) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	id := model.NewConnID()

	opts := []shed.Option{shed.WithBaseContext(ctx)}
	if cr.broker != nil {
		cr.broker.Open(id)
		opts = append(opts, shed.WithEventSink(cr.broker))
	}
	c := &connection{
		id:       id,
		remote:   nc.RemoteAddr().String(),
		openedAt: time.Now().UTC(),
		shed:     shed.New(id, cr.reqBufferSize, cr.logger, opts...),
		cancel:   cancel,
	}
	c.shed.SetUserContext(c)

	cr.mu.Lock()
	cr.byConn[nc] = c
	cr.byID[id] = c
	cr.mu.Unlock()
	connectionsOpen.Inc()

	cr.logger.Debug("connection opened", "conn_id", id, "remote_addr", c.remote)
	return context.WithValue(ctx, shedKey{}, c.shed)
}

// connState is the http.Server ConnState hook. A closed or hijacked
// connection aborts its shed and cancels every engine running in it.
func (cr *connRegistry) connState(nc net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}

	cr.mu.Lock()
	c, ok := cr.byConn[nc]
	if ok {
		delete(cr.byConn, nc)
		delete(cr.byID, c.id)
	}
	cr.mu.Unlock()
	if !ok {
		return
	}
	connectionsOpen.Dec()

	c.shed.Abort()
	c.cancel()
	if cr.broker != nil {
		cr.broker.Close(c.id)
	}
	cr.logger.Debug("connection closed", "conn_id", c.id, "state", state.String())
}

func (cr *connRegistry) get(id string) (*connection, bool) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	c, ok := cr.byID[id]
	return c, ok
}

func (cr *connRegistry) list() []*connection {
	cr.mu.Lock()
	conns := make([]*connection, 0, len(cr.byID))
	for _, c := range cr.byID {
		conns = append(conns, c)
	}
	cr.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].id < conns[j].id
	})
	return conns
}

// connFromContext returns the connection a request arrived on, or nil when
// the server was not set up with Configure.
func connFromContext(ctx context.Context) *connection {
	sh, ok := ctx.Value(shedKey{}).(*shed.Shed)
	if !ok {
		return nil
	}
	c, _ := sh.UserContext().(*connection)
	return c
}
