package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/ngnshed/internal/backend"
	"github.com/seantiz/ngnshed/internal/model"
	"github.com/seantiz/ngnshed/internal/shed"
	"github.com/seantiz/ngnshed/internal/task"
)

const (
	maxBodySize = 1 << 20 // 1 MB

	// headerSerializedHeaders marks a request whose headers must stay on
	// the connection; engines refuse it.
	headerSerializedHeaders = "X-Serialized-Headers"
	headerEngineID          = "X-Engine-Id"
	headerTaskID            = "X-Task-Id"

	inlineEngineID = "inline"
)

func (s *Server) handlePushRequest(w http.ResponseWriter, r *http.Request) {
	engineType := chi.URLParam(r, "type")
	if !s.dispatcher.Registry().Has(engineType) {
		s.writeError(w, http.StatusNotFound, "unknown engine type")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	reqID := middleware.GetReqID(r.Context())
	if reqID == "" {
		reqID = model.NewID()
	}
	req := &task.Request{
		ID:         reqID,
		EngineType: engineType,
		Header:     r.Header.Clone(),
		Body:       body,
	}
	tk := task.New(model.NewID(), req, r.Header.Get(headerSerializedHeaders) == "1")
	w.Header().Set(headerTaskID, tk.ID())

	c := connFromContext(r.Context())
	if c == nil {
		s.processInline(w, r, req, "no_connection")
		return
	}

	err = c.shed.Push(engineType, tk, req, s.dispatcher.Initializer())
	switch {
	case err == nil:
		// The shed froze the task if it queued it; the connection is done
		// handing it over.
		tk.Thaw()
	case errors.Is(err, shed.ErrNotAcceptable):
		s.processInline(w, r, req, "not_acceptable")
		return
	case shed.IsTransient(err):
		s.processInline(w, r, req, "unavailable")
		return
	case errors.Is(err, backend.ErrNotRegistered), errors.Is(err, shed.ErrNoRoute):
		s.writeError(w, http.StatusNotFound, "unknown engine type")
		return
	default:
		s.logger.Error("push request", "conn_id", c.id, "task_id", tk.ID(), "error", err)
		s.writeError(w, http.StatusBadGateway, "engine init failed")
		return
	}

	res, err := tk.Wait(r.Context())
	if err != nil {
		// Client gone; the engine still finishes the request.
		return
	}
	s.writeResult(w, res)
}

// processInline handles req on the connection itself, without an engine.
func (s *Server) processInline(w http.ResponseWriter, r *http.Request, req *task.Request, reason string) {
	b, err := s.dispatcher.Registry().Resolve(req.EngineType)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown engine type")
		return
	}
	inlineFallbackTotal.WithLabelValues(req.EngineType, reason).Inc()

	out, err := b.Process(r.Context(), backend.Request{
		ID:       req.ID,
		TaskID:   req.Task().ID(),
		EngineID: inlineEngineID,
		Header:   req.Header,
		Body:     req.Body,
	})
	res := task.Result{EngineID: inlineEngineID, Output: out.Output, Err: err}
	req.Task().Complete(res)
	s.writeResult(w, res)
}

func (s *Server) writeResult(w http.ResponseWriter, res task.Result) {
	w.Header().Set(headerEngineID, res.EngineID)
	switch {
	case errors.Is(res.Err, task.ErrOutputClosed):
		s.writeError(w, http.StatusServiceUnavailable, "engine exited before processing the request")
		return
	case res.Err != nil:
		s.writeError(w, http.StatusBadGateway, res.Err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Output); err != nil {
		s.logger.Debug("write response body", "error", err)
	}
}
