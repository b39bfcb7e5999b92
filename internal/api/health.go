package api

import "net/http"

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	EngineTypes int    `json:"engine_types"`
}

// handleHealthz reports liveness along with how many connections hold a
// shed and how many engine types can be served.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: len(s.conns.list()),
		EngineTypes: len(s.dispatcher.Registry().List()),
	})
}
