package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Connections    int            `json:"connections"`
	Engines        int            `json:"engines"`
	QueuedRequests int            `json:"queued_requests"`
	Exits          int            `json:"exits"`
	ExitsByType    map[string]int `json:"exits_by_type"`
	ExitsByReason  map[string]int `json:"exits_by_reason"`
	Processed      int            `json:"processed"`
	Failed         int            `json:"failed"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetEngineStats(r.Context())
	if err != nil {
		s.logger.Error("get engine stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	resp := statsResponse{
		ExitsByType:   stats.CountByType,
		ExitsByReason: stats.CountByReason,
		Exits:         stats.Total,
		Processed:     stats.TotalProcessed,
		Failed:        stats.TotalFailed,
		AvgDurationMS: stats.AvgDurationMS,
	}
	for _, c := range s.conns.list() {
		resp.Connections++
		for _, e := range c.shed.Engines() {
			resp.Engines++
			resp.QueuedRequests += e.Queued
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
