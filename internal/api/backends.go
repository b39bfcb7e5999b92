package api

import (
	"net/http"

	"github.com/seantiz/ngnshed/internal/backend"
)

type backendInfo struct {
	backend.Info
	// LiveEngines counts engines of this type registered across all open
	// connections; Queued sums their queued requests.
	LiveEngines int `json:"live_engines"`
	Queued      int `json:"queued"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	live := map[string]int{}
	queued := map[string]int{}
	for _, c := range s.conns.list() {
		for _, st := range c.shed.Engines() {
			live[st.Type]++
			queued[st.Type] += st.Queued
		}
	}

	infos := s.dispatcher.Registry().List()
	out := make([]backendInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, backendInfo{
			Info:        info,
			LiveEngines: live[info.EngineType],
			Queued:      queued[info.EngineType],
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}
