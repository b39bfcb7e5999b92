package api

import (
	"net/http"

	"github.com/seantiz/ngnshed/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listExitsResponse wraps the paginated engine exit list.
type listExitsResponse struct {
	Exits  []*model.EngineExit `json:"exits"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func (s *Server) handleListEngineExits(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	exits, total, err := s.store.ListEngineExits(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list engine exits", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list engine exits")
		return
	}

	if exits == nil {
		exits = []*model.EngineExit{}
	}

	s.writeJSON(w, http.StatusOK, listExitsResponse{
		Exits:  exits,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
