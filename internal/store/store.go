package store

import (
	"context"

	"github.com/seantiz/ngnshed/internal/model"
)

// EngineStats holds aggregate statistics over recorded engine exits.
type EngineStats struct {
	Total          int            `json:"total"`
	CountByType    map[string]int `json:"count_by_type"`
	CountByReason  map[string]int `json:"count_by_reason"`
	TotalProcessed int            `json:"total_processed"`
	TotalFailed    int            `json:"total_failed"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for the engine exit ledger.
type Store interface {
	RecordEngineExit(ctx context.Context, e *model.EngineExit) error
	ListEngineExits(ctx context.Context, limit, offset int) ([]*model.EngineExit, int, error)
	GetEngineStats(ctx context.Context) (*EngineStats, error)
	Close() error
}
