package model

import "time"

// Engine exit reasons.
const (
	ExitEndOfQueue = "end_of_queue"
	ExitAborted    = "aborted"
	ExitCancelled  = "cancelled"
)

// EngineExit records one request engine that ran and exited.
type EngineExit struct {
	ID         string    `json:"id"`
	EngineID   string    `json:"engine_id"`
	ConnID     string    `json:"conn_id"`
	EngineType string    `json:"engine_type"`
	Reason     string    `json:"reason"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	DurationMS int       `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	ExitedAt   time.Time `json:"exited_at"`
}
