package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/seantiz/ngnshed/internal/model"

	_ "modernc.org/sqlite"
)

const createEngineExitsTable = `
CREATE TABLE IF NOT EXISTS engine_exits (
    id          TEXT PRIMARY KEY,
    engine_id   TEXT NOT NULL,
    conn_id     TEXT NOT NULL,
    engine_type TEXT NOT NULL,
    reason      TEXT NOT NULL,
    processed   INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    started_at  DATETIME NOT NULL,
    exited_at   DATETIME NOT NULL
)`

const createEngineExitsIndex = `
CREATE INDEX IF NOT EXISTS engine_exits_exited_at ON engine_exits (exited_at)`

const selectEngineExit = `SELECT id, engine_id, conn_id, engine_type, reason,
	processed, failed, duration_ms, started_at, exited_at
FROM engine_exits`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createEngineExitsTable, createEngineExitsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate engine_exits: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordEngineExit inserts an engine exit record. An empty ID is filled in.
func (s *SQLiteStore) RecordEngineExit(ctx context.Context, e *model.EngineExit) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_exits (
			id, engine_id, conn_id, engine_type, reason,
			processed, failed, duration_ms, started_at, exited_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EngineID, e.ConnID, e.EngineType, e.Reason,
		e.Processed, e.Failed, e.DurationMS, e.StartedAt, e.ExitedAt,
	)
	if err != nil {
		return fmt.Errorf("insert engine exit: %w", err)
	}
	return nil
}

// ListEngineExits returns a page of engine exits ordered by exited_at DESC,
// along with the total count of recorded exits.
func (s *SQLiteStore) ListEngineExits(ctx context.Context, limit, offset int) ([]*model.EngineExit, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM engine_exits").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count engine exits: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		selectEngineExit+" ORDER BY exited_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list engine exits: %w", err)
	}
	defer rows.Close()

	var exits []*model.EngineExit
	for rows.Next() {
		e := &model.EngineExit{}
		if err := rows.Scan(
			&e.ID, &e.EngineID, &e.ConnID, &e.EngineType, &e.Reason,
			&e.Processed, &e.Failed, &e.DurationMS, &e.StartedAt, &e.ExitedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan engine exit: %w", err)
		}
		exits = append(exits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate engine exits: %w", err)
	}

	return exits, total, nil
}

// GetEngineStats aggregates the recorded engine exits.
func (s *SQLiteStore) GetEngineStats(ctx context.Context) (*EngineStats, error) {
	stats := &EngineStats{
		CountByType:   make(map[string]int),
		CountByReason: make(map[string]int),
	}

	var avg sql.NullFloat64
	var processed, failed sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), SUM(processed), SUM(failed), AVG(duration_ms) FROM engine_exits",
	).Scan(&stats.Total, &processed, &failed, &avg)
	if err != nil {
		return nil, fmt.Errorf("aggregate engine exits: %w", err)
	}
	stats.TotalProcessed = int(processed.Int64)
	stats.TotalFailed = int(failed.Int64)
	stats.AvgDurationMS = avg.Float64

	if err := s.countBy(ctx, "engine_type", stats.CountByType); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "reason", stats.CountByReason); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy fills counts with the number of exits per distinct column value.
// column is never user input.
func (s *SQLiteStore) countBy(ctx context.Context, column string, counts map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM engine_exits GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate count by %s: %w", column, err)
	}
	return nil
}
