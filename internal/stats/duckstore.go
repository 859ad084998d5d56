// duckstore.go - Per-file processing stats kept in an embedded DuckDB file
package stats

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
)

// Store records one row per finished unit and answers aggregate queries.
type Store struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex // serializes writes
	logger *zap.Logger
}

// Open opens or creates the stats database at path. An empty path keeps the
// database in memory.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS slice_stats (
			recorded_at  TIMESTAMP NOT NULL,
			batch_id     VARCHAR,
			file_id      VARCHAR NOT NULL,
			status       VARCHAR NOT NULL,
			failure_kind VARCHAR,
			mass_g       DOUBLE,
			total_ms     BIGINT,
			slice_ms     BIGINT,
			attempts     INTEGER,
			scaled       BOOLEAN
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Store{db: db, path: path, logger: logger.With(zap.String("component", "stats"))}, nil
}

// Record stores one unit result.
func (s *Store) Record(ctx context.Context, batchID string, r models.FileResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slice_stats
			(recorded_at, batch_id, file_id, status, failure_kind, mass_g, total_ms, slice_ms, attempts, scaled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), batchID, r.FileID, string(r.Status), string(r.FailureKind),
		r.MassGrams, r.Timing.TotalMs, r.Timing.SliceMs, r.Attempts, r.Scaled,
	)
	if err != nil {
		return fmt.Errorf("recording stats for %s: %w", r.FileID, err)
	}
	return nil
}

// UnitFinished records r, logging failures.
func (s *Store) UnitFinished(ctx context.Context, batchID string, r models.FileResult) {
	if err := s.Record(context.WithoutCancel(ctx), batchID, r); err != nil {
		s.logger.Warn("stats write failed", zap.Error(err))
	}
}

// Outcome aggregates results sharing a status and failure kind.
type Outcome struct {
	Status      string  `json:"status" msgpack:"status"`
	FailureKind string  `json:"failureKind,omitempty" msgpack:"failureKind,omitempty"`
	Count       int64   `json:"count" msgpack:"count"`
	AvgTotalMs  float64 `json:"avgTotalMs" msgpack:"avgTotalMs"`
	AvgSliceMs  float64 `json:"avgSliceMs" msgpack:"avgSliceMs"`
	TotalMassG  float64 `json:"totalMassGrams" msgpack:"totalMassGrams"`
	ScaledCount int64   `json:"scaledCount" msgpack:"scaledCount"`
}

// Summary is the response of the stats endpoint.
type Summary struct {
	Total    int64     `json:"total" msgpack:"total"`
	Outcomes []Outcome `json:"outcomes" msgpack:"outcomes"`
}

// Summarize aggregates rows recorded since the given time. A zero since
// covers everything.
func (s *Store) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status,
		       COALESCE(failure_kind, ''),
		       COUNT(*),
		       COALESCE(AVG(total_ms), 0),
		       COALESCE(AVG(slice_ms), 0),
		       COALESCE(SUM(mass_g), 0),
		       COUNT(*) FILTER (WHERE scaled)
		FROM slice_stats
		WHERE recorded_at >= ?
		GROUP BY 1, 2
		ORDER BY 3 DESC, 1, 2`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	sum := &Summary{Outcomes: []Outcome{}}
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Status, &o.FailureKind, &o.Count, &o.AvgTotalMs, &o.AvgSliceMs, &o.TotalMassG, &o.ScaledCount); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		sum.Total += o.Count
		sum.Outcomes = append(sum.Outcomes, o)
	}
	return sum, rows.Err()
}

// Prune deletes rows older than maxAge and returns how many were removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM slice_stats WHERE recorded_at < ?`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("pruning stats: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
