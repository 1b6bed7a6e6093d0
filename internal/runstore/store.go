package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"clipweave/internal/job"
)

// ErrNotFound is returned when a run id (or prefix) matches nothing.
var ErrNotFound = errors.New("run not found")

// ErrAmbiguous is returned when a run id prefix matches several runs.
var ErrAmbiguous = errors.New("run id prefix is ambiguous")

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CreateRun inserts a run in the running state.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
            id, status, created_at, updated_at, total_seconds, segment_seconds,
            segment_count, concurrency, output_path
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		StatusRunning,
		formatTime(run.CreatedAt),
		formatTime(now),
		run.TotalDuration.Seconds(),
		run.SegmentLength.Seconds(),
		run.SegmentCount,
		run.Concurrency,
		nullableString(run.OutputPath),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordSegment upserts the current state of a segment's job.
func (s *Store) RecordSegment(ctx context.Context, runID string, j job.Job) error {
	var submitted *time.Time
	if !j.SubmittedAt.IsZero() {
		submitted = &j.SubmittedAt
	}
	var artifactPath string
	var size int64
	if j.Artifact != nil {
		artifactPath = j.Artifact.Path
		size = j.Artifact.SizeBytes
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (
            run_id, segment_index, state, operation_id, recreate_count, submitted_at,
            artifact_path, size_bytes, error_message, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(run_id, segment_index) DO UPDATE SET
            state = excluded.state,
            operation_id = excluded.operation_id,
            recreate_count = excluded.recreate_count,
            submitted_at = excluded.submitted_at,
            artifact_path = excluded.artifact_path,
            size_bytes = excluded.size_bytes,
            error_message = excluded.error_message,
            updated_at = excluded.updated_at`,
		runID,
		j.SegmentIndex,
		string(j.State),
		nullableString(j.OperationID),
		j.RecreateCount,
		nullableTime(submitted),
		nullableString(artifactPath),
		size,
		nullableString(j.ErrorMessage()),
		formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("record segment %d: %w", j.SegmentIndex, err)
	}
	return nil
}

// FinishRun stores the final status and manifest of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, outcome Outcome) error {
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs
         SET status = ?, updated_at = ?, completed_at = ?, output_path = ?, published_url = ?,
             incomplete = ?, error_message = ?, manifest_json = ?
         WHERE id = ?`,
		outcome.Status,
		now,
		now,
		nullableString(outcome.OutputPath),
		nullableString(outcome.PublishedURL),
		boolToInt(outcome.Incomplete),
		nullableString(outcome.ErrorMessage),
		nullableString(string(outcome.ManifestJSON)),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// GetRun returns the run whose id equals or starts with idOrPrefix.
func (s *Store) GetRun(ctx context.Context, idOrPrefix string) (*Run, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE substr(id, 1, ?) = ? ORDER BY length(id), id LIMIT 2`,
		len(idOrPrefix), idOrPrefix,
	)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if run.ID == idOrPrefix {
			return run, nil
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, idOrPrefix)
	}
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Segments returns the segment rows of a run ordered by index.
func (s *Store) Segments(ctx context.Context, runID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE run_id = ? ORDER BY segment_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// MarkInterrupted flags runs still recorded as running, which only happens
// when a previous process died mid-run. It returns the number of runs updated.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ?, error_message = COALESCE(error_message, ?)
         WHERE status = ?`,
		StatusInterrupted,
		formatTime(time.Now().UTC()),
		"process exited before the run finished",
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// ActiveRunIDs returns the ids of runs still in the running state.
func (s *Store) ActiveRunIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE status = ?`, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("active runs: %w", err)
	}
	defer rows.Close()
	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}
