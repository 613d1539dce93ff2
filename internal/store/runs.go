package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

const maxRunErrorLength = 4000

// IngestRun is the lifecycle record of one ingestion for a (date, region).
type IngestRun struct {
	ID         int64      `db:"id" json:"id"`
	UUID       string     `db:"uuid" json:"uuid"`
	Date       string     `db:"date" json:"date"`
	Region     string     `db:"region" json:"region"`
	Status     string     `db:"status" json:"status"`
	Attempts   int        `db:"attempts" json:"attempts"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	Error      *string    `db:"error" json:"error,omitempty"`
	Meta       Payload    `db:"meta" json:"meta"`
}

// Snapshot is the audit copy of one external call batch.
type Snapshot struct {
	ID        int64     `db:"id" json:"id"`
	RunID     int64     `db:"run_id" json:"run_id"`
	Source    string    `db:"source" json:"source"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	Request   string    `db:"request" json:"request"`
	Response  string    `db:"response" json:"response"`
	FetchedAt time.Time `db:"fetched_at" json:"fetched_at"`
}

const runColumns = `id, uuid, date, region, status, attempts, started_at, finished_at, error, meta`

// StartRun moves the run for (date, region) to running, creating it on first
// use. A re-run keeps the row and its uuid and bumps attempts.
func (s *SQLiteStore) StartRun(ctx context.Context, date, region string) (*IngestRun, error) {
	var run IngestRun
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO ingest_runs (uuid, date, region, status, attempts, started_at, meta)
		VALUES (?, ?, ?, ?, 1, ?, '{}')
		ON CONFLICT(date, region) DO UPDATE SET
			status = excluded.status,
			attempts = ingest_runs.attempts + 1,
			started_at = excluded.started_at,
			finished_at = NULL,
			error = NULL,
			meta = '{}'
		RETURNING `+runColumns,
		uuid.NewString(), date, region, RunRunning, now(),
	).StructScan(&run)
	if err != nil {
		return nil, fmt.Errorf("start run %s/%s: %w", date, region, err)
	}
	return &run, nil
}

// FinishRun marks the run successful.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID int64, meta Payload) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET status = ?, finished_at = ?, error = NULL, meta = ?
		WHERE id = ?
	`, RunSuccess, now(), meta, runID)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// FailRun marks the run failed, storing errMsg truncated to maxRunErrorLength bytes.
func (s *SQLiteStore) FailRun(ctx context.Context, runID int64, errMsg string, meta Payload) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET status = ?, finished_at = ?, error = ?, meta = ?
		WHERE id = ?
	`, RunFailed, now(), truncateError(errMsg), meta, runID)
	if err != nil {
		return fmt.Errorf("fail run %d: %w", runID, err)
	}
	return nil
}

func truncateError(msg string) string {
	if len(msg) <= maxRunErrorLength {
		return msg
	}
	return strings.ToValidUTF8(msg[:maxRunErrorLength], "")
}

func (s *SQLiteStore) GetRun(ctx context.Context, date, region string) (*IngestRun, error) {
	var run IngestRun
	err := s.db.GetContext(ctx, &run,
		"SELECT "+runColumns+" FROM ingest_runs WHERE date = ? AND region = ?", date, region)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s/%s: %w", date, region, err)
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 30
	}
	var runs []IngestRun
	err := s.db.SelectContext(ctx, &runs,
		"SELECT "+runColumns+" FROM ingest_runs ORDER BY date DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// AddSnapshot appends an audit record. request and response are stored as JSON.
func (s *SQLiteStore) AddSnapshot(ctx context.Context, runID int64, source, endpoint string, request, response any) error {
	reqJSON, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal snapshot request: %w", err)
	}
	respJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal snapshot response: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, source, endpoint, request, response, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, source, endpoint, string(reqJSON), string(respJSON), now())
	if err != nil {
		return fmt.Errorf("add snapshot %s %s: %w", source, endpoint, err)
	}
	return nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, runID int64) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.SelectContext(ctx, &snaps,
		"SELECT id, run_id, source, endpoint, request, response, fetched_at FROM snapshots WHERE run_id = ? ORDER BY id",
		runID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for run %d: %w", runID, err)
	}
	return snaps, nil
}
