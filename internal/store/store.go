// Package store persists deployment runs and stack events to PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Run statuses.
const (
	RunStatusStarted   = "started"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one execution of the provisioning pipeline or a lifecycle
// command.
type Run struct {
	ID         string
	Command    string
	Domain     string
	Status     string
	Stage      string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Event is a stack event: a pipeline stage transition or a health
// observation.
type Event struct {
	ID         int64
	RunID      string
	Source     string
	EventType  string
	Level      string
	Message    string
	Metadata   json.RawMessage
	OccurredAt time.Time
}

// Store implements persistence on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateRun inserts a run record in the started state.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunStatusStarted
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	const query = `INSERT INTO deploy_runs (id, command, domain, status, stage, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query, run.ID, run.Command, run.Domain, run.Status, run.Stage, run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStage records pipeline progress.
func (s *Store) UpdateRunStage(ctx context.Context, runID, stage string) error {
	const query = `UPDATE deploy_runs SET stage = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, runID, stage)
	if err != nil {
		return fmt.Errorf("update run stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishRun marks a run complete.
func (s *Store) FinishRun(ctx context.Context, runID, status, errMsg string) error {
	const query = `UPDATE deploy_runs SET status = $2, error = $3, finished_at = $4 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, runID, status, nullIfEmpty(errMsg), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	const query = `SELECT id, command, domain, status, stage, COALESCE(error, ''), started_at, finished_at
		FROM deploy_runs WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, runID)
	var run Run
	if err := row.Scan(&run.ID, &run.Command, &run.Domain, &run.Status, &run.Stage, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, command, domain, status, stage, COALESCE(error, ''), started_at, finished_at
		FROM deploy_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Command, &run.Domain, &run.Status, &run.Stage, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendEvent records a stack event.
func (s *Store) AppendEvent(ctx context.Context, event *Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = "info"
	}
	const query = `INSERT INTO stack_events (run_id, source, event_type, level, message, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	row := s.pool.QueryRow(ctx, query,
		nullIfEmpty(event.RunID), event.Source, event.EventType, event.Level, event.Message, metadataOrNull(event.Metadata), event.OccurredAt)
	if err := row.Scan(&event.ID); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecentEvents returns the latest events, newest first, optionally
// filtered by source.
func (s *Store) RecentEvents(ctx context.Context, source string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, COALESCE(run_id::text, ''), source, event_type, level, message, COALESCE(metadata, 'null'::jsonb), occurred_at
		FROM stack_events`
	args := []any{limit}
	if strings.TrimSpace(source) != "" {
		query += ` WHERE source = $2`
		args = append(args, source)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.ID, &event.RunID, &event.Source, &event.EventType, &event.Level, &event.Message, &event.Metadata, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func metadataOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
