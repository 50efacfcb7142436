package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/deckvault/internal/apperror"
	"github.com/sakif/deckvault/internal/model"
)

const syncRunColumns = `id, username, mode, outcome, fetched, skipped, stale, persist_failures,
	error, started_at, finished_at`

// CreateSyncRun records the start of a run. An ID is generated when the
// caller did not set one; xid IDs sort by creation time.
func (db *DB) CreateSyncRun(ctx context.Context, run *model.SyncRun) error {
	if run.ID == "" {
		run.ID = xid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Outcome == "" {
		run.Outcome = model.SyncRunning
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sync_runs (id, username_key, username, mode, outcome, fetched, skipped, stale,
		                        persist_failures, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		model.NormalizeUsername(run.Username),
		run.Username,
		string(run.Mode),
		string(run.Outcome),
		run.Fetched,
		run.Skipped,
		run.Stale,
		run.PersistFailures,
		run.Error,
		formatTime(run.StartedAt),
		formatTimePtr(run.FinishedAt),
	)
	if err != nil {
		return apperror.Persistence("sync run "+run.ID, fmt.Errorf("sqlite: creating sync run: %w", err))
	}
	return nil
}

// FinishSyncRun stores the run's final counters and outcome.
// Returns apperror.ErrNotFound if the run was never created.
func (db *DB) FinishSyncRun(ctx context.Context, run *model.SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sync_runs
		 SET username = ?, outcome = ?, fetched = ?, skipped = ?, stale = ?,
		     persist_failures = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		run.Username,
		string(run.Outcome),
		run.Fetched,
		run.Skipped,
		run.Stale,
		run.PersistFailures,
		run.Error,
		formatTimePtr(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return apperror.Persistence("sync run "+run.ID, fmt.Errorf("sqlite: finishing sync run %s: %w", run.ID, err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("sync run", run.ID)
	}
	return nil
}

// GetSyncRun returns one run by id.
func (db *DB) GetSyncRun(ctx context.Context, id string) (*model.SyncRun, error) {
	run, err := scanSyncRun(db.conn.QueryRowContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("sync run", id)
		}
		return nil, fmt.Errorf("sqlite: getting sync run %s: %w", id, err)
	}
	return &run, nil
}

// ListSyncRuns returns the user's most recent runs, newest first.
func (db *DB) ListSyncRuns(ctx context.Context, username string, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	key := model.NormalizeUsername(username)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs
		 WHERE username_key = ?
		 ORDER BY started_at DESC, id DESC
		 LIMIT ?`,
		key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing sync runs for %s: %w", key, err)
	}
	defer rows.Close()

	runs := make([]model.SyncRun, 0, limit)
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating sync runs: %w", err)
	}
	return runs, nil
}

func scanSyncRun(row rowScanner) (model.SyncRun, error) {
	var (
		run        model.SyncRun
		mode       string
		outcome    string
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.Username,
		&mode,
		&outcome,
		&run.Fetched,
		&run.Skipped,
		&run.Stale,
		&run.PersistFailures,
		&run.Error,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return run, err
	}
	run.Mode = model.SyncMode(mode)
	run.Outcome = model.SyncOutcome(outcome)
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return run, err
	}
	if run.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return run, err
	}
	return run, nil
}
