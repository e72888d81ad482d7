package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const runColumns = "id, command, config_path, results_dir, model, status, error_message, metrics_json, created_at, updated_at, finished_at"

// Create records a new running run and returns it with its identifier.
func (s *Store) Create(ctx context.Context, command, configPath, resultsDir, model string) (*Run, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("run command required")
	}
	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO runs (
            id, command, config_path, results_dir, model, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		command,
		nullableString(configPath),
		nullableString(resultsDir),
		nullableString(model),
		StatusRunning,
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.Get(ctx, id)
}

// SetResultsDir records where a run writes its results.
func (s *Store) SetResultsDir(ctx context.Context, id, dir string) error {
	return s.update(ctx, id, `results_dir = ?`, nullableString(dir))
}

// Complete marks a run as completed with its final metrics.
func (s *Store) Complete(ctx context.Context, id string, metrics map[string]map[string]float64) error {
	var metricsJSON any
	if len(metrics) > 0 {
		data, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = string(data)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.update(ctx, id, `status = ?, metrics_json = ?, error_message = NULL, finished_at = ?`,
		StatusCompleted, metricsJSON, now)
}

// Fail marks a run as failed with the error that ended it.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.update(ctx, id, `status = ?, error_message = ?, finished_at = ?`, StatusFailed, message, now)
}

func (s *Store) update(ctx context.Context, id, assignments string, args ...any) error {
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano), id)
	res, err := s.execWithRetry(ctx, `UPDATE runs SET `+assignments+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("update run %s: no such run", id)
	}
	return nil
}

// Get fetches a run by identifier. It returns nil when no run matches.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Find resolves a full identifier or a unique prefix of one.
func (s *Store) Find(ctx context.Context, idOrPrefix string) (*Run, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, errors.New("run id required")
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM runs WHERE id LIKE ? ORDER BY created_at LIMIT 2`,
		stripLikeWildcards(idOrPrefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", idOrPrefix)
	}
}

// List returns runs filtered by status set (or all runs when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Run, error) {
	var (
		rows *sql.Rows
		err  error
	)
	baseQuery := `SELECT ` + runColumns + ` FROM runs`
	orderClause := ` ORDER BY created_at`

	ctx = ensureContext(ctx)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// FailInterrupted marks runs still recorded as running, but not updated
// since cutoff, as failed. A process killed without cleanup leaves such rows.
func (s *Store) FailInterrupted(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs
         SET status = ?, error_message = 'interrupted', finished_at = ?, updated_at = ?
         WHERE status = ? AND updated_at < ?`,
		StatusFailed,
		now,
		now,
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted runs: %w", err)
	}
	return res.RowsAffected()
}
