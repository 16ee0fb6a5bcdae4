package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/slok/devup/internal/model"
)

// SaveTaskRun creates or replaces a session task run.
func (r *Repository) SaveTaskRun(ctx context.Context, sessionID string, status model.TaskStatus) error {
	tail := status.Tail
	if tail == nil {
		tail = []string{}
	}
	tailJSON, err := json.Marshal(tail)
	if err != nil {
		return fmt.Errorf("could not marshal output tail: %w", err)
	}

	run := status.Run
	query := `
		INSERT INTO task_runs (
			session_id, name, class, sequence, state,
			started_at, finished_at,
			exit_code, error, restarts, tail
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, name) DO UPDATE SET
			class = excluded.class,
			sequence = excluded.sequence,
			state = excluded.state,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			exit_code = excluded.exit_code,
			error = excluded.error,
			restarts = excluded.restarts,
			tail = excluded.tail
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		sessionID,
		run.Name,
		run.Class,
		run.Sequence,
		run.State,
		unixOrNil(run.StartedAt),
		unixOrNil(run.FinishedAt),
		run.ExitCode,
		run.Error,
		run.Restarts,
		string(tailJSON),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
		}
		return fmt.Errorf("could not save task run: %w", err)
	}

	return nil
}

// ListTaskRuns returns the task runs of a session in sequence order.
func (r *Repository) ListTaskRuns(ctx context.Context, sessionID string) ([]model.TaskStatus, error) {
	query := `
		SELECT
			name, class, sequence, state,
			started_at, finished_at,
			exit_code, error, restarts, tail
		FROM task_runs
		WHERE session_id = ?
		ORDER BY sequence ASC, name ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("could not query task runs: %w", err)
	}
	defer rows.Close()

	statuses := []model.TaskStatus{}
	for rows.Next() {
		var st model.TaskStatus
		var startedAt, finishedAt sql.NullInt64
		var tail string
		err := rows.Scan(
			&st.Run.Name,
			&st.Run.Class,
			&st.Run.Sequence,
			&st.Run.State,
			&startedAt,
			&finishedAt,
			&st.Run.ExitCode,
			&st.Run.Error,
			&st.Run.Restarts,
			&tail,
		)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}

		st.Run.StartedAt = timeOrNil(startedAt)
		st.Run.FinishedAt = timeOrNil(finishedAt)
		if err := json.Unmarshal([]byte(tail), &st.Tail); err != nil {
			return nil, fmt.Errorf("could not unmarshal output tail of %q: %w", st.Run.Name, err)
		}

		statuses = append(statuses, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return statuses, nil
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
