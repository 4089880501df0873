package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/callboard/taskgraph/internal/graph"
	"github.com/callboard/taskgraph/pkg/models"
)

// RequestStatusTransition decides whether a task may move to the target
// status and applies the move when allowed. Entering in_progress or done
// requires every direct prerequisite to be done; any other target passes
// unconditionally, including backward moves out of done. A refused
// transition returns Allowed=false with the blocking set and writes
// nothing.
//
// The read of the prerequisites and the status write share one transaction,
// so a prerequisite cannot be un-done between the check and the write.
func (db *DB) RequestStatusTransition(ctx context.Context, taskID string, target models.TaskStatus) (*models.TransitionResult, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("invalid status: %q", target)
	}

	var result *models.TransitionResult
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var current models.TaskStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, taskID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("task not found: %s", taskID)
		}
		if err != nil {
			return fmt.Errorf("failed to get task status: %w", err)
		}

		result = &models.TransitionResult{From: current, To: target}

		if graph.Gated(target) {
			prereqs, err := getDependencies(ctx, tx, taskID)
			if err != nil {
				return err
			}
			if blocking := graph.BlockingSet(prereqs); len(blocking) > 0 {
				result.Blocking = blocking
				return nil
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, target, taskID); err != nil {
			return fmt.Errorf("failed to update task status: %w", err)
		}

		result.Allowed = true
		return recordEvent(ctx, tx, taskID, models.EventStatusChanged,
			fmt.Sprintf("%s -> %s", current, target))
	})
	if err != nil {
		return nil, err
	}

	if result.Allowed {
		db.triggerChange(ctx)
	}
	return result, nil
}
