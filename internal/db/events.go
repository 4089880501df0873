package db

import (
	"context"
	"fmt"

	"github.com/callboard/taskgraph/pkg/models"
)

// recordEvent appends an audit row. It runs on whatever executor the caller
// is using so the event commits or rolls back with the mutation it records.
func recordEvent(ctx context.Context, exec executor, taskID string, eventType models.EventType, detail string) error {
	_, err := exec.ExecContext(ctx,
		`INSERT INTO events (task_id, event_type, detail) VALUES (?, ?, ?)`,
		taskID, eventType, detail)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail for a task, oldest first.
func (db *DB) ListEvents(ctx context.Context, taskID string) ([]*models.Event, error) {
	query := `
		SELECT id, task_id, event_type, detail, created_at
		FROM events
		WHERE task_id = ?
		ORDER BY id ASC
	`
	rows, err := db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e := &models.Event{}
		err := rows.Scan(&e.ID, &e.TaskID, &e.Type, &e.Detail, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}
