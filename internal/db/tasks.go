package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/callboard/taskgraph/pkg/models"
	"github.com/google/uuid"
)

// CreateTask inserts a new task into the database.
// If t.ID is empty, a new UUID is generated.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if err := db.createTask(ctx, db.DB, t); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createTask(ctx context.Context, exec executor, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusBacklog
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status: %q", t.Status)
	}

	query := `
		INSERT INTO tasks (id, project_id, title, description, priority, status)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING created_at, updated_at
	`
	err := exec.QueryRowContext(ctx, query,
		t.ID, t.ProjectID, t.Title, t.Description, t.Priority, t.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by its ID.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT t.id, t.project_id, t.title, t.description, t.priority,
		       t.status, t.created_at, t.updated_at, t.started_at, t.completed_at,
		       p.name as project_name
		FROM tasks t
		LEFT JOIN projects p ON t.project_id = p.id
		WHERE t.id = ?
	`
	t := &models.Task{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Priority,
		&t.Status, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt,
		&t.ProjectName,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return t, nil
}

// GetTaskByTitle retrieves a task by its title and project_id.
func (db *DB) GetTaskByTitle(ctx context.Context, title string, projectID string) (*models.Task, error) {
	return db.getTaskByTitle(ctx, db.DB, title, projectID)
}

func (db *DB) getTaskByTitle(ctx context.Context, exec executor, title string, projectID string) (*models.Task, error) {
	query := `
		SELECT t.id, t.project_id, t.title, t.description, t.priority,
		       t.status, t.created_at, t.updated_at, t.started_at, t.completed_at,
		       p.name as project_name
		FROM tasks t
		LEFT JOIN projects p ON t.project_id = p.id
		WHERE t.title = ? AND t.project_id = ?
	`
	t := &models.Task{}
	err := exec.QueryRowContext(ctx, query, title, projectID).Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Priority,
		&t.Status, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt,
		&t.ProjectName,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task by title: %w", err)
	}

	return t, nil
}

// ListTasks returns tasks, optionally filtered by status or project_name.
func (db *DB) ListTasks(ctx context.Context, status *models.TaskStatus, projectName *string) ([]*models.Task, error) {
	query := `
		SELECT t.id, t.project_id, t.title, t.description, t.priority,
		       t.status, t.created_at, t.updated_at, t.started_at, t.completed_at,
		       p.name as project_name
		FROM tasks t
		LEFT JOIN projects p ON t.project_id = p.id
		WHERE 1=1
	`
	args := []any{}

	if status != nil {
		query += " AND t.status = ?"
		args = append(args, *status)
	}

	if projectName != nil {
		query += " AND p.name = ?"
		args = append(args, *projectName)
	}

	query += " ORDER BY t.priority DESC, t.created_at ASC"

	return queryTasks(ctx, db.DB, query, args...)
}

// queryTasks is a helper to execute a query that returns a list of tasks
// with a project_name column.
func queryTasks(ctx context.Context, exec executor, query string, args ...any) ([]*models.Task, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		err := rows.Scan(
			&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Priority,
			&t.Status, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt,
			&t.ProjectName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tasks, nil
}

// UpdateTask updates an existing task. Status changes go through
// RequestStatusTransition, not here.
func (db *DB) UpdateTask(ctx context.Context, t *models.Task) error {
	query := `
		UPDATE tasks
		SET title = ?, description = ?, priority = ?, project_id = ?
		WHERE id = ?
		RETURNING updated_at
	`
	err := db.QueryRowContext(ctx, query,
		t.Title, t.Description, t.Priority, t.ProjectID, t.ID,
	).Scan(&t.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

// DeleteTask deletes a task by its ID. Dependency edges touching the task
// are removed by the schema's cascade rules.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	query := `DELETE FROM tasks WHERE id = ?`
	res, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}

	db.triggerChange(ctx)
	return nil
}

// ReadyTasks returns tasks that are ready to work on: still in backlog or
// todo with every direct prerequisite done.
func (db *DB) ReadyTasks(ctx context.Context) ([]*models.Task, error) {
	query := `
		SELECT id, project_id, title, description, priority,
		       status, created_at, updated_at, started_at, completed_at,
		       project_name
		FROM v_ready_tasks
		ORDER BY priority DESC, created_at ASC
	`
	return queryTasks(ctx, db.DB, query)
}

// CountReadyTasks returns the number of ready tasks without claiming them.
func (db *DB) CountReadyTasks(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM v_ready_tasks
	`

	var count int
	err := db.QueryRowContext(ctx, query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ready tasks: %w", err)
	}

	return count, nil
}

// ClaimNextReadyTask atomically claims the next ready task by marking it
// in_progress. The UPDATE ... RETURNING form prevents two callers from
// claiming the same task. Returns nil if no tasks are ready.
func (db *DB) ClaimNextReadyTask(ctx context.Context) (*models.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'in_progress'
		WHERE id IN (
			SELECT t.id
			FROM tasks t
			WHERE t.status IN ('backlog', 'todo')
			  AND NOT EXISTS (
				SELECT 1
				FROM dependencies d
				JOIN tasks dep ON d.depends_on_task_id = dep.id
				WHERE d.task_id = t.id
				  AND dep.status != 'done'
			)
			ORDER BY t.priority DESC, t.created_at ASC
			LIMIT 1
		)
		RETURNING id, project_id, title, description, priority,
		          status, created_at, updated_at, started_at, completed_at
	`

	t := &models.Task{}
	err := db.QueryRowContext(ctx, query).Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Priority,
		&t.Status, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim next ready task: %w", err)
	}

	db.triggerChange(ctx)
	return t, nil
}
