package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/callboard/taskgraph/pkg/models"
)

const (
	// maxCycleDepth bounds the recursive reachability walk so a corrupt
	// edge set cannot send the cycle check into an unbounded traversal.
	maxCycleDepth = 100

	// maxBatchIDs caps the ID list accepted by ListDependenciesForTasks.
	// Inputs beyond the cap are truncated, not rejected.
	maxBatchIDs = 100
)

var (
	// ErrSelfDependency is returned before any storage access when a task
	// is asked to depend on itself.
	ErrSelfDependency = errors.New("a task cannot depend on itself")

	// ErrDuplicateDependency is returned when the exact ordered pair
	// already exists. Duplicates are a hard conflict, never a silent no-op.
	ErrDuplicateDependency = errors.New("dependency already exists")
)

// CycleError reports an edge insertion that would close a cycle. Path is
// the existing chain from the prerequisite back to the dependent task.
type CycleError struct {
	TaskID          string
	DependsOnTaskID string
	Path            string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle: %s",
		e.TaskID, e.DependsOnTaskID, e.Path)
}

// CreateDependency validates and persists a new edge. The duplicate check,
// the cycle check, the insert, and the audit event all run inside a single
// transaction so two concurrent requests cannot both pass the cycle check
// and then both write.
func (db *DB) CreateDependency(ctx context.Context, dep *models.Dependency) error {
	if dep.TaskID == dep.DependsOnTaskID {
		return ErrSelfDependency
	}
	if dep.Type == "" {
		dep.Type = models.DepFinishToStart
	}
	if !dep.Type.Valid() {
		return fmt.Errorf("invalid dependency type: %q", dep.Type)
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		return db.createDependency(ctx, tx, dep)
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

// createDependency runs the full guard stack and the insert on the given
// executor. Callers must wrap it in a transaction.
func (db *DB) createDependency(ctx context.Context, exec executor, dep *models.Dependency) error {
	if dep.TaskID == dep.DependsOnTaskID {
		return ErrSelfDependency
	}

	for _, id := range []string{dep.TaskID, dep.DependsOnTaskID} {
		var exists bool
		err := exec.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM tasks WHERE id = ?)`, id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check task %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("task not found: %s", id)
		}
	}

	exists, err := dependencyExists(ctx, exec, dep.TaskID, dep.DependsOnTaskID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDependency
	}

	// Adding task -> depends_on closes a cycle iff depends_on already
	// reaches task through existing edges. Full transitive reachability,
	// not a one-hop adjacency check.
	var path string
	err = exec.QueryRowContext(ctx, `
		WITH RECURSIVE walk(depends_on_task_id, path, depth) AS (
			SELECT depends_on_task_id, task_id || ' -> ' || depends_on_task_id, 1
			FROM dependencies
			WHERE task_id = ?
			UNION ALL
			SELECT d.depends_on_task_id, w.path || ' -> ' || d.depends_on_task_id, w.depth + 1
			FROM dependencies d
			JOIN walk w ON d.task_id = w.depends_on_task_id
			WHERE w.depth < ?
		)
		SELECT path FROM walk WHERE depends_on_task_id = ? LIMIT 1
	`, dep.DependsOnTaskID, maxCycleDepth, dep.TaskID).Scan(&path)
	if err == nil {
		return &CycleError{TaskID: dep.TaskID, DependsOnTaskID: dep.DependsOnTaskID, Path: path}
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check for cycles: %w", err)
	}

	err = exec.QueryRowContext(ctx, `
		INSERT INTO dependencies (task_id, depends_on_task_id, dependency_type, lag_hours)
		VALUES (?, ?, ?, ?)
		RETURNING created_at
	`, dep.TaskID, dep.DependsOnTaskID, dep.Type, dep.LagHours).Scan(&dep.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dependency: %w", err)
	}

	return recordEvent(ctx, exec, dep.TaskID, models.EventDependencyAdded,
		fmt.Sprintf("depends on %s (%s)", dep.DependsOnTaskID, dep.Type))
}

// DeleteDependency removes an edge. Removing an edge can never introduce a
// cycle, so no guard runs here.
func (db *DB) DeleteDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM dependencies WHERE task_id = ? AND depends_on_task_id = ?`,
			taskID, dependsOnTaskID)
		if err != nil {
			return fmt.Errorf("failed to delete dependency: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("dependency not found: %s -> %s", taskID, dependsOnTaskID)
		}

		return recordEvent(ctx, tx, taskID, models.EventDependencyRemoved,
			fmt.Sprintf("no longer depends on %s", dependsOnTaskID))
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

// DependencyExists reports whether the exact ordered pair is present.
func (db *DB) DependencyExists(ctx context.Context, taskID, dependsOnTaskID string) (bool, error) {
	return dependencyExists(ctx, db.DB, taskID, dependsOnTaskID)
}

func dependencyExists(ctx context.Context, exec executor, taskID, dependsOnTaskID string) (bool, error) {
	var exists bool
	err := exec.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM dependencies WHERE task_id = ? AND depends_on_task_id = ?)`,
		taskID, dependsOnTaskID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check dependency existence: %w", err)
	}
	return exists, nil
}

// ListDependencies returns the edges where the given task is the dependent.
func (db *DB) ListDependencies(ctx context.Context, taskID string) ([]*models.Dependency, error) {
	query := `
		SELECT task_id, depends_on_task_id, dependency_type, lag_hours, created_at
		FROM dependencies
		WHERE task_id = ?
		ORDER BY created_at ASC
	`
	return queryDependencies(ctx, db.DB, query, taskID)
}

// ListDependenciesForTasks is the batch variant of ListDependencies. The
// input is truncated to maxBatchIDs to bound query cost.
func (db *DB) ListDependenciesForTasks(ctx context.Context, taskIDs []string) ([]*models.Dependency, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	if len(taskIDs) > maxBatchIDs {
		taskIDs = taskIDs[:maxBatchIDs]
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(taskIDs)), ",")
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT task_id, depends_on_task_id, dependency_type, lag_hours, created_at
		FROM dependencies
		WHERE task_id IN (%s)
		ORDER BY task_id ASC, created_at ASC
	`, placeholders)
	return queryDependencies(ctx, db.DB, query, args...)
}

// EdgesTouching returns every edge where the task appears on either side.
func (db *DB) EdgesTouching(ctx context.Context, taskID string) ([]*models.Dependency, error) {
	query := `
		SELECT task_id, depends_on_task_id, dependency_type, lag_hours, created_at
		FROM dependencies
		WHERE task_id = ? OR depends_on_task_id = ?
		ORDER BY created_at ASC
	`
	return queryDependencies(ctx, db.DB, query, taskID, taskID)
}

// ListAllDependencies returns the complete edge set.
func (db *DB) ListAllDependencies(ctx context.Context) ([]*models.Dependency, error) {
	return listAllDependencies(ctx, db.DB)
}

func listAllDependencies(ctx context.Context, exec executor) ([]*models.Dependency, error) {
	query := `
		SELECT task_id, depends_on_task_id, dependency_type, lag_hours, created_at
		FROM dependencies
		ORDER BY task_id ASC, depends_on_task_id ASC
	`
	return queryDependencies(ctx, exec, query)
}

func queryDependencies(ctx context.Context, exec executor, query string, args ...any) ([]*models.Dependency, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*models.Dependency
	for rows.Next() {
		d := &models.Dependency{}
		err := rows.Scan(&d.TaskID, &d.DependsOnTaskID, &d.Type, &d.LagHours, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return deps, nil
}

// GetDependencies returns the prerequisite tasks of the given task.
func (db *DB) GetDependencies(ctx context.Context, taskID string) ([]*models.Task, error) {
	return getDependencies(ctx, db.DB, taskID)
}

func getDependencies(ctx context.Context, exec executor, taskID string) ([]*models.Task, error) {
	query := `
		SELECT t.id, t.project_id, t.title, t.description, t.priority,
		       t.status, t.created_at, t.updated_at, t.started_at, t.completed_at,
		       p.name as project_name
		FROM tasks t
		JOIN dependencies d ON t.id = d.depends_on_task_id
		LEFT JOIN projects p ON t.project_id = p.id
		WHERE d.task_id = ?
		ORDER BY t.priority DESC, t.created_at ASC
	`
	return queryTasks(ctx, exec, query, taskID)
}

// GetDependents returns the tasks that depend on the given task.
func (db *DB) GetDependents(ctx context.Context, taskID string) ([]*models.Task, error) {
	query := `
		SELECT t.id, t.project_id, t.title, t.description, t.priority,
		       t.status, t.created_at, t.updated_at, t.started_at, t.completed_at,
		       p.name as project_name
		FROM tasks t
		JOIN dependencies d ON t.id = d.task_id
		LEFT JOIN projects p ON t.project_id = p.id
		WHERE d.depends_on_task_id = ?
		ORDER BY t.priority DESC, t.created_at ASC
	`
	return queryTasks(ctx, db.DB, query, taskID)
}
