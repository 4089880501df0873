package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/callboard/taskgraph/internal/graph"
	"github.com/callboard/taskgraph/pkg/models"
	"github.com/google/uuid"
)

// EnableAutoSnapshot sets up a hook that automatically exports a snapshot
// to the given path after every successful write operation.
func (db *DB) EnableAutoSnapshot(path string) {
	db.SetOnChange(func(ctx context.Context) {
		// Hooks are best-effort; a failed export must not fail the
		// original write operation.
		_ = db.ExportSnapshot(ctx, path)
	})
}

type snapshotMeta struct {
	RecordType string    `json:"record_type"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

type snapshotProject struct {
	RecordType  string    `json:"record_type"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type snapshotTask struct {
	RecordType  string            `json:"record_type"`
	ID          string            `json:"id"`
	ProjectName string            `json:"project_name"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    int               `json:"priority"`
	Status      models.TaskStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	StartedAt   *time.Time        `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at"`
}

type snapshotDependency struct {
	RecordType               string                `json:"record_type"`
	TaskID                   string                `json:"task_id"`
	TaskTitle                string                `json:"task_title"`
	TaskProjectName          string                `json:"task_project_name"`
	DependsOnTaskID          string                `json:"depends_on_task_id"`
	DependsOnTaskTitle       string                `json:"depends_on_task_title"`
	DependsOnTaskProjectName string                `json:"depends_on_task_project_name"`
	DependencyType           models.DependencyType `json:"dependency_type"`
	LagHours                 float64               `json:"lag_hours"`
}

// ExportSnapshot writes the full database as JSONL to the given path,
// atomically via a temporary file. Records are ordered projects, tasks,
// dependencies, each sorted by name so exports diff cleanly.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	enc := json.NewEncoder(tempFile)
	if err := enc.Encode(snapshotMeta{RecordType: "meta", Version: 1, ExportedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("failed to write meta record: %w", err)
	}

	if err := db.exportProjects(ctx, enc); err != nil {
		return err
	}
	if err := db.exportTasks(ctx, enc); err != nil {
		return err
	}
	if err := db.exportDependencies(ctx, enc); err != nil {
		return err
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (db *DB) exportProjects(ctx context.Context, enc *json.Encoder) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM projects ORDER BY name ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := snapshotProject{RecordType: "project"}
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan project: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write project record: %w", err)
		}
	}
	return rows.Err()
}

func (db *DB) exportTasks(ctx context.Context, enc *json.Encoder) error {
	rows, err := db.QueryContext(ctx, `
		SELECT t.id, p.name, t.title, t.description, t.priority, t.status,
		       t.created_at, t.updated_at, t.started_at, t.completed_at
		FROM tasks t
		JOIN projects p ON t.project_id = p.id
		ORDER BY p.name ASC, t.title ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := snapshotTask{RecordType: "task"}
		if err := rows.Scan(&rec.ID, &rec.ProjectName, &rec.Title, &rec.Description, &rec.Priority,
			&rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.StartedAt, &rec.CompletedAt); err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write task record: %w", err)
		}
	}
	return rows.Err()
}

func (db *DB) exportDependencies(ctx context.Context, enc *json.Encoder) error {
	rows, err := db.QueryContext(ctx, `
		SELECT d.task_id, t.title, p.name,
		       d.depends_on_task_id, dt.title, dp.name,
		       d.dependency_type, d.lag_hours
		FROM dependencies d
		JOIN tasks t ON d.task_id = t.id
		JOIN projects p ON t.project_id = p.id
		JOIN tasks dt ON d.depends_on_task_id = dt.id
		JOIN projects dp ON dt.project_id = dp.id
		ORDER BY p.name ASC, t.title ASC, dt.title ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := snapshotDependency{RecordType: "dependency"}
		if err := rows.Scan(&rec.TaskID, &rec.TaskTitle, &rec.TaskProjectName,
			&rec.DependsOnTaskID, &rec.DependsOnTaskTitle, &rec.DependsOnTaskProjectName,
			&rec.DependencyType, &rec.LagHours); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write dependency record: %w", err)
		}
	}
	return rows.Err()
}

// ImportSnapshot reads a JSONL snapshot and reconciles it into the
// database by name inside one transaction. Snapshot files are editable by
// hand, so the merged edge set is checked for cycles before commit.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Map to translate snapshot task IDs to local IDs
	taskSnapshotIDToLocalID := make(map[string]string)

	// Maps to look up existing records by name
	projectNameMap := make(map[string]string)
	taskNameMap := make(map[string]string)

	// Load existing projects
	err = func() error {
		rows, err := tx.QueryContext(ctx, "SELECT id, name FROM projects")
		if err != nil {
			return fmt.Errorf("failed to query projects: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			projectNameMap[name] = id
		}
		return rows.Err()
	}()
	if err != nil {
		return err
	}

	// Load existing tasks
	err = func() error {
		rows, err := tx.QueryContext(ctx, "SELECT t.id, t.title, p.name FROM tasks t JOIN projects p ON t.project_id = p.id")
		if err != nil {
			return fmt.Errorf("failed to query tasks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, title, projectName string
			if err := rows.Scan(&id, &title, &projectName); err != nil {
				return err
			}
			taskNameMap[projectName+"/"+title] = id
		}
		return rows.Err()
	}()
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var base struct {
			RecordType string `json:"record_type"`
		}
		if err := json.Unmarshal(line, &base); err != nil {
			return fmt.Errorf("failed to unmarshal base record: %w", err)
		}

		switch base.RecordType {
		case "meta":
			// Skip meta
		case "project":
			var p snapshotProject
			if err := json.Unmarshal(line, &p); err != nil {
				return fmt.Errorf("failed to unmarshal project: %w", err)
			}

			localID, exists := projectNameMap[p.Name]
			if exists {
				_, err = tx.ExecContext(ctx, `
					UPDATE projects
					SET description = ?, created_at = ?, updated_at = ?
					WHERE id = ?`,
					p.Description, p.CreatedAt, p.UpdatedAt, localID)
			} else {
				if p.ID == "" {
					p.ID = uuid.New().String()
				}
				localID = p.ID
				_, err = tx.ExecContext(ctx, `
					INSERT INTO projects (id, name, description, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?)`,
					p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
			}
			if err != nil {
				return fmt.Errorf("failed to sync project %s: %w", p.Name, err)
			}
			projectNameMap[p.Name] = localID

		case "task":
			var t snapshotTask
			if err := json.Unmarshal(line, &t); err != nil {
				return fmt.Errorf("failed to unmarshal task: %w", err)
			}

			projectID, ok := projectNameMap[t.ProjectName]
			if !ok {
				return fmt.Errorf("project not found for task %s: %s", t.Title, t.ProjectName)
			}
			if !t.Status.Valid() {
				return fmt.Errorf("invalid status %q for task %s", t.Status, t.Title)
			}

			localID, exists := taskNameMap[t.ProjectName+"/"+t.Title]
			if exists {
				_, err = tx.ExecContext(ctx, `
					UPDATE tasks SET
						project_id = ?, description = ?, priority = ?, status = ?,
						created_at = ?, updated_at = ?, started_at = ?, completed_at = ?
					WHERE id = ?`,
					projectID, t.Description, t.Priority, t.Status,
					t.CreatedAt, t.UpdatedAt, t.StartedAt, t.CompletedAt, localID)
			} else {
				if t.ID == "" {
					t.ID = uuid.New().String()
				}
				localID = t.ID
				_, err = tx.ExecContext(ctx, `
					INSERT INTO tasks (
						id, project_id, title, description, priority, status,
						created_at, updated_at, started_at, completed_at
					) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					t.ID, projectID, t.Title, t.Description, t.Priority, t.Status,
					t.CreatedAt, t.UpdatedAt, t.StartedAt, t.CompletedAt)
			}
			if err != nil {
				return fmt.Errorf("failed to sync task %s: %w", t.Title, err)
			}
			if t.ID != "" {
				taskSnapshotIDToLocalID[t.ID] = localID
			}
			taskNameMap[t.ProjectName+"/"+t.Title] = localID

		case "dependency":
			var d snapshotDependency
			if err := json.Unmarshal(line, &d); err != nil {
				return fmt.Errorf("failed to unmarshal dependency: %w", err)
			}

			localTaskID, ok := taskSnapshotIDToLocalID[d.TaskID]
			if !ok {
				localTaskID, ok = taskNameMap[d.TaskProjectName+"/"+d.TaskTitle]
			}
			if !ok {
				return fmt.Errorf("task not found for dependency: %s/%s", d.TaskProjectName, d.TaskTitle)
			}

			localDependsOnID, ok := taskSnapshotIDToLocalID[d.DependsOnTaskID]
			if !ok {
				localDependsOnID, ok = taskNameMap[d.DependsOnTaskProjectName+"/"+d.DependsOnTaskTitle]
			}
			if !ok {
				return fmt.Errorf("prerequisite task not found for dependency: %s/%s", d.DependsOnTaskProjectName, d.DependsOnTaskTitle)
			}

			if localTaskID == localDependsOnID {
				return fmt.Errorf("snapshot dependency %s/%s depends on itself", d.TaskProjectName, d.TaskTitle)
			}

			depType := d.DependencyType
			if depType == "" {
				depType = models.DepFinishToStart
			}

			_, err = tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO dependencies (task_id, depends_on_task_id, dependency_type, lag_hours)
				VALUES (?, ?, ?, ?)`,
				localTaskID, localDependsOnID, depType, d.LagHours)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", d.TaskTitle, d.DependsOnTaskTitle, err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	// Snapshots can be edited by hand; prove the merged edge set is still
	// acyclic before committing anything.
	edges, err := listAllDependencies(ctx, tx)
	if err != nil {
		return err
	}
	if cycle := graph.FindCycle(edges); cycle != nil {
		return fmt.Errorf("snapshot contains a dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}
