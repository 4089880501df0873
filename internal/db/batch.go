package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/callboard/taskgraph/internal/graph"
)

// CommitBatch applies every staged item for a session in one transaction.
// Staged projects and tasks are created first so staged dependencies can
// refer to them by name. Dependencies are prechecked in memory against the
// combined edge set before any edge row is written, then inserted through
// the same guard stack as direct creation.
func (db *DB) CommitBatch(ctx context.Context, sessionID string) error {
	items := db.Staging.GetAndClear(sessionID)
	if items == nil {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	projectIDs := make(map[string]string)
	taskIDs := make(map[string]string)

	// 1. Projects
	for _, p := range items.Projects {
		if err := db.createProject(ctx, tx, p); err != nil {
			return fmt.Errorf("failed to create staged project %s: %w", p.Name, err)
		}
		projectIDs[p.Name] = p.ID
	}

	// 2. Tasks
	for _, t := range items.Tasks {
		// Resolve project ID if it was also staged, otherwise look it up
		if t.ProjectID == "" && t.ProjectName != "" {
			if id, ok := projectIDs[t.ProjectName]; ok {
				t.ProjectID = id
			} else {
				p, err := db.getProjectByName(ctx, tx, t.ProjectName)
				if err != nil {
					return fmt.Errorf("failed to resolve project %s for task %s: %w", t.ProjectName, t.Title, err)
				}
				if p == nil {
					return fmt.Errorf("project %s not found for task %s", t.ProjectName, t.Title)
				}
				t.ProjectID = p.ID
			}
		}

		if err := db.createTask(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to create staged task %s: %w", t.Title, err)
		}
		taskIDs[fmt.Sprintf("%s:%s", t.ProjectName, t.Title)] = t.ID
	}

	// 3. Resolve staged dependency endpoints
	for _, d := range items.Dependencies {
		if d.TaskID == "" {
			key := fmt.Sprintf("%s:%s", d.ProjectName, d.TaskTitle)
			if id, ok := taskIDs[key]; ok {
				d.TaskID = id
			} else {
				id, err := db.resolveTaskIDTx(ctx, tx, d.ProjectName, d.TaskTitle)
				if err != nil {
					return fmt.Errorf("failed to resolve task %s for dependency: %w", key, err)
				}
				d.TaskID = id
			}
		}

		if d.DependsOnTaskID == "" {
			key := fmt.Sprintf("%s:%s", d.DependsOnProjectName, d.DependsOnTaskTitle)
			if id, ok := taskIDs[key]; ok {
				d.DependsOnTaskID = id
			} else {
				id, err := db.resolveTaskIDTx(ctx, tx, d.DependsOnProjectName, d.DependsOnTaskTitle)
				if err != nil {
					return fmt.Errorf("failed to resolve depends_on task %s for dependency: %w", key, err)
				}
				d.DependsOnTaskID = id
			}
		}
	}

	// 4. Precheck the whole staged edge set against existing edges so a bad
	// batch fails with an error naming the staged pair, before any edge row
	// is written.
	edges, err := listAllDependencies(ctx, tx)
	if err != nil {
		return err
	}
	for _, d := range items.Dependencies {
		if cyc, path := graph.WouldCycle(edges, d.TaskID, d.DependsOnTaskID); cyc {
			return fmt.Errorf("staged dependency %s:%s -> %s:%s would create a cycle: %s",
				d.ProjectName, d.TaskTitle, d.DependsOnProjectName, d.DependsOnTaskTitle,
				strings.Join(path, " -> "))
		}
		edges = append(edges, d)
	}

	// 5. Insert through the full guard stack
	for _, d := range items.Dependencies {
		if err := db.createDependency(ctx, tx, d); err != nil {
			return fmt.Errorf("failed to create staged dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) resolveTaskIDTx(ctx context.Context, exec executor, projectName, taskTitle string) (string, error) {
	p, err := db.getProjectByName(ctx, exec, projectName)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", fmt.Errorf("project %s not found", projectName)
	}
	t, err := db.getTaskByTitle(ctx, exec, taskTitle, p.ID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return "", fmt.Errorf("task %s not found in project %s", taskTitle, projectName)
	}
	return t.ID, nil
}
