package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/callboard/taskgraph/pkg/models"
)

func TestDependencyLifecycle(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "deps")

	task1 := seedTask(t, db, ctx, p.ID, "Task 1")
	task2 := seedTask(t, db, ctx, p.ID, "Task 2")

	dep := &models.Dependency{TaskID: task2.ID, DependsOnTaskID: task1.ID}
	if err := db.CreateDependency(ctx, dep); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}
	if dep.Type != models.DepFinishToStart {
		t.Errorf("Expected default type finish_to_start, got %s", dep.Type)
	}
	if dep.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}

	exists, err := db.DependencyExists(ctx, task2.ID, task1.ID)
	if err != nil {
		t.Fatalf("Failed to check dependency: %v", err)
	}
	if !exists {
		t.Error("Expected dependency to exist")
	}

	// The reverse ordered pair does not exist
	exists, err = db.DependencyExists(ctx, task1.ID, task2.ID)
	if err != nil {
		t.Fatalf("Failed to check reverse dependency: %v", err)
	}
	if exists {
		t.Error("Expected reverse pair to not exist")
	}

	deps, err := db.GetDependencies(ctx, task2.ID)
	if err != nil {
		t.Fatalf("Failed to get dependencies: %v", err)
	}
	if len(deps) != 1 || deps[0].ID != task1.ID {
		t.Fatalf("Expected dependency on Task 1, got %+v", deps)
	}

	dependents, err := db.GetDependents(ctx, task1.ID)
	if err != nil {
		t.Fatalf("Failed to get dependents: %v", err)
	}
	if len(dependents) != 1 || dependents[0].ID != task2.ID {
		t.Fatalf("Expected dependent Task 2, got %+v", dependents)
	}

	if err := db.DeleteDependency(ctx, task2.ID, task1.ID); err != nil {
		t.Fatalf("Failed to delete dependency: %v", err)
	}

	deps, err = db.GetDependencies(ctx, task2.ID)
	if err != nil {
		t.Fatalf("Failed to get dependencies after deletion: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("Expected 0 dependencies after deletion, got %d", len(deps))
	}

	if err := db.DeleteDependency(ctx, task2.ID, task1.ID); err == nil {
		t.Error("Expected error deleting missing dependency, got nil")
	}
}

func TestSelfDependencyRejectedBeforeStorage(t *testing.T) {
	db, ctx := testDB(t)

	// The IDs do not exist, so an error from the task-existence check would
	// prove the guard ran too late. ErrSelfDependency must win.
	dep := &models.Dependency{TaskID: "ghost", DependsOnTaskID: "ghost"}
	err := db.CreateDependency(ctx, dep)
	if !errors.Is(err, ErrSelfDependency) {
		t.Fatalf("Expected ErrSelfDependency, got %v", err)
	}
}

func TestDuplicateDependencyRejected(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "dups")

	task1 := seedTask(t, db, ctx, p.ID, "one")
	task2 := seedTask(t, db, ctx, p.ID, "two")

	dep := &models.Dependency{TaskID: task2.ID, DependsOnTaskID: task1.ID}
	if err := db.CreateDependency(ctx, dep); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}

	again := &models.Dependency{TaskID: task2.ID, DependsOnTaskID: task1.ID, Type: models.DepStartToStart}
	err := db.CreateDependency(ctx, again)
	if !errors.Is(err, ErrDuplicateDependency) {
		t.Fatalf("Expected ErrDuplicateDependency, got %v", err)
	}

	// The original edge is unchanged
	edges, err := db.ListDependencies(ctx, task2.ID)
	if err != nil {
		t.Fatalf("Failed to list dependencies: %v", err)
	}
	if len(edges) != 1 || edges[0].Type != models.DepFinishToStart {
		t.Fatalf("Expected original edge untouched, got %+v", edges)
	}
}

func TestDirectCycleRejected(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "cycle2")

	a := seedTask(t, db, ctx, p.ID, "A")
	b := seedTask(t, db, ctx, p.ID, "B")

	if err := db.CreateDependency(ctx, &models.Dependency{TaskID: a.ID, DependsOnTaskID: b.ID}); err != nil {
		t.Fatalf("Failed to create A -> B: %v", err)
	}

	err := db.CreateDependency(ctx, &models.Dependency{TaskID: b.ID, DependsOnTaskID: a.ID})
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CycleError, got %v", err)
	}
	if cycleErr.TaskID != b.ID || cycleErr.DependsOnTaskID != a.ID {
		t.Errorf("Expected cycle error to name the rejected edge, got %+v", cycleErr)
	}
	if !strings.Contains(cycleErr.Path, a.ID) || !strings.Contains(cycleErr.Path, b.ID) {
		t.Errorf("Expected path to mention both tasks, got %s", cycleErr.Path)
	}
}

func TestTransitiveCycleRejected(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "cycle3")

	a := seedTask(t, db, ctx, p.ID, "A")
	b := seedTask(t, db, ctx, p.ID, "B")
	c := seedTask(t, db, ctx, p.ID, "C")

	// B -> C -> A. Adding A -> B closes a three-task loop that no one-hop
	// check would see.
	if err := db.CreateDependency(ctx, &models.Dependency{TaskID: b.ID, DependsOnTaskID: c.ID}); err != nil {
		t.Fatalf("Failed to create B -> C: %v", err)
	}
	if err := db.CreateDependency(ctx, &models.Dependency{TaskID: c.ID, DependsOnTaskID: a.ID}); err != nil {
		t.Fatalf("Failed to create C -> A: %v", err)
	}

	err := db.CreateDependency(ctx, &models.Dependency{TaskID: a.ID, DependsOnTaskID: b.ID})
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CycleError for transitive cycle, got %v", err)
	}

	// The edge was not written
	exists, err := db.DependencyExists(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("Failed to check dependency: %v", err)
	}
	if exists {
		t.Error("Expected rejected edge to be absent")
	}
}

func TestDependencyOnMissingTask(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "missing")
	real := seedTask(t, db, ctx, p.ID, "real")

	err := db.CreateDependency(ctx, &models.Dependency{TaskID: real.ID, DependsOnTaskID: "ghost"})
	if err == nil {
		t.Fatal("Expected error for dependency on missing task, got nil")
	}
}

func TestInvalidDependencyType(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "types")

	a := seedTask(t, db, ctx, p.ID, "a")
	b := seedTask(t, db, ctx, p.ID, "b")

	err := db.CreateDependency(ctx, &models.Dependency{TaskID: a.ID, DependsOnTaskID: b.ID, Type: "sometime_later"})
	if err == nil {
		t.Fatal("Expected error for invalid dependency type, got nil")
	}
}

func TestListDependenciesForTasks(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "batch-list")

	root := seedTask(t, db, ctx, p.ID, "root")
	var tasks []*models.Task
	for i := 0; i < 150; i++ {
		task := seedTask(t, db, ctx, p.ID, fmt.Sprintf("task-%03d", i))
		if err := db.CreateDependency(ctx, &models.Dependency{TaskID: task.ID, DependsOnTaskID: root.ID}); err != nil {
			t.Fatalf("Failed to create dependency %d: %v", i, err)
		}
		tasks = append(tasks, task)
	}

	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}

	// At the cap every requested edge comes back
	deps, err := db.ListDependenciesForTasks(ctx, ids[:100])
	if err != nil {
		t.Fatalf("Failed to list dependencies at cap: %v", err)
	}
	if len(deps) != 100 {
		t.Errorf("Expected 100 edges, got %d", len(deps))
	}

	// Over the cap the input is truncated to the first 100 IDs
	deps, err = db.ListDependenciesForTasks(ctx, ids)
	if err != nil {
		t.Fatalf("Failed to list dependencies over cap: %v", err)
	}
	if len(deps) != 100 {
		t.Errorf("Expected truncation to 100 edges, got %d", len(deps))
	}

	seen := make(map[string]bool)
	for _, d := range deps {
		seen[d.TaskID] = true
	}
	if !seen[ids[0]] {
		t.Error("Expected an ID inside the first 100 to be present")
	}
	if seen[ids[149]] {
		t.Error("Expected an ID beyond the first 100 to be truncated away")
	}

	deps, err = db.ListDependenciesForTasks(ctx, nil)
	if err != nil {
		t.Fatalf("Failed on empty input: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("Expected no edges for empty input, got %d", len(deps))
	}
}

func TestEdgesTouching(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "touching")

	a := seedTask(t, db, ctx, p.ID, "a")
	b := seedTask(t, db, ctx, p.ID, "b")
	c := seedTask(t, db, ctx, p.ID, "c")

	// a depends on b, c depends on a
	if err := db.CreateDependency(ctx, &models.Dependency{TaskID: a.ID, DependsOnTaskID: b.ID}); err != nil {
		t.Fatalf("Failed to create a -> b: %v", err)
	}
	if err := db.CreateDependency(ctx, &models.Dependency{TaskID: c.ID, DependsOnTaskID: a.ID}); err != nil {
		t.Fatalf("Failed to create c -> a: %v", err)
	}

	edges, err := db.EdgesTouching(ctx, a.ID)
	if err != nil {
		t.Fatalf("Failed to get edges touching a: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("Expected 2 edges touching a, got %d", len(edges))
	}

	edges, err = db.EdgesTouching(ctx, b.ID)
	if err != nil {
		t.Fatalf("Failed to get edges touching b: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("Expected 1 edge touching b, got %d", len(edges))
	}
}

func TestDeleteTaskRemovesEdges(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "edge-cascade")

	a := seedTask(t, db, ctx, p.ID, "a")
	b := seedTask(t, db, ctx, p.ID, "b")

	if err := db.CreateDependency(ctx, &models.Dependency{TaskID: a.ID, DependsOnTaskID: b.ID}); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}

	if err := db.DeleteTask(ctx, b.ID); err != nil {
		t.Fatalf("Failed to delete task: %v", err)
	}

	edges, err := db.ListAllDependencies(ctx)
	if err != nil {
		t.Fatalf("Failed to list dependencies: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("Expected edges removed with the task, got %d", len(edges))
	}
}
