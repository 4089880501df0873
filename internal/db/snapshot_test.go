package db

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/callboard/taskgraph/pkg/models"
)

func TestSnapshotRoundtrip(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "snap")

	build := seedTask(t, db, ctx, p.ID, "build")
	ship := seedTask(t, db, ctx, p.ID, "ship")
	if err := db.CreateDependency(ctx, &models.Dependency{
		TaskID: ship.ID, DependsOnTaskID: build.ID, Type: models.DepStartToStart, LagHours: 2,
	}); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}
	if _, err := db.RequestStatusTransition(ctx, build.ID, models.TaskStatusDone); err != nil {
		t.Fatalf("Failed to finish build: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	if err := db.ExportSnapshot(ctx, path); err != nil {
		t.Fatalf("Failed to export snapshot: %v", err)
	}

	// Import into a fresh database
	db2, ctx2 := testDB(t)
	if err := db2.ImportSnapshot(ctx2, path); err != nil {
		t.Fatalf("Failed to import snapshot: %v", err)
	}

	p2, err := db2.GetProjectByName(ctx2, "snap")
	if err != nil {
		t.Fatalf("Failed to get project: %v", err)
	}
	if p2 == nil {
		t.Fatal("Expected project to survive roundtrip")
	}

	build2, err := db2.GetTaskByTitle(ctx2, "build", p2.ID)
	if err != nil {
		t.Fatalf("Failed to get build: %v", err)
	}
	if build2 == nil || build2.Status != models.TaskStatusDone {
		t.Fatalf("Expected build done after roundtrip, got %+v", build2)
	}

	ship2, err := db2.GetTaskByTitle(ctx2, "ship", p2.ID)
	if err != nil {
		t.Fatalf("Failed to get ship: %v", err)
	}

	edges, err := db2.ListDependencies(ctx2, ship2.ID)
	if err != nil {
		t.Fatalf("Failed to list dependencies: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("Expected 1 edge after roundtrip, got %d", len(edges))
	}
	if edges[0].Type != models.DepStartToStart || edges[0].LagHours != 2 {
		t.Errorf("Expected type and lag to survive roundtrip, got %+v", edges[0])
	}
}

func TestSnapshotImportIsIdempotent(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "idem")
	a := seedTask(t, db, ctx, p.ID, "a")
	b := seedTask(t, db, ctx, p.ID, "b")
	if err := db.CreateDependency(ctx, &models.Dependency{TaskID: b.ID, DependsOnTaskID: a.ID}); err != nil {
		t.Fatalf("Failed to create dependency: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	if err := db.ExportSnapshot(ctx, path); err != nil {
		t.Fatalf("Failed to export snapshot: %v", err)
	}

	// Importing into the same database twice does not duplicate anything
	if err := db.ImportSnapshot(ctx, path); err != nil {
		t.Fatalf("First import failed: %v", err)
	}
	if err := db.ImportSnapshot(ctx, path); err != nil {
		t.Fatalf("Second import failed: %v", err)
	}

	tasks, err := db.ListTasks(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("Expected 2 tasks after re-import, got %d", len(tasks))
	}

	edges, err := db.ListAllDependencies(ctx)
	if err != nil {
		t.Fatalf("Failed to list dependencies: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("Expected 1 edge after re-import, got %d", len(edges))
	}
}

func TestSnapshotImportRejectsCycle(t *testing.T) {
	db, ctx := testDB(t)

	// A hand-written snapshot with a two-task cycle
	lines := []string{
		`{"record_type":"meta","version":1,"exported_at":"2026-01-01T00:00:00Z"}`,
		`{"record_type":"project","id":"p1","name":"loop","description":"","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`,
		`{"record_type":"task","id":"t1","project_name":"loop","title":"a","description":"","priority":0,"status":"backlog","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z","started_at":null,"completed_at":null}`,
		`{"record_type":"task","id":"t2","project_name":"loop","title":"b","description":"","priority":0,"status":"backlog","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z","started_at":null,"completed_at":null}`,
		`{"record_type":"dependency","task_id":"t1","task_title":"a","task_project_name":"loop","depends_on_task_id":"t2","depends_on_task_title":"b","depends_on_task_project_name":"loop","dependency_type":"finish_to_start","lag_hours":0}`,
		`{"record_type":"dependency","task_id":"t2","task_title":"b","task_project_name":"loop","depends_on_task_id":"t1","depends_on_task_title":"a","depends_on_task_project_name":"loop","dependency_type":"finish_to_start","lag_hours":0}`,
	}
	path := filepath.Join(t.TempDir(), "cyclic.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}

	err := db.ImportSnapshot(ctx, path)
	if err == nil {
		t.Fatal("Expected cyclic snapshot to be rejected")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("Expected a cycle error, got %v", err)
	}

	// The rejected import wrote nothing
	projects, listErr := db.ListProjects(ctx)
	if listErr != nil {
		t.Fatalf("Failed to list projects: %v", listErr)
	}
	if len(projects) != 0 {
		t.Errorf("Expected no projects after rejected import, got %d", len(projects))
	}
}

func TestSnapshotExportFormat(t *testing.T) {
	db, ctx := testDB(t)
	p := seedProject(t, db, ctx, "format")
	seedTask(t, db, ctx, p.ID, "only")

	path := filepath.Join(t.TempDir(), "snapshot.jsonl")
	if err := db.ExportSnapshot(ctx, path); err != nil {
		t.Fatalf("Failed to export snapshot: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines (meta, project, task), got %d", len(lines))
	}

	var meta struct {
		RecordType string `json:"record_type"`
		Version    int    `json:"version"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &meta); err != nil {
		t.Fatalf("Failed to parse meta line: %v", err)
	}
	if meta.RecordType != "meta" || meta.Version != 1 {
		t.Errorf("Expected meta v1 first, got %+v", meta)
	}
}

func TestEnableAutoSnapshot(t *testing.T) {
	db, ctx := testDB(t)
	path := filepath.Join(t.TempDir(), "auto.jsonl")

	db.EnableAutoSnapshot(path)

	if err := db.CreateProject(ctx, &models.Project{Name: "auto"}); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected snapshot to be written after change: %v", err)
	}
	if !strings.Contains(string(data), `"auto"`) {
		t.Error("Expected snapshot to contain the new project")
	}
}
