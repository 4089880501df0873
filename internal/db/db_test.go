package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/callboard/taskgraph/pkg/models"
)

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var mode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("Expected journal_mode wal, got %s", mode)
	}

	var fk int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("Expected foreign_keys enabled (1), got %d", fk)
	}
}

func TestMigrate(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	schema := `
	CREATE TABLE test (
		id INTEGER PRIMARY KEY,
		name TEXT
	);
	`
	ctx := context.Background()
	if err := db.Migrate(ctx, schema); err != nil {
		t.Fatalf("Migration failed: %v", err)
	}

	_, err = db.Exec("INSERT INTO test (name) VALUES (?)", "foo")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	var name string
	err = db.QueryRow("SELECT name FROM test WHERE id = 1").Scan(&name)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if name != "foo" {
		t.Errorf("Expected foo, got %s", name)
	}
}

func TestInit(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for _, table := range []string{"projects", "tasks", "dependencies", "events"} {
		if _, err := db.Exec("SELECT 1 FROM " + table + " LIMIT 1"); err != nil {
			t.Fatalf("Table %s does not exist or query failed: %v", table, err)
		}
	}

	if _, err := db.Exec("SELECT 1 FROM v_ready_tasks LIMIT 1"); err != nil {
		t.Fatalf("v_ready_tasks view does not exist: %v", err)
	}
}

func TestOnChangeHook(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	calls := 0
	db.SetOnChange(func(ctx context.Context) { calls++ })

	p := &models.Project{Name: "hooked"}
	if err := db.CreateProject(ctx, p); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 hook call after create, got %d", calls)
	}

	db.DisableOnChange()
	if err := db.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("Failed to delete project: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected hook to stay at 1 while disabled, got %d", calls)
	}

	db.EnableOnChange()
	p2 := &models.Project{Name: "hooked-again"}
	if err := db.CreateProject(ctx, p2); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 hook calls after re-enable, got %d", calls)
	}
}
