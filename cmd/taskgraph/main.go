package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/callboard/taskgraph/internal/db"
	"github.com/callboard/taskgraph/internal/graph"
	"github.com/callboard/taskgraph/internal/mcp"
	"github.com/callboard/taskgraph/internal/server"
	"github.com/callboard/taskgraph/internal/ui"
	"github.com/callboard/taskgraph/pkg/models"
)

var (
	dbPath       string
	snapshotPath string
)

func main() {
	flag.StringVar(&dbPath, "db-path", ".taskgraph/taskgraph.db", "Path to database file")
	flag.StringVar(&snapshotPath, "snapshot-path", ".taskgraph/snapshot.jsonl", "Path to snapshot file")
	flag.Parse()

	var command string
	var args []string

	if flag.NArg() == 0 {
		selected, err := ui.RunMenu()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error running menu: %v\n", err)
			os.Exit(1)
		}
		if selected == "" {
			os.Exit(0)
		}
		command = selected
		args = []string{}
	} else {
		command = flag.Arg(0)
		args = flag.Args()[1:]
	}

	var err error
	switch command {
	case "init":
		err = runInit(args)
	case "mcp":
		err = runMCP(args)
	case "list-projects":
		err = runListProjects(args)
	case "list-tasks":
		err = runListTasks(args)
	case "ready":
		err = runReady(args)
	case "check":
		err = runCheck(args)
	case "status":
		err = runStatus(args)
	case "web":
		err = runWeb(args)
	case "db":
		err = runDB(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	dataDir := filepath.Join(targetDir, ".taskgraph")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create .taskgraph directory: %w", err)
	}
	fmt.Println("✓ Created .taskgraph/ directory")

	gitignorePath := filepath.Join(dataDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("taskgraph.db*\n"), 0644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Println("✓ Created .taskgraph/.gitignore")

	// Default paths if not overridden by flags
	finalDbPath := dbPath
	if dbPath == ".taskgraph/taskgraph.db" {
		finalDbPath = filepath.Join(dataDir, "taskgraph.db")
	}

	finalSnapshotPath := snapshotPath
	if snapshotPath == ".taskgraph/snapshot.jsonl" {
		finalSnapshotPath = filepath.Join(dataDir, "snapshot.jsonl")
	}

	database, err := db.Open(finalDbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	fmt.Printf("✓ Initialized database at %s\n", finalDbPath)

	// Import an existing snapshot, otherwise seed a default project
	if _, err := os.Stat(finalSnapshotPath); err == nil {
		if err := database.ImportSnapshot(ctx, finalSnapshotPath); err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}
		fmt.Printf("✓ Imported snapshot from %s\n", finalSnapshotPath)
	} else {
		existing, err := database.GetProjectByName(ctx, "general")
		if err != nil {
			return fmt.Errorf("failed to check for existing general project: %w", err)
		}
		if existing == nil {
			project := &models.Project{
				Name:        "general",
				Description: "General tasks",
			}
			if err := database.CreateProject(ctx, project); err != nil {
				return fmt.Errorf("failed to seed general project: %w", err)
			}
			fmt.Println("✓ Seeded default 'general' project")
		}
	}

	fmt.Println("✓ TaskGraph initialized successfully")
	return nil
}

func runMCP(args []string) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return err
	}

	database.EnableAutoSnapshot(snapshotPath)

	s := mcp.NewServer(database)
	return mcp.Serve(s)
}

func runWeb(args []string) error {
	webFlags := flag.NewFlagSet("web", flag.ContinueOnError)
	port := webFlags.String("port", "8000", "Port to listen on")
	if err := webFlags.Parse(args); err != nil {
		return err
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return err
	}

	srv := server.NewServer(database)
	fmt.Printf("Serving on http://localhost:%s\n", *port)
	return srv.Start(fmt.Sprintf(":%s", *port))
}

func runDB(args []string) error {
	if len(args) == 0 {
		fmt.Println("Usage: taskgraph db <command> [arguments]")
		fmt.Println("\nCommands:")
		fmt.Println("  status    Show database status")
		fmt.Println("  export    Export a snapshot")
		fmt.Println("  import    Import a snapshot")
		return nil
	}

	command := args[0]
	subArgs := args[1:]

	switch command {
	case "status":
		return runStatus(subArgs)
	case "export":
		return runExport(subArgs)
	case "import":
		return runImport(subArgs)
	default:
		return fmt.Errorf("unknown db command: %s", command)
	}
}

func runExport(args []string) error {
	path := snapshotPath
	if len(args) > 0 {
		path = args[0]
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.ExportSnapshot(context.Background(), path); err != nil {
		return err
	}
	fmt.Printf("✓ Exported snapshot to %s\n", path)
	return nil
}

func runImport(args []string) error {
	path := snapshotPath
	if len(args) > 0 {
		path = args[0]
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return err
	}

	if err := database.ImportSnapshot(ctx, path); err != nil {
		return err
	}
	fmt.Printf("✓ Imported snapshot from %s\n", path)
	return nil
}

func runListProjects(args []string) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	projects, err := database.ListProjects(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %-30s\n", "NAME", "DESCRIPTION")
	fmt.Println("------------------------------------------------------------")
	for _, p := range projects {
		fmt.Printf("%-20s %-30s\n", p.Name, p.Description)
	}
	return nil
}

func runListTasks(args []string) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	taskFlags := flag.NewFlagSet("list-tasks", flag.ContinueOnError)
	statusFilter := taskFlags.String("status", "", "Filter by status (backlog, todo, in_progress, in_review, blocked, done)")
	projectFilter := taskFlags.String("project", "", "Filter by project name")
	if err := taskFlags.Parse(args); err != nil {
		return err
	}

	var status *models.TaskStatus
	if *statusFilter != "" {
		s := models.TaskStatus(*statusFilter)
		status = &s
	}

	var projectName *string
	if *projectFilter != "" {
		projectName = projectFilter
	}

	ctx := context.Background()
	tasks, err := database.ListTasks(ctx, status, projectName)
	if err != nil {
		return err
	}

	fmt.Printf("%-30s %-15s %-10s %-15s\n", "TITLE", "PROJECT", "PRIORITY", "STATUS")
	fmt.Println("----------------------------------------------------------------------")
	for _, t := range tasks {
		fmt.Printf("%-30s %-15s %-10d %-15s\n", t.Title, t.ProjectName, t.Priority, t.Status)
	}
	return nil
}

func runReady(args []string) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	tasks, err := database.ReadyTasks(ctx)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks are ready")
		return nil
	}

	fmt.Printf("%-30s %-15s %-10s\n", "TITLE", "PROJECT", "PRIORITY")
	fmt.Println("--------------------------------------------------------")
	for _, t := range tasks {
		fmt.Printf("%-30s %-15s %-10d\n", t.Title, t.ProjectName, t.Priority)
	}
	return nil
}

// runCheck verifies the stored edge set is still acyclic. The write path
// guards every insert, so a finding here means the database was modified
// outside the store.
func runCheck(args []string) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	edges, err := database.ListAllDependencies(ctx)
	if err != nil {
		return err
	}

	if cycle := graph.FindCycle(edges); cycle != nil {
		return fmt.Errorf("dependency cycle found: %s", strings.Join(cycle, " -> "))
	}

	fmt.Printf("✓ %d dependencies checked, no cycles\n", len(edges))
	return nil
}

func runStatus(args []string) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	projects, err := database.ListProjects(ctx)
	if err != nil {
		return err
	}

	tasks, err := database.ListTasks(ctx, nil, nil)
	if err != nil {
		return err
	}

	ready, err := database.ReadyTasks(ctx)
	if err != nil {
		return err
	}

	fmt.Println("TaskGraph Status")
	fmt.Println("================")
	fmt.Printf("Projects:    %d\n", len(projects))
	fmt.Printf("Total Tasks: %d\n", len(tasks))
	fmt.Printf("Ready Tasks: %d\n", len(ready))

	statusCounts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		statusCounts[t.Status]++
	}

	fmt.Println("\nTask Breakdown:")
	fmt.Printf("  Backlog:     %d\n", statusCounts[models.TaskStatusBacklog])
	fmt.Printf("  Todo:        %d\n", statusCounts[models.TaskStatusTodo])
	fmt.Printf("  In Progress: %d\n", statusCounts[models.TaskStatusInProgress])
	fmt.Printf("  In Review:   %d\n", statusCounts[models.TaskStatusInReview])
	fmt.Printf("  Blocked:     %d\n", statusCounts[models.TaskStatusBlocked])
	fmt.Printf("  Done:        %d\n", statusCounts[models.TaskStatusDone])

	if len(ready) > 0 {
		fmt.Println("\nNext Ready Tasks:")
		for i, t := range ready {
			if i >= 5 {
				break
			}
			fmt.Printf("  - %s (priority: %d)\n", t.Title, t.Priority)
		}
	}

	return nil
}
