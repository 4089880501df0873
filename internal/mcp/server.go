package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/callboard/taskgraph/internal/db"
	"github.com/callboard/taskgraph/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server.
func NewServer(database *db.DB) *server.MCPServer {
	s := server.NewMCPServer("TaskGraph", "0.1.0")

	// Project Management
	s.AddTool(mcp.NewTool("create_project",
		mcp.WithDescription("Create a new project."),
		mcp.WithString("name", mcp.Description("Project name (unique)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Project description")),
	), createProjectHandler(database))

	s.AddTool(mcp.NewTool("update_project",
		mcp.WithDescription("Update an existing project."),
		mcp.WithString("name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("new_name", mcp.Description("New name")),
		mcp.WithString("description", mcp.Description("New description")),
	), updateProjectHandler(database))

	s.AddTool(mcp.NewTool("delete_project",
		mcp.WithDescription("Delete a project (cascades to tasks and their dependencies)."),
		mcp.WithString("name", mcp.Description("Project name"), mcp.Required()),
	), deleteProjectHandler(database))

	s.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List all projects."),
	), listProjectsHandler(database))

	s.AddTool(mcp.NewTool("get_project",
		mcp.WithDescription("Get a single project by name."),
		mcp.WithString("name", mcp.Description("Project name"), mcp.Required()),
	), getProjectHandler(database))

	// Task Management
	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a new task in a project."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title (unique within the project)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithNumber("priority", mcp.Description("Priority (higher sorts first)")),
		mcp.WithString("status", mcp.Description("Initial status (defaults to backlog)")),
	), createTaskHandler(database))

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update a task's title, description or priority. Status changes go through request_transition."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("new_title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithNumber("priority", mcp.Description("New priority")),
	), updateTaskHandler(database))

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task. Dependency edges touching it are removed as well."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), deleteTaskHandler(database))

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("project_name", mcp.Description("Filter by project name")),
		mcp.WithString("status", mcp.Description("Filter by status")),
	), listTasksHandler(database))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task by project and title."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), getTaskHandler(database))

	// Status Transitions
	s.AddTool(mcp.NewTool("request_transition",
		mcp.WithDescription("Request a status change for a task. Moves into in_progress or done are refused while any prerequisite is unfinished; the refusal lists the blocking tasks."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("status", mcp.Description("Target status (backlog|todo|in_progress|in_review|blocked|done)"), mcp.Required()),
	), requestTransitionHandler(database))

	s.AddTool(mcp.NewTool("start_task",
		mcp.WithDescription("Move a task to in_progress. Refused while any prerequisite is unfinished."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), transitionShortcutHandler(database, models.TaskStatusInProgress))

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Move a task to done. Refused while any prerequisite is unfinished."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), transitionShortcutHandler(database, models.TaskStatusDone))

	// Dependency Management
	s.AddTool(mcp.NewTool("add_dependency",
		mcp.WithDescription("Add a dependency between two tasks. Rejected if it would duplicate an existing edge or create a circular reference."),
		mcp.WithString("project_name", mcp.Description("Project name of the dependent task"), mcp.Required()),
		mcp.WithString("task_title", mcp.Description("Title of the dependent task"), mcp.Required()),
		mcp.WithString("depends_on_task_title", mcp.Description("Title of the prerequisite task"), mcp.Required()),
		mcp.WithString("depends_on_project_name", mcp.Description("Project name of the prerequisite task (defaults to project_name)")),
		mcp.WithString("dependency_type", mcp.Description("finish_to_start|start_to_start|finish_to_finish|start_to_finish (defaults to finish_to_start)")),
		mcp.WithNumber("lag_hours", mcp.Description("Scheduling lag in hours (advisory)")),
	), addDependencyHandler(database))

	s.AddTool(mcp.NewTool("remove_dependency",
		mcp.WithDescription("Remove a dependency edge."),
		mcp.WithString("project_name", mcp.Description("Project name of the dependent task"), mcp.Required()),
		mcp.WithString("task_title", mcp.Description("Title of the dependent task"), mcp.Required()),
		mcp.WithString("depends_on_task_title", mcp.Description("Title of the prerequisite task"), mcp.Required()),
		mcp.WithString("depends_on_project_name", mcp.Description("Project name of the prerequisite task (defaults to project_name)")),
	), removeDependencyHandler(database))

	s.AddTool(mcp.NewTool("get_task_dependencies",
		mcp.WithDescription("Get all tasks that a task depends on."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), getTaskDependenciesHandler(database))

	s.AddTool(mcp.NewTool("get_task_dependents",
		mcp.WithDescription("Get all tasks that depend on a task."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), getTaskDependentsHandler(database))

	s.AddTool(mcp.NewTool("get_task_links",
		mcp.WithDescription("Get every dependency edge touching a task, in either direction."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), getTaskLinksHandler(database))

	// Planning (staged changes)
	s.AddTool(mcp.NewTool("plan_project",
		mcp.WithDescription("Stage a new project for a planning session. Staged changes take effect on commit_plan."),
		mcp.WithString("name", mcp.Description("Project name (unique)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Project description")),
		mcp.WithString("session_id", mcp.Description("Planning session ID (defaults to 'default').")),
	), planProjectHandler(database))

	s.AddTool(mcp.NewTool("plan_task",
		mcp.WithDescription("Stage a new task for a planning session. The project may itself be staged in the same session."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithNumber("priority", mcp.Description("Priority")),
		mcp.WithString("session_id", mcp.Description("Planning session ID (defaults to 'default').")),
	), planTaskHandler(database))

	s.AddTool(mcp.NewTool("plan_dependency",
		mcp.WithDescription("Stage a dependency for a planning session. Both endpoints may be staged tasks in the same session."),
		mcp.WithString("project_name", mcp.Description("Project name of the dependent task"), mcp.Required()),
		mcp.WithString("task_title", mcp.Description("Title of the dependent task"), mcp.Required()),
		mcp.WithString("depends_on_task_title", mcp.Description("Title of the prerequisite task"), mcp.Required()),
		mcp.WithString("depends_on_project_name", mcp.Description("Project name of the prerequisite task (defaults to project_name)")),
		mcp.WithString("dependency_type", mcp.Description("Dependency type (defaults to finish_to_start)")),
		mcp.WithNumber("lag_hours", mcp.Description("Scheduling lag in hours (advisory)")),
		mcp.WithString("session_id", mcp.Description("Planning session ID (defaults to 'default').")),
	), planDependencyHandler(database))

	s.AddTool(mcp.NewTool("commit_plan",
		mcp.WithDescription("Commit all staged changes for a session in one transaction. A plan that would create a cycle is rejected whole; nothing is written."),
		mcp.WithString("session_id", mcp.Description("Planning session ID (defaults to 'default').")),
	), commitPlanHandler(database))

	s.AddTool(mcp.NewTool("list_plan",
		mcp.WithDescription("List all staged changes for a session. Use this to review a plan before committing."),
		mcp.WithString("session_id", mcp.Description("Planning session ID (defaults to 'default').")),
	), listPlanHandler(database))

	// Graph Queries
	s.AddTool(mcp.NewTool("get_ready_tasks",
		mcp.WithDescription("Get tasks that are ready to work on: in backlog or todo with every prerequisite done."),
	), getReadyTasksHandler(database))

	s.AddTool(mcp.NewTool("claim_next_task",
		mcp.WithDescription("Atomically claim the highest-priority ready task by moving it to in_progress."),
	), claimNextTaskHandler(database))

	s.AddTool(mcp.NewTool("get_graph_json",
		mcp.WithDescription("Get the complete task graph as JSON."),
	), getGraphJSONHandler(database))

	s.AddTool(mcp.NewTool("get_task_events",
		mcp.WithDescription("Get the audit trail for a task, oldest first."),
		mcp.WithString("project_name", mcp.Description("Project name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), getTaskEventsHandler(database))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func createProjectHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")
		description := mcp.ParseString(request, "description", "")

		p := &models.Project{Name: name, Description: description}
		if err := database.CreateProject(ctx, p); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(p)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func updateProjectHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		p, err := database.GetProjectByName(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if p == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Project with name '%s' not found", name)), nil
		}

		args, _ := request.Params.Arguments.(map[string]any)
		if newName, ok := args["new_name"].(string); ok {
			p.Name = newName
		}
		if description, ok := args["description"].(string); ok {
			p.Description = description
		}

		if err := database.UpdateProject(ctx, p); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText("Project updated successfully"), nil
	}
}

func deleteProjectHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		p, err := database.GetProjectByName(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if p == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Project with name '%s' not found", name)), nil
		}

		if err := database.DeleteProject(ctx, p.ID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText("Project deleted successfully"), nil
	}
}

func listProjectsHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := database.ListProjects(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"projects": projects})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getProjectHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")

		p, err := database.GetProjectByName(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if p == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Project with name '%s' not found", name)), nil
		}

		data, err := json.Marshal(p)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func createTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")
		description := mcp.ParseString(request, "description", "")
		priority := mcp.ParseInt(request, "priority", 0)
		status := mcp.ParseString(request, "status", string(models.TaskStatusBacklog))

		p, err := database.GetProjectByName(ctx, projectName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if p == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Project with name '%s' not found", projectName)), nil
		}

		t := &models.Task{
			ProjectID:   p.ID,
			Title:       title,
			Description: description,
			Priority:    priority,
			Status:      models.TaskStatus(status),
		}
		if err := database.CreateTask(ctx, t); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func updateTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		args, _ := request.Params.Arguments.(map[string]any)
		if newTitle, ok := args["new_title"].(string); ok {
			t.Title = newTitle
		}
		if description, ok := args["description"].(string); ok {
			t.Description = description
		}
		if priority, ok := args["priority"].(float64); ok {
			t.Priority = int(priority)
		}

		if err := database.UpdateTask(ctx, t); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText("Task updated successfully"), nil
	}
}

func deleteTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := database.DeleteTask(ctx, t.ID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText("Task deleted successfully"), nil
	}
}

func listTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		var status *models.TaskStatus
		if s, ok := args["status"].(string); ok {
			ts := models.TaskStatus(s)
			status = &ts
		}

		var projectName *string
		if pn, ok := args["project_name"].(string); ok {
			projectName = &pn
		}

		tasks, err := database.ListTasks(ctx, status, projectName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"tasks": tasks})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func requestTransitionHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")
		status := mcp.ParseString(request, "status", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return applyTransition(ctx, database, t.ID, models.TaskStatus(status))
	}
}

func transitionShortcutHandler(database *db.DB, target models.TaskStatus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return applyTransition(ctx, database, t.ID, target)
	}
}

func applyTransition(ctx context.Context, database *db.DB, taskID string, target models.TaskStatus) (*mcp.CallToolResult, error) {
	result, err := database.RequestStatusTransition(ctx, taskID, target)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !result.Allowed {
		names := make([]string, len(result.Blocking))
		for i, b := range result.Blocking {
			names[i] = fmt.Sprintf("'%s' (%s)", b.Title, b.Status)
		}
		return mcp.NewToolResultError(fmt.Sprintf(
			"Cannot move task to %s: waiting on %s", target, strings.Join(names, ", "))), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func addDependencyHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		taskTitle := mcp.ParseString(request, "task_title", "")
		dependsOnTaskTitle := mcp.ParseString(request, "depends_on_task_title", "")
		dependsOnProjectName := mcp.ParseString(request, "depends_on_project_name", projectName)
		depType := mcp.ParseString(request, "dependency_type", string(models.DepFinishToStart))
		lagHours := mcp.ParseFloat64(request, "lag_hours", 0)

		t, err := resolveTask(ctx, database, projectName, taskTitle)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		dependsOn, err := resolveTask(ctx, database, dependsOnProjectName, dependsOnTaskTitle)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		dep := &models.Dependency{
			TaskID:          t.ID,
			DependsOnTaskID: dependsOn.ID,
			Type:            models.DependencyType(depType),
			LagHours:        lagHours,
		}
		if err := database.CreateDependency(ctx, dep); err != nil {
			return mcp.NewToolResultError(dependencyErrorMessage(err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Dependency added: '%s' now depends on '%s'", taskTitle, dependsOnTaskTitle)), nil
	}
}

// dependencyErrorMessage maps guard failures to messages a planning agent
// can act on without parsing task IDs.
func dependencyErrorMessage(err error) string {
	var cycleErr *db.CycleError
	switch {
	case errors.Is(err, db.ErrSelfDependency):
		return "A task cannot depend on itself"
	case errors.Is(err, db.ErrDuplicateDependency):
		return "This dependency already exists"
	case errors.As(err, &cycleErr):
		return fmt.Sprintf("This dependency would create a circular reference: %s", cycleErr.Path)
	}
	return err.Error()
}

func removeDependencyHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		taskTitle := mcp.ParseString(request, "task_title", "")
		dependsOnTaskTitle := mcp.ParseString(request, "depends_on_task_title", "")
		dependsOnProjectName := mcp.ParseString(request, "depends_on_project_name", projectName)

		t, err := resolveTask(ctx, database, projectName, taskTitle)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		dependsOn, err := resolveTask(ctx, database, dependsOnProjectName, dependsOnTaskTitle)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := database.DeleteDependency(ctx, t.ID, dependsOn.ID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText("Dependency removed successfully"), nil
	}
}

func getTaskDependenciesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		deps, err := database.GetDependencies(ctx, t.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"dependencies": deps})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getTaskDependentsHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		dependents, err := database.GetDependents(ctx, t.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"dependents": dependents})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getTaskLinksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		edges, err := database.EdgesTouching(ctx, t.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"edges": edges})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func planProjectHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")
		description := mcp.ParseString(request, "description", "")
		sessionID := mcp.ParseString(request, "session_id", "default")

		database.Staging.AddProject(sessionID, &models.Project{
			Name:        name,
			Description: description,
		})
		return mcp.NewToolResultText(fmt.Sprintf("Project '%s' staged for session '%s'. Propose another or call 'commit_plan' to apply.", name, sessionID)), nil
	}
}

func planTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")
		description := mcp.ParseString(request, "description", "")
		priority := mcp.ParseInt(request, "priority", 0)
		sessionID := mcp.ParseString(request, "session_id", "default")

		database.Staging.AddTask(sessionID, &models.Task{
			ProjectName: projectName, // Store name for staging resolution
			Title:       title,
			Description: description,
			Priority:    priority,
			Status:      models.TaskStatusBacklog,
		})
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' staged for session '%s'. Propose another or call 'commit_plan' to apply.", title, sessionID)), nil
	}
}

func planDependencyHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		taskTitle := mcp.ParseString(request, "task_title", "")
		dependsOnTaskTitle := mcp.ParseString(request, "depends_on_task_title", "")
		dependsOnProjectName := mcp.ParseString(request, "depends_on_project_name", projectName)
		depType := mcp.ParseString(request, "dependency_type", string(models.DepFinishToStart))
		lagHours := mcp.ParseFloat64(request, "lag_hours", 0)
		sessionID := mcp.ParseString(request, "session_id", "default")

		database.Staging.AddDependency(sessionID, &models.Dependency{
			TaskTitle:            taskTitle,
			ProjectName:          projectName,
			DependsOnTaskTitle:   dependsOnTaskTitle,
			DependsOnProjectName: dependsOnProjectName,
			Type:                 models.DependencyType(depType),
			LagHours:             lagHours,
		})
		return mcp.NewToolResultText(fmt.Sprintf("Dependency %s:%s -> %s:%s staged for session '%s'. Call 'commit_plan' to apply.", projectName, taskTitle, dependsOnProjectName, dependsOnTaskTitle, sessionID)), nil
	}
}

func commitPlanHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")
		if err := database.CommitBatch(ctx, sessionID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Staged changes for session '%s' committed successfully", sessionID)), nil
	}
}

func listPlanHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		items := database.Staging.Peek(sessionID)
		data, err := json.Marshal(items)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getReadyTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tasks, err := database.ReadyTasks(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"tasks": tasks})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func claimNextTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := database.ClaimNextReadyTask(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t == nil {
			return mcp.NewToolResultText("No tasks are ready"), nil
		}

		data, err := json.Marshal(t)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getGraphJSONHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		json, err := database.GetGraphJSON(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(json), nil
	}
}

func getTaskEventsHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectName := mcp.ParseString(request, "project_name", "")
		title := mcp.ParseString(request, "title", "")

		t, err := resolveTask(ctx, database, projectName, title)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		events, err := database.ListEvents(ctx, t.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"events": events})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func resolveTask(ctx context.Context, database *db.DB, projectName, title string) (*models.Task, error) {
	p, err := database.GetProjectByName(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project with name '%s' not found", projectName)
	}

	t, err := database.GetTaskByTitle(ctx, title, p.ID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task with title '%s' not found in project '%s'", title, projectName)
	}

	return t, nil
}
