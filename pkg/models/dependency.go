package models

import "time"

// DependencyType is a semantic hint for schedulers; the dependency guard
// treats every type identically for blocking purposes.
type DependencyType string

const (
	DepFinishToStart  DependencyType = "finish_to_start"
	DepStartToStart   DependencyType = "start_to_start"
	DepFinishToFinish DependencyType = "finish_to_finish"
	DepStartToFinish  DependencyType = "start_to_finish"
)

func (d DependencyType) Valid() bool {
	switch d {
	case DepFinishToStart, DepStartToStart, DepFinishToFinish, DepStartToFinish:
		return true
	}
	return false
}

// Dependency is a directed edge: TaskID cannot enter an active or complete
// status until DependsOnTaskID is done. LagHours is advisory only.
type Dependency struct {
	TaskID          string         `json:"task_id"`
	DependsOnTaskID string         `json:"depends_on_task_id"`
	Type            DependencyType `json:"dependency_type"`
	LagHours        float64        `json:"lag_hours"`
	CreatedAt       time.Time      `json:"created_at"`

	// Helper fields for staging/resolution
	TaskTitle            string `json:"task_title,omitempty"`
	ProjectName          string `json:"project_name,omitempty"`
	DependsOnTaskTitle   string `json:"depends_on_task_title,omitempty"`
	DependsOnProjectName string `json:"depends_on_project_name,omitempty"`
}
