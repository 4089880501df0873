package db

import (
	"sync"

	"github.com/callboard/taskgraph/pkg/models"
)

type StagedItems struct {
	Projects     []*models.Project
	Tasks        []*models.Task
	Dependencies []*models.Dependency
}

func newStagedItems() *StagedItems {
	return &StagedItems{
		Projects:     []*models.Project{},
		Tasks:        []*models.Task{},
		Dependencies: []*models.Dependency{},
	}
}

// StagingManager provides thread-safe in-memory storage for staged changes.
// Nothing here touches the database; staged items become real rows only
// when CommitBatch applies them through the full guard stack.
type StagingManager struct {
	mu     sync.RWMutex
	staged map[string]*StagedItems
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		staged: make(map[string]*StagedItems),
	}
}

func (sm *StagingManager) AddProject(sessionID string, project *models.Project) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = newStagedItems()
	}
	sm.staged[sessionID].Projects = append(sm.staged[sessionID].Projects, project)
}

func (sm *StagingManager) AddTask(sessionID string, task *models.Task) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = newStagedItems()
	}
	sm.staged[sessionID].Tasks = append(sm.staged[sessionID].Tasks, task)
}

func (sm *StagingManager) AddDependency(sessionID string, dep *models.Dependency) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = newStagedItems()
	}
	sm.staged[sessionID].Dependencies = append(sm.staged[sessionID].Dependencies, dep)
}

func (sm *StagingManager) GetAndClear(sessionID string) *StagedItems {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return newStagedItems()
	}

	delete(sm.staged, sessionID)
	return items
}

func (sm *StagingManager) Peek(sessionID string) *StagedItems {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return newStagedItems()
	}

	return items
}
