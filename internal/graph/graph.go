// Package graph holds the dependency-guard rules that do not touch storage:
// status gating, blocking-set computation, and reachability over an edge
// slice. Everything here is a pure function of its inputs, so the rules can
// be tested without a live database.
package graph

import (
	"sort"

	"github.com/callboard/taskgraph/pkg/models"
)

// gatedTargets lists the statuses whose entry requires every direct
// prerequisite to be done. Every other target passes unconditionally.
var gatedTargets = map[models.TaskStatus]struct{}{
	models.TaskStatusInProgress: {},
	models.TaskStatusDone:       {},
}

// Gated reports whether entering target is subject to the dependency gate.
func Gated(target models.TaskStatus) bool {
	_, ok := gatedTargets[target]
	return ok
}

// BlockingSet returns the prerequisites that are not yet done, preserving
// the order given. An empty result means the transition may proceed.
func BlockingSet(prereqs []*models.Task) []models.BlockingTask {
	var blocking []models.BlockingTask
	for _, t := range prereqs {
		if t.Status != models.TaskStatusDone {
			blocking = append(blocking, models.BlockingTask{
				ID:     t.ID,
				Title:  t.Title,
				Status: t.Status,
			})
		}
	}
	return blocking
}

// PathExists walks the edges from one task to another and returns the path
// of task IDs, inclusive of both endpoints, or nil when no path exists.
func PathExists(edges []*models.Dependency, from, to string) []string {
	adj := adjacency(edges)

	var path []string
	visited := make(map[string]bool)

	var dfs func(node string) bool
	dfs = func(node string) bool {
		path = append(path, node)
		if node == to {
			return true
		}
		visited[node] = true
		for _, next := range adj[node] {
			if !visited[next] && dfs(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if dfs(from) {
		return path
	}
	return nil
}

// WouldCycle reports whether adding the edge taskID -> dependsOnTaskID to
// the given edge set creates a cycle, along with the existing path from
// dependsOnTaskID back to taskID that would close it. A self-dependency is
// reported as a cycle of length one.
func WouldCycle(edges []*models.Dependency, taskID, dependsOnTaskID string) (bool, []string) {
	if taskID == dependsOnTaskID {
		return true, []string{taskID, taskID}
	}
	path := PathExists(edges, dependsOnTaskID, taskID)
	return path != nil, path
}

// FindCycle returns one cycle in the edge set as a task-ID path beginning
// and ending on the same ID, or nil when the graph is acyclic. Nodes are
// visited in sorted order so the witness is deterministic.
func FindCycle(edges []*models.Dependency) []string {
	adj := adjacency(edges)

	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int)
	parent := make(map[string]string)
	var cycle []string

	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range adj[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back-edge u -> v. Reconstruct v -> ... -> u -> v.
				cycle = []string{v}
				for cur := u; cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, n := range nodes {
		if color[n] == white && dfs(n) {
			return cycle
		}
	}
	return nil
}

func adjacency(edges []*models.Dependency) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.TaskID] = append(adj[e.TaskID], e.DependsOnTaskID)
		if _, ok := adj[e.DependsOnTaskID]; !ok {
			adj[e.DependsOnTaskID] = nil
		}
	}
	for _, next := range adj {
		sort.Strings(next)
	}
	return adj
}
