package coordinator

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrCycleDetected indicates a circular dependency in the task graph.
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrDependencyUnmet indicates a dependency on a task the coordinator
	// does not know about or that has not completed.
	ErrDependencyUnmet = errors.New("dependency unmet")
)

// depGraph is the directed acyclic graph of task dependencies. Edges
// point from a task to the tasks it is blocked by.
type depGraph struct {
	mu        sync.RWMutex
	edges     map[string][]string
	completed map[string]bool
}

func newDepGraph() *depGraph {
	return &depGraph{
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Add registers a task and its dependency edges. Dependencies must
// already be registered, and the resulting graph must stay acyclic;
// otherwise the task is not added.
func (g *depGraph) Add(taskID string, dependsOn []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, depID := range dependsOn {
		if _, exists := g.edges[depID]; !exists {
			return fmt.Errorf("%w: task %s depends on unknown task %s", ErrDependencyUnmet, taskID, depID)
		}
	}

	g.edges[taskID] = append([]string(nil), dependsOn...)
	if g.hasCycleLocked() {
		delete(g.edges, taskID)
		return fmt.Errorf("%w: adding task %s", ErrCycleDetected, taskID)
	}
	return nil
}

// AddBatch registers a set of tasks whose dependencies may reference
// each other in any order. Registers all or none: an unknown dependency
// or a cycle rolls the whole batch back.
func (g *depGraph) AddBatch(edges map[string][]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id := range edges {
		if _, exists := g.edges[id]; exists {
			return fmt.Errorf("%w: duplicate task %s", ErrInvalidTask, id)
		}
	}

	rollback := func() {
		for id := range edges {
			delete(g.edges, id)
		}
	}

	for id := range edges {
		g.edges[id] = nil
	}
	for id, deps := range edges {
		for _, depID := range deps {
			if _, exists := g.edges[depID]; !exists {
				rollback()
				return fmt.Errorf("%w: task %s depends on unknown task %s", ErrDependencyUnmet, id, depID)
			}
		}
		g.edges[id] = append([]string(nil), deps...)
	}

	if g.hasCycleLocked() {
		rollback()
		return ErrCycleDetected
	}
	return nil
}

// Remove drops a task from the graph.
func (g *depGraph) Remove(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, taskID)
	delete(g.completed, taskID)
}

// MarkComplete records a task completion, unblocking its dependents.
func (g *depGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// Satisfied reports whether all of a task's dependencies have completed.
func (g *depGraph) Satisfied(taskID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, depID := range g.edges[taskID] {
		if !g.completed[depID] {
			return false
		}
	}
	return true
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *depGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// hasCycleLocked runs a depth-first search with coloring to find back
// edges. Caller holds the lock.
func (g *depGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.edges))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.edges {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}
