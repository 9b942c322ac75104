package orchestrator

import (
	"fmt"
	"sync"
)

// activeProjects enforces the single-writer rule inside one process: at
// most one orchestrator may run per project at a time.
var activeProjects = struct {
	mu  sync.Mutex
	ids map[string]struct{}
}{ids: make(map[string]struct{})}

func acquireProject(projectID string) error {
	activeProjects.mu.Lock()
	defer activeProjects.mu.Unlock()

	if _, exists := activeProjects.ids[projectID]; exists {
		return fmt.Errorf("project %s already has a running workflow", projectID)
	}
	activeProjects.ids[projectID] = struct{}{}
	return nil
}

func releaseProject(projectID string) {
	activeProjects.mu.Lock()
	defer activeProjects.mu.Unlock()
	delete(activeProjects.ids, projectID)
}
