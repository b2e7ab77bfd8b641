// Package catalog resolves module ids to their task lists. The rest of
// the system depends only on the Catalog interface; how module content
// is authored or loaded is out of scope.
package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleNotFound indicates the catalog has no module with the
	// requested id.
	ErrModuleNotFound = errors.New("module not found")

	// ErrUnavailable indicates the catalog backend could not be read.
	// Callers must treat completion state as unknown, never as
	// not-complete.
	ErrUnavailable = errors.New("catalog unavailable")
)

// Task is one unit of work inside a module.
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Required bool   `json:"required"`
}

// Module describes a training module and its ordered task list.
type Module struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Tasks   []Task `json:"tasks"`
}

// HasTask reports whether the module declares the given task id.
func (m *Module) HasTask(taskID string) bool {
	for _, t := range m.Tasks {
		if t.ID == taskID {
			return true
		}
	}
	return false
}

// RequiredTaskIDs returns the ids of the module's required tasks in
// declaration order.
func (m *Module) RequiredTaskIDs() []string {
	var ids []string
	for _, t := range m.Tasks {
		if t.Required {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Catalog resolves module metadata.
type Catalog interface {
	// Module returns the module with the given id, or ErrModuleNotFound.
	Module(moduleID string) (*Module, error)

	// RequiredTasks returns the set of required task ids for a module.
	RequiredTasks(moduleID string) (map[string]struct{}, error)

	// Modules returns all known modules ordered by id.
	Modules() ([]*Module, error)
}

// RequiredTaskSet is a helper shared by Catalog implementations.
func RequiredTaskSet(m *Module) map[string]struct{} {
	set := make(map[string]struct{})
	for _, id := range m.RequiredTaskIDs() {
		set[id] = struct{}{}
	}
	return set
}

// Validate checks structural invariants that the JSON schema cannot
// express, such as duplicate task ids.
func (m *Module) Validate() error {
	seen := make(map[string]struct{}, len(m.Tasks))
	for _, t := range m.Tasks {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("module %s: duplicate task id %q", m.ID, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}
