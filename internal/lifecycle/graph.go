package lifecycle

import (
	"strings"

	"github.com/kidandcat/workboard/internal/apperr"
)

// DependencyType describes how two tasks are ordered. Every type gates
// entry into done.
type DependencyType string

const (
	FinishToStart  DependencyType = "FS"
	StartToStart   DependencyType = "SS"
	FinishToFinish DependencyType = "FF"
)

// ParseDependencyType reads a dependency type, defaulting empty input
// to finish-to-start.
func ParseDependencyType(s string) (DependencyType, error) {
	switch t := DependencyType(strings.ToUpper(strings.TrimSpace(s))); t {
	case "":
		return FinishToStart, nil
	case FinishToStart, StartToStart, FinishToFinish:
		return t, nil
	}
	return "", apperr.Invalid("dependency_type", "unknown dependency type %q", s)
}

// CheckDependency reports whether the edge taskID -> dependsOnID ("task
// waits for dependsOn") may be added to a project whose existing edges
// are given as task -> tasks it depends on.
func CheckDependency(taskID, dependsOnID int64, sameProject bool, edges map[int64][]int64) error {
	if taskID == dependsOnID {
		return apperr.Invalid("depends_on", "a task cannot depend on itself")
	}
	if !sameProject {
		return apperr.Invalid("depends_on", "dependencies must be within the same project")
	}
	if reachable(edges, dependsOnID, taskID) {
		return apperr.Invalid("depends_on", "dependency would create a cycle")
	}
	return nil
}

// reachable reports whether to can be reached from from along edges.
func reachable(edges map[int64][]int64, from, to int64) bool {
	seen := map[int64]bool{from: true}
	stack := []int64{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		for _, next := range edges[n] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// CheckParent reports whether parentID may become the parent of taskID.
// parents maps each task in the project to its parent (0 for none).
// taskID is 0 for a task that does not exist yet.
func CheckParent(taskID, parentID int64, sameProject bool, parents map[int64]int64) error {
	if parentID == 0 {
		return nil
	}
	if taskID != 0 && taskID == parentID {
		return apperr.Invalid("parent_task_id", "a task cannot be its own parent")
	}
	if !sameProject {
		return apperr.Invalid("parent_task_id", "parent task must be in the same project")
	}
	if taskID == 0 {
		return nil
	}
	seen := map[int64]bool{}
	for n := parentID; n != 0 && !seen[n]; n = parents[n] {
		if n == taskID {
			return apperr.Invalid("parent_task_id", "parent would create a cycle")
		}
		seen[n] = true
	}
	return nil
}
