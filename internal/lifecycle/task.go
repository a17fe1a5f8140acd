// Package lifecycle holds the state machines for tasks and team
// invitations, and the graph checks that keep task dependencies and
// subtask trees acyclic. Every function here is pure: callers load the
// current state, ask lifecycle whether a change is legal, and persist
// it themselves.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/kidandcat/workboard/internal/apperr"
)

// TaskStatus is the workflow state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskStatuses lists every status in workflow order.
var TaskStatuses = []TaskStatus{TaskTodo, TaskInProgress, TaskBlocked, TaskDone, TaskCancelled}

// ParseTaskStatus reads a status name.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TaskStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", apperr.Invalid("status", "unknown task status %q", s)
}

// Terminal reports whether s accepts no further transitions.
func (s TaskStatus) Terminal() bool { return s == TaskDone || s == TaskCancelled }

// taskEdges is the allowed edge set, excluding reopen.
var taskEdges = map[TaskStatus][]TaskStatus{
	TaskTodo:       {TaskInProgress, TaskCancelled},
	TaskInProgress: {TaskBlocked, TaskDone, TaskCancelled},
	TaskBlocked:    {TaskInProgress, TaskCancelled},
}

// Dependency is the current state of one task another task depends on.
type Dependency struct {
	TaskID int64
	Status TaskStatus
}

// CheckTaskTransition reports whether task taskID may move from one
// status to another. Entering done additionally requires every
// dependency to be done; otherwise the result is an
// *apperr.DependencyError listing the blockers.
func CheckTaskTransition(taskID int64, from, to TaskStatus, deps []Dependency) error {
	allowed := false
	for _, next := range taskEdges[from] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		reason := ""
		switch {
		case from.Terminal():
			reason = fmt.Sprintf("%s is terminal", from)
		case from == to:
			reason = "already in that state"
		}
		return &apperr.TransitionError{Entity: "task", From: string(from), To: string(to), Reason: reason}
	}
	if to != TaskDone {
		return nil
	}
	var blocking []int64
	for _, d := range deps {
		if d.Status != TaskDone {
			blocking = append(blocking, d.TaskID)
		}
	}
	if len(blocking) > 0 {
		return &apperr.DependencyError{TaskID: taskID, Blocking: blocking}
	}
	return nil
}

// CheckReopen reports whether a task in status from may be reopened.
// Only done tasks reopen, and they always return to todo.
func CheckReopen(from TaskStatus) error {
	if from != TaskDone {
		return &apperr.TransitionError{Entity: "task", From: string(from), To: string(TaskTodo), Reason: "only done tasks can be reopened"}
	}
	return nil
}

// TaskPriority ranks how urgent a task is.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// ParseTaskPriority reads a task priority, defaulting empty input to
// medium.
func ParseTaskPriority(s string) (TaskPriority, error) {
	switch p := TaskPriority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", apperr.Invalid("priority", "unknown task priority %q", s)
}

// ProjectStatus is the coarse state of a project. It is set directly by
// project admins and has no transition rules.
type ProjectStatus string

const (
	ProjectPlanning   ProjectStatus = "planning"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectOnHold     ProjectStatus = "on_hold"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

// ParseProjectStatus reads a project status, defaulting empty input to
// planning.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	switch st := ProjectStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return ProjectPlanning, nil
	case ProjectPlanning, ProjectInProgress, ProjectOnHold, ProjectCompleted, ProjectCancelled:
		return st, nil
	}
	return "", apperr.Invalid("status", "unknown project status %q", s)
}

// ParseProjectPriority reads a project priority. Projects use critical
// where tasks use urgent.
func ParseProjectPriority(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "":
		return "medium", nil
	case "low", "medium", "high", "critical":
		return p, nil
	}
	return "", apperr.Invalid("priority", "unknown project priority %q", s)
}
