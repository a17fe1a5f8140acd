package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/lifecycle"
	"github.com/kidandcat/workboard/internal/ref"
)

// TaskInput carries the fields of a task create or partial update. Nil
// fields are left unchanged. Status is never set here: use
// TransitionTask and ReopenTask.
type TaskInput struct {
	Title          *string
	Description    *string
	ListID         *int64
	ParentTaskID   *int64
	AssigneeID     *int64
	Priority       *string
	StartDate      *string
	DueDate        *string
	EstimatedHours *float64
	Position       *int

	// LabelIDs are attached on create. Ignored by UpdateTask.
	LabelIDs []int64

	ExpectedVersion int64
}

// TaskQuery filters ListTasks.
type TaskQuery struct {
	ProjectID  int64
	Status     string
	AssigneeID int64
	LabelID    int64
	ListID     int64
}

// task loads a task and checks action for actor on it.
func (s *Service) task(ctx context.Context, q *db.Queries, actor *db.User, id int64, action access.Action) (*db.Task, access.RoleSet, error) {
	if actor == nil {
		return nil, 0, apperr.ErrUnauthorized
	}
	t, facts, err := q.TaskFacts(ctx, id, actor.ID)
	if err != nil {
		return nil, 0, err
	}
	roles := s.graph.TaskRoles(actor.ID, facts)
	if err := s.authorize(actor, roles, access.ResourceTask, action); err != nil {
		return nil, 0, err
	}
	return t, roles, nil
}

// checkAssignee requires the assignee to be able to see the project.
func (s *Service) checkAssignee(ctx context.Context, q *db.Queries, projectID, userID int64) error {
	if userID == 0 {
		return nil
	}
	_, facts, err := q.ProjectFacts(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if s.graph.ProjectRoles(userID, facts).Empty() {
		return apperr.Invalid("assignee_id", "user %d has no access to the project", userID)
	}
	return nil
}

// applyTask validates in against the task's project and copies it into
// t, returning the changed field names.
func (s *Service) applyTask(ctx context.Context, q *db.Queries, t *db.Task, in TaskInput) (map[string]any, error) {
	changes := map[string]any{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if err := checkName("title", title, 200); err != nil {
			return nil, err
		}
		if title != t.Title {
			changes["title"] = title
		}
		t.Title = title
	}
	if in.Description != nil && *in.Description != t.Description {
		t.Description = *in.Description
		changes["description"] = true
	}
	if in.ListID != nil && *in.ListID != t.ListID {
		if *in.ListID != 0 {
			l, err := q.GetTaskList(ctx, *in.ListID)
			if err != nil || l.ProjectID != t.ProjectID {
				return nil, apperr.Invalid("list_id", "list %d is not in this project", *in.ListID)
			}
		}
		t.ListID = *in.ListID
		changes["list_id"] = t.ListID
	}
	if in.ParentTaskID != nil && *in.ParentTaskID != t.ParentTaskID {
		parentID := *in.ParentTaskID
		sameProject := true
		var parents map[int64]int64
		if parentID != 0 {
			parent, err := q.GetTask(ctx, parentID)
			if err != nil {
				return nil, apperr.Invalid("parent_task_id", "task %d does not exist", parentID)
			}
			sameProject = parent.ProjectID == t.ProjectID
			if t.ID != 0 {
				if parents, err = q.ParentMap(ctx, t.ProjectID); err != nil {
					return nil, err
				}
			}
		}
		if err := lifecycle.CheckParent(t.ID, parentID, sameProject, parents); err != nil {
			return nil, err
		}
		t.ParentTaskID = parentID
		changes["parent_task_id"] = parentID
	}
	if in.AssigneeID != nil && *in.AssigneeID != t.AssigneeID {
		if err := s.checkAssignee(ctx, q, t.ProjectID, *in.AssigneeID); err != nil {
			return nil, err
		}
		changes["assignee_id"] = []int64{t.AssigneeID, *in.AssigneeID}
		t.AssigneeID = *in.AssigneeID
	}
	if in.Priority != nil {
		p, err := lifecycle.ParseTaskPriority(*in.Priority)
		if err != nil {
			return nil, err
		}
		if string(p) != t.Priority {
			changes["priority"] = []string{t.Priority, string(p)}
		}
		t.Priority = string(p)
	}
	if in.StartDate != nil {
		t.StartDate = strings.TrimSpace(*in.StartDate)
		changes["start_date"] = t.StartDate
	}
	if in.DueDate != nil {
		t.DueDate = strings.TrimSpace(*in.DueDate)
		changes["due_date"] = t.DueDate
	}
	if in.EstimatedHours != nil {
		if *in.EstimatedHours < 0 {
			return nil, apperr.Invalid("estimated_hours", "must not be negative")
		}
		h := *in.EstimatedHours
		t.EstimatedHours = &h
		changes["estimated_hours"] = h
	}
	if in.Position != nil {
		t.Position = *in.Position
	}
	if err := checkDates(t.StartDate, t.DueDate); err != nil {
		return nil, err
	}
	return changes, nil
}

// CreateTask adds a task to a project in status todo.
func (s *Service) CreateTask(ctx context.Context, actor *db.User, projectID int64, in TaskInput) (*db.Task, error) {
	if in.Title == nil {
		return nil, apperr.Invalid("title", "is required")
	}
	var created *db.Task
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		if _, err := s.project(ctx, q, actor, projectID, access.ActionCreateTask); err != nil {
			return err
		}
		t := db.Task{
			ProjectID: projectID,
			CreatorID: actor.ID,
			Status:    string(lifecycle.TaskTodo),
			Priority:  string(lifecycle.PriorityMedium),
		}
		if _, err := s.applyTask(ctx, q, &t, in); err != nil {
			return err
		}
		var err error
		if created, err = q.CreateTask(ctx, t); err != nil {
			return err
		}
		for _, labelID := range in.LabelIDs {
			l, err := q.GetLabel(ctx, labelID)
			if err != nil || l.ProjectID != projectID {
				return apperr.Invalid("label_ids", "label %d is not in this project", labelID)
			}
			if err := q.AttachLabel(ctx, created.ID, labelID); err != nil {
				return err
			}
			created.Labels = append(created.Labels, *l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.TaskCreated, actor.ID, ref.New(ref.Task, created.ID))
	e.ProjectID = projectID
	e.Title = fmt.Sprintf("Task %q created", created.Title)
	e.Recipients = recipients(actor.ID, created.AssigneeID)
	s.emit(ctx, e)
	return created, nil
}

// TaskDetail is a task with its labels, dependencies and the caller's
// roles.
type TaskDetail struct {
	*db.Task
	Dependencies []db.TaskDependency `json:"dependencies"`
	Roles        []string            `json:"my_roles"`
}

func (s *Service) GetTask(ctx context.Context, actor *db.User, id int64) (*TaskDetail, error) {
	t, roles, err := s.task(ctx, s.store.Queries, actor, id, access.ActionView)
	if err != nil {
		return nil, err
	}
	if t.Labels, err = s.store.TaskLabels(ctx, id); err != nil {
		return nil, err
	}
	deps, err := s.store.ListDependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: t, Dependencies: deps, Roles: roles.Names()}, nil
}

// ListTasks lists tasks in one project, or across every project actor
// can see when no project is given.
func (s *Service) ListTasks(ctx context.Context, actor *db.User, tq TaskQuery, page db.Page) ([]db.Task, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	f := db.TaskFilter{
		ProjectID:  tq.ProjectID,
		AssigneeID: tq.AssigneeID,
		LabelID:    tq.LabelID,
		ListID:     tq.ListID,
	}
	if tq.Status != "" {
		st, err := lifecycle.ParseTaskStatus(tq.Status)
		if err != nil {
			return nil, err
		}
		f.Status = string(st)
	}
	if tq.ProjectID != 0 {
		if _, err := s.project(ctx, s.store.Queries, actor, tq.ProjectID, access.ActionView); err != nil {
			return nil, err
		}
	} else if !s.listsAll(actor) {
		f.VisibleTo = actor.ID
	}
	return s.store.ListTasks(ctx, f, page)
}

func (s *Service) ListSubtasks(ctx context.Context, actor *db.User, taskID int64) ([]db.Task, error) {
	t, _, err := s.task(ctx, s.store.Queries, actor, taskID, access.ActionView)
	if err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, db.TaskFilter{ProjectID: t.ProjectID, ParentID: t.ID}, db.Page{})
}

// UpdateTask edits task fields. Changing the assignee also needs the
// assign permission.
func (s *Service) UpdateTask(ctx context.Context, actor *db.User, id int64, in TaskInput) (*db.Task, error) {
	var t *db.Task
	var changes map[string]any
	var prevAssignee int64
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var roles access.RoleSet
		var err error
		if t, roles, err = s.task(ctx, q, actor, id, access.ActionUpdate); err != nil {
			return err
		}
		if in.AssigneeID != nil && *in.AssigneeID != t.AssigneeID {
			if err := s.authorize(actor, roles, access.ResourceTask, access.ActionAssign); err != nil {
				return err
			}
		}
		if err := checkVersion("task", in.ExpectedVersion, t.Version); err != nil {
			return err
		}
		prevAssignee = t.AssigneeID
		if changes, err = s.applyTask(ctx, q, t, in); err != nil {
			return err
		}
		return q.UpdateTask(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.TaskUpdated, actor.ID, ref.New(ref.Task, t.ID))
	e.ProjectID = t.ProjectID
	e.Title = fmt.Sprintf("Task %q updated", t.Title)
	e.Changes = changes
	e.Recipients = recipients(actor.ID, t.AssigneeID, t.CreatorID)
	evs := []events.Event{e}
	if t.AssigneeID != prevAssignee && t.AssigneeID != 0 {
		evs = append(evs, s.assignedEvent(actor.ID, t))
	}
	s.emit(ctx, evs...)
	return t, nil
}

func (s *Service) assignedEvent(actorID int64, t *db.Task) events.Event {
	e := events.New(events.TaskAssigned, actorID, ref.New(ref.Task, t.ID))
	e.ProjectID = t.ProjectID
	e.Title = fmt.Sprintf("You were assigned %q", t.Title)
	e.Recipients = recipients(actorID, t.AssigneeID)
	return e
}

// TransitionTask moves a task along the workflow. Entering done
// requires every dependency to be done.
func (s *Service) TransitionTask(ctx context.Context, actor *db.User, id int64, status string, expectedVersion int64) (*db.Task, error) {
	to, err := lifecycle.ParseTaskStatus(status)
	if err != nil {
		return nil, err
	}
	var t *db.Task
	var from lifecycle.TaskStatus
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.task(ctx, q, actor, id, access.ActionTransition); err != nil {
			return err
		}
		if err := checkVersion("task", expectedVersion, t.Version); err != nil {
			return err
		}
		from = lifecycle.TaskStatus(t.Status)
		deps, err := q.ListDependencies(ctx, id)
		if err != nil {
			return err
		}
		blockers := make([]lifecycle.Dependency, len(deps))
		for i, d := range deps {
			blockers[i] = lifecycle.Dependency{TaskID: d.DependsOnID, Status: lifecycle.TaskStatus(d.Status)}
		}
		if err := lifecycle.CheckTaskTransition(id, from, to, blockers); err != nil {
			return err
		}
		t.Status = string(to)
		if to == lifecycle.TaskDone {
			now := s.clock.Now().UTC()
			t.CompletedAt = &now
		}
		return q.UpdateTask(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.TaskStatusChanged, actor.ID, ref.New(ref.Task, t.ID))
	e.ProjectID = t.ProjectID
	e.Title = fmt.Sprintf("Task %q is now %s", t.Title, strings.ReplaceAll(t.Status, "_", " "))
	e.Changes = map[string]any{"status": []string{string(from), t.Status}}
	e.Recipients = recipients(actor.ID, t.CreatorID, t.AssigneeID)
	s.emit(ctx, e)
	return t, nil
}

// ReopenTask returns a done task to todo.
func (s *Service) ReopenTask(ctx context.Context, actor *db.User, id int64) (*db.Task, error) {
	var t *db.Task
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.task(ctx, q, actor, id, access.ActionReopen); err != nil {
			return err
		}
		if err := lifecycle.CheckReopen(lifecycle.TaskStatus(t.Status)); err != nil {
			return err
		}
		t.Status = string(lifecycle.TaskTodo)
		t.CompletedAt = nil
		return q.UpdateTask(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.TaskReopened, actor.ID, ref.New(ref.Task, t.ID))
	e.ProjectID = t.ProjectID
	e.Title = fmt.Sprintf("Task %q was reopened", t.Title)
	e.Changes = map[string]any{"status": []string{string(lifecycle.TaskDone), t.Status}}
	e.Recipients = recipients(actor.ID, t.CreatorID, t.AssigneeID)
	s.emit(ctx, e)
	return t, nil
}

// AssignTask sets or clears (assigneeID 0) the assignee.
func (s *Service) AssignTask(ctx context.Context, actor *db.User, id, assigneeID int64) (*db.Task, error) {
	var t *db.Task
	var prev int64
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.task(ctx, q, actor, id, access.ActionAssign); err != nil {
			return err
		}
		if err := s.checkAssignee(ctx, q, t.ProjectID, assigneeID); err != nil {
			return err
		}
		prev = t.AssigneeID
		t.AssigneeID = assigneeID
		return q.UpdateTask(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	if assigneeID != 0 && assigneeID != prev {
		s.emit(ctx, s.assignedEvent(actor.ID, t))
	}
	return t, nil
}

// DeleteTask removes a task with its subtasks, comments and
// attachments.
func (s *Service) DeleteTask(ctx context.Context, actor *db.User, id int64) error {
	var t *db.Task
	var digests []string
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.task(ctx, q, actor, id, access.ActionDelete); err != nil {
			return err
		}
		digests, err = q.DeleteTask(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.releaseBlobs(ctx, digests)

	e := events.New(events.TaskDeleted, actor.ID, ref.New(ref.Task, id))
	e.ProjectID = t.ProjectID
	e.Title = fmt.Sprintf("Task %q was deleted", t.Title)
	e.Recipients = recipients(actor.ID, t.CreatorID, t.AssigneeID)
	s.emit(ctx, e)
	return nil
}

// Dependencies

// AddDependency records that taskID waits for dependsOnID. Both tasks
// must be in the same project and the edge must not close a cycle.
func (s *Service) AddDependency(ctx context.Context, actor *db.User, taskID, dependsOnID int64, depType string) (*db.TaskDependency, error) {
	typ, err := lifecycle.ParseDependencyType(depType)
	if err != nil {
		return nil, err
	}
	var t *db.Task
	var dep *db.TaskDependency
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.task(ctx, q, actor, taskID, access.ActionManageDeps); err != nil {
			return err
		}
		other, err := q.GetTask(ctx, dependsOnID)
		if err != nil {
			return apperr.Invalid("depends_on", "task %d does not exist", dependsOnID)
		}
		edges, err := q.DependencyEdges(ctx, t.ProjectID)
		if err != nil {
			return err
		}
		if err := lifecycle.CheckDependency(taskID, dependsOnID, other.ProjectID == t.ProjectID, edges); err != nil {
			return err
		}
		if dep, err = q.AddDependency(ctx, taskID, dependsOnID, string(typ)); err != nil {
			return err
		}
		dep.Status = other.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.DependencyAdded, actor.ID, ref.New(ref.Task, taskID))
	e.ProjectID = t.ProjectID
	e.Title = fmt.Sprintf("Task %q now depends on task %d", t.Title, dependsOnID)
	e.Changes = map[string]any{"depends_on": dependsOnID, "type": string(typ)}
	s.emit(ctx, e)
	return dep, nil
}

func (s *Service) RemoveDependency(ctx context.Context, actor *db.User, taskID, dependsOnID int64) error {
	var t *db.Task
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.task(ctx, q, actor, taskID, access.ActionManageDeps); err != nil {
			return err
		}
		return q.RemoveDependency(ctx, taskID, dependsOnID)
	})
	if err != nil {
		return err
	}

	e := events.New(events.DependencyRemoved, actor.ID, ref.New(ref.Task, taskID))
	e.ProjectID = t.ProjectID
	e.Title = fmt.Sprintf("Task %q no longer depends on task %d", t.Title, dependsOnID)
	e.Changes = map[string]any{"depends_on": dependsOnID}
	s.emit(ctx, e)
	return nil
}

func (s *Service) ListDependencies(ctx context.Context, actor *db.User, taskID int64) ([]db.TaskDependency, error) {
	if _, _, err := s.task(ctx, s.store.Queries, actor, taskID, access.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListDependencies(ctx, taskID)
}

// Labels

func (s *Service) AttachLabel(ctx context.Context, actor *db.User, taskID, labelID int64) error {
	return s.store.WithTx(ctx, func(q *db.Queries) error {
		t, _, err := s.task(ctx, q, actor, taskID, access.ActionManageLabels)
		if err != nil {
			return err
		}
		l, err := q.GetLabel(ctx, labelID)
		if err != nil || l.ProjectID != t.ProjectID {
			return apperr.Invalid("label_id", "label %d is not in this project", labelID)
		}
		return q.AttachLabel(ctx, taskID, labelID)
	})
}

func (s *Service) DetachLabel(ctx context.Context, actor *db.User, taskID, labelID int64) error {
	return s.store.WithTx(ctx, func(q *db.Queries) error {
		if _, _, err := s.task(ctx, q, actor, taskID, access.ActionManageLabels); err != nil {
			return err
		}
		return q.DetachLabel(ctx, taskID, labelID)
	})
}
