package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/ref"
)

// NotificationRetention is how long read notifications are kept.
const NotificationRetention = 30 * 24 * time.Hour

// RemindOverdueTasks raises one reminder per open overdue task for its
// assignee. Reminders are keyed by task and day, so running the job
// again on the same day notifies nobody twice.
func (s *Service) RemindOverdueTasks(ctx context.Context, now time.Time) (int, error) {
	today := now.UTC().Format(dateLayout)
	tasks, err := s.store.OverdueTasks(ctx, today)
	if err != nil {
		return 0, err
	}
	evs := make([]events.Event, 0, len(tasks))
	for _, t := range tasks {
		e := events.New(events.TaskOverdue, 0, ref.New(ref.Task, t.ID))
		e.ID = events.DeterministicID(string(events.TaskOverdue), strconv.FormatInt(t.ID, 10), today)
		e.ProjectID = t.ProjectID
		e.Title = fmt.Sprintf("Task %q is overdue", t.Title)
		e.Message = "Due " + t.DueDate
		e.Recipients = recipients(0, t.AssigneeID)
		evs = append(evs, e)
	}
	s.emit(ctx, evs...)
	return len(evs), nil
}

// RemindDueSoonTasks raises a reminder for each open task falling due
// within window of now. Reminders are keyed by task and due date, so a
// task is announced once unless its due date moves.
func (s *Service) RemindDueSoonTasks(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, nil
	}
	today := now.UTC().Format(dateLayout)
	until := now.Add(window).UTC().Format(dateLayout)
	tasks, err := s.store.DueSoonTasks(ctx, today, until)
	if err != nil {
		return 0, err
	}
	evs := make([]events.Event, 0, len(tasks))
	for _, t := range tasks {
		e := events.New(events.TaskDueSoon, 0, ref.New(ref.Task, t.ID))
		e.ID = events.DeterministicID(string(events.TaskDueSoon), strconv.FormatInt(t.ID, 10), t.DueDate)
		e.ProjectID = t.ProjectID
		e.Title = fmt.Sprintf("Task %q is due soon", t.Title)
		e.Message = "Due " + t.DueDate
		e.Recipients = recipients(0, t.AssigneeID)
		evs = append(evs, e)
	}
	s.emit(ctx, evs...)
	return len(evs), nil
}

// CleanupSessions drops expired sessions and sign-in links.
func (s *Service) CleanupSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx)
}

// CleanupNotifications drops read notifications older than the
// retention window.
func (s *Service) CleanupNotifications(ctx context.Context, now time.Time) (int64, error) {
	return s.store.DeleteReadNotifications(ctx, now.Add(-NotificationRetention))
}
