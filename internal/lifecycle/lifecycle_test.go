package lifecycle

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kidandcat/workboard/internal/apperr"
)

func TestCheckTaskTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     error
	}{
		{TaskTodo, TaskInProgress, nil},
		{TaskTodo, TaskCancelled, nil},
		{TaskInProgress, TaskBlocked, nil},
		{TaskInProgress, TaskDone, nil},
		{TaskInProgress, TaskCancelled, nil},
		{TaskBlocked, TaskInProgress, nil},
		{TaskBlocked, TaskCancelled, nil},

		{TaskTodo, TaskDone, apperr.ErrInvalidTransition},
		{TaskTodo, TaskBlocked, apperr.ErrInvalidTransition},
		{TaskTodo, TaskTodo, apperr.ErrInvalidTransition},
		{TaskBlocked, TaskDone, apperr.ErrInvalidTransition},
		{TaskDone, TaskTodo, apperr.ErrInvalidTransition},
		{TaskDone, TaskInProgress, apperr.ErrInvalidTransition},
		{TaskCancelled, TaskInProgress, apperr.ErrInvalidTransition},
		{TaskCancelled, TaskCancelled, apperr.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckTaskTransition(1, tt.from, tt.to, nil)
			if tt.want == nil && err != nil {
				t.Fatalf("CheckTaskTransition: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("CheckTaskTransition = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckTaskTransitionDependencies(t *testing.T) {
	deps := []Dependency{{TaskID: 2, Status: TaskTodo}, {TaskID: 3, Status: TaskDone}, {TaskID: 4, Status: TaskCancelled}}

	err := CheckTaskTransition(1, TaskInProgress, TaskDone, deps)
	if !errors.Is(err, apperr.ErrDependencyUnresolved) {
		t.Fatalf("CheckTaskTransition = %v, want dependency unresolved", err)
	}
	var depErr *apperr.DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("error %T is not a DependencyError", err)
	}
	if !reflect.DeepEqual(depErr.Blocking, []int64{2, 4}) {
		t.Errorf("Blocking = %v, want [2 4]", depErr.Blocking)
	}

	// Unresolved dependencies do not block other transitions.
	if err := CheckTaskTransition(1, TaskInProgress, TaskBlocked, deps); err != nil {
		t.Errorf("to blocked: %v", err)
	}

	deps[0].Status = TaskDone
	deps[2].Status = TaskDone
	if err := CheckTaskTransition(1, TaskInProgress, TaskDone, deps); err != nil {
		t.Errorf("all deps done: %v", err)
	}
}

func TestCheckReopen(t *testing.T) {
	if err := CheckReopen(TaskDone); err != nil {
		t.Errorf("reopen done: %v", err)
	}
	for _, s := range []TaskStatus{TaskTodo, TaskInProgress, TaskBlocked, TaskCancelled} {
		if err := CheckReopen(s); !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Errorf("reopen %s = %v", s, err)
		}
	}
}

func TestParse(t *testing.T) {
	if s, err := ParseTaskStatus("In_Progress"); err != nil || s != TaskInProgress {
		t.Errorf("ParseTaskStatus = %q, %v", s, err)
	}
	if _, err := ParseTaskStatus("review"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("ParseTaskStatus(review) = %v", err)
	}
	if p, err := ParseTaskPriority(""); err != nil || p != PriorityMedium {
		t.Errorf("ParseTaskPriority(\"\") = %q, %v", p, err)
	}
	if _, err := ParseProjectPriority("urgent"); err == nil {
		t.Error("project accepted task priority urgent")
	}
	if d, err := ParseDependencyType("ss"); err != nil || d != StartToStart {
		t.Errorf("ParseDependencyType = %q, %v", d, err)
	}
}

func TestInvitationExpiry(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := DefaultInvitationTTL

	tests := []struct {
		name   string
		stored InvitationStatus
		now    time.Time
		want   InvitationStatus
	}{
		{"fresh", InvitationPending, created.Add(time.Hour), InvitationPending},
		{"boundary", InvitationPending, created.Add(ttl), InvitationPending},
		{"past window", InvitationPending, created.Add(ttl + time.Second), InvitationExpired},
		{"accepted stays accepted", InvitationAccepted, created.Add(30 * ttl), InvitationAccepted},
		{"declined stays declined", InvitationDeclined, created.Add(30 * ttl), InvitationDeclined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveInvitationStatus(tt.stored, created, tt.now, ttl); got != tt.want {
				t.Errorf("EffectiveInvitationStatus = %s, want %s", got, tt.want)
			}
		})
	}

	if IsInvitationExpired(created, created.Add(ttl), ttl) {
		t.Error("expired at the boundary instant")
	}
	if !IsInvitationExpired(created, created.Add(ttl+time.Nanosecond), ttl) {
		t.Error("not expired past the window")
	}
}

func TestCheckInvitationResponse(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := DefaultInvitationTTL
	now := created.Add(time.Hour)

	if err := CheckInvitationResponse(InvitationPending, created, InvitationAccepted, now, ttl); err != nil {
		t.Errorf("accept pending: %v", err)
	}
	if err := CheckInvitationResponse(InvitationPending, created, InvitationDeclined, now, ttl); err != nil {
		t.Errorf("decline pending: %v", err)
	}
	if err := CheckInvitationResponse(InvitationPending, created, InvitationExpired, now, ttl); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("respond expired = %v", err)
	}
	for _, stored := range []InvitationStatus{InvitationAccepted, InvitationDeclined} {
		if err := CheckInvitationResponse(stored, created, InvitationAccepted, now, ttl); !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("accept %s = %v, want conflict", stored, err)
		}
	}
	if err := CheckInvitationResponse(InvitationExpired, created, InvitationAccepted, now, ttl); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("accept expired = %v, want invalid transition", err)
	}
	late := created.Add(8 * 24 * time.Hour)
	err := CheckInvitationResponse(InvitationPending, created, InvitationAccepted, late, ttl)
	var te *apperr.TransitionError
	if !errors.As(err, &te) || te.From != string(InvitationExpired) {
		t.Errorf("accept after window = %v, want transition from expired", err)
	}
}

func TestCheckDependency(t *testing.T) {
	// 1 waits for 2, 2 waits for 3.
	edges := map[int64][]int64{1: {2}, 2: {3}}

	if err := CheckDependency(4, 1, true, edges); err != nil {
		t.Errorf("4->1: %v", err)
	}
	if err := CheckDependency(1, 3, true, edges); err != nil {
		t.Errorf("redundant 1->3: %v", err)
	}
	for _, tc := range []struct {
		task, dep int64
		same      bool
	}{
		{3, 1, true}, // cycle through 2
		{2, 1, true}, // direct cycle
		{5, 5, true}, // self
		{4, 1, false},
	} {
		if err := CheckDependency(tc.task, tc.dep, tc.same, edges); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("CheckDependency(%d, %d, %v) = %v, want validation error", tc.task, tc.dep, tc.same, err)
		}
	}
}

func TestCheckParent(t *testing.T) {
	// 2 is a child of 1, 3 is a child of 2.
	parents := map[int64]int64{1: 0, 2: 1, 3: 2}

	if err := CheckParent(0, 3, true, parents); err != nil {
		t.Errorf("new child of 3: %v", err)
	}
	if err := CheckParent(4, 0, false, parents); err != nil {
		t.Errorf("clearing parent: %v", err)
	}
	if err := CheckParent(1, 3, true, parents); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("1 under its grandchild = %v", err)
	}
	if err := CheckParent(2, 2, true, parents); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("self parent = %v", err)
	}
	if err := CheckParent(0, 3, false, parents); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("cross-project parent = %v", err)
	}
}
