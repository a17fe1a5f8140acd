package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/ref"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	s, err := OpenPath(context.Background(), filepath.Join(t.TempDir(), "test.db"), Options{Clock: clk})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

func mustUser(t *testing.T, s *Store, email string) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), email, "", "member")
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func mustProject(t *testing.T, s *Store, ownerID int64) *Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), Project{
		Name: "Apollo", OwnerID: ownerID, Status: "planning", Priority: "medium",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func mustTask(t *testing.T, s *Store, projectID, parentID int64, title string) *Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), Task{
		ProjectID: projectID, ParentTaskID: parentID, Title: title, Status: "todo", Priority: "medium",
	})
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", title, err)
	}
	return task
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		s, err := OpenPath(context.Background(), path, Options{})
		if err != nil {
			t.Fatalf("OpenPath #%d: %v", i, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
}

func TestUsersAreCaseInsensitive(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	u := mustUser(t, s, "Alice@Example.com")
	if u.Email != "alice@example.com" {
		t.Errorf("Email = %q, want lowercased", u.Email)
	}
	got, err := s.GetOrCreateUser(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("GetOrCreateUser created a second user %d", got.ID)
	}
	if _, err := s.CreateUser(ctx, "alice@EXAMPLE.com", "", "member"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate CreateUser error = %v, want conflict", err)
	}
}

func TestConstraintMapping(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice@example.com")
	bob := mustUser(t, s, "bob@example.com")
	p := mustProject(t, s, alice.ID)

	if _, err := s.AddProjectMember(ctx, p.ID, bob.ID, "viewer"); err != nil {
		t.Fatalf("AddProjectMember: %v", err)
	}
	_, err := s.AddProjectMember(ctx, p.ID, bob.ID, "admin")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("duplicate member error = %v, want conflict", err)
	}

	_, err = s.CreateTask(ctx, Task{ProjectID: 9999, Title: "orphan", Status: "todo", Priority: "medium"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing project error = %v, want validation", err)
	}

	_, err = s.CreateTask(ctx, Task{ProjectID: p.ID, Title: "bad", Status: "archived", Priority: "medium"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad status error = %v, want validation", err)
	}

	task := mustTask(t, s, p.ID, 0, "one")
	if _, err := s.AddDependency(ctx, task.ID, task.ID, "FS"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("self dependency error = %v, want validation", err)
	}
}

func TestOptimisticUpdateConflict(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice@example.com")
	p := mustProject(t, s, alice.ID)

	first, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	second := *first

	first.Name = "Artemis"
	if err := s.UpdateProject(ctx, first); err != nil {
		t.Fatalf("UpdateProject: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("Version = %d, want 2", first.Version)
	}

	second.Name = "Gemini"
	if err := s.UpdateProject(ctx, &second); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale UpdateProject error = %v, want conflict", err)
	}
	got, _ := s.GetProject(ctx, p.ID)
	if got.Name != "Artemis" {
		t.Errorf("Name = %q, stale write landed", got.Name)
	}
}

func TestConcurrentAcceptExactlyOnce(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	lead := mustUser(t, s, "lead@example.com")
	invitee := mustUser(t, s, "new@example.com")
	team, err := s.CreateTeam(ctx, Team{Name: "Platform", LeaderID: lead.ID})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	inv, err := s.CreateInvitation(ctx, Invitation{TeamID: team.ID, InviteeID: invitee.ID, InviterID: lead.ID, Role: "member"})
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WithTx(ctx, func(q *Queries) error {
				cur, err := q.GetInvitation(ctx, inv.ID)
				if err != nil {
					return err
				}
				if err := q.SetInvitationStatus(ctx, cur, "accepted"); err != nil {
					return err
				}
				_, err = q.AddTeamMember(ctx, cur.TeamID, cur.InviteeID, cur.Role)
				return err
			})
		}(i)
	}
	wg.Wait()

	var ok int
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrConflict):
		default:
			t.Errorf("worker %d: unexpected error %v", i, err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d accepts succeeded, want exactly 1", ok)
	}

	members, err := s.ListTeamMembers(ctx, team.ID)
	if err != nil {
		t.Fatalf("ListTeamMembers: %v", err)
	}
	if len(members) != 1 || members[0].UserID != invitee.ID {
		t.Errorf("members = %+v, want only the invitee", members)
	}
	got, _ := s.GetInvitation(ctx, inv.ID)
	if got.Status != "accepted" || got.RespondedAt == nil {
		t.Errorf("invitation = %+v, want accepted with responded_at", got)
	}
}

func TestOnePendingInvitationPerTeamAndUser(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	lead := mustUser(t, s, "lead@example.com")
	invitee := mustUser(t, s, "new@example.com")
	team, _ := s.CreateTeam(ctx, Team{Name: "Platform", LeaderID: lead.ID})

	inv := Invitation{TeamID: team.ID, InviteeID: invitee.ID, Role: "member"}
	first, err := s.CreateInvitation(ctx, inv)
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	if _, err := s.CreateInvitation(ctx, inv); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second pending invitation error = %v, want conflict", err)
	}
	if err := s.SetInvitationStatus(ctx, first, "declined"); err != nil {
		t.Fatalf("SetInvitationStatus: %v", err)
	}
	if _, err := s.CreateInvitation(ctx, inv); err != nil {
		t.Errorf("re-invite after decline: %v", err)
	}
}

func TestExpireInvitations(t *testing.T) {
	s, clk := openTestStore(t)
	ctx := context.Background()
	lead := mustUser(t, s, "lead@example.com")
	a := mustUser(t, s, "a@example.com")
	b := mustUser(t, s, "b@example.com")
	team, _ := s.CreateTeam(ctx, Team{Name: "Platform", LeaderID: lead.ID})

	old, _ := s.CreateInvitation(ctx, Invitation{TeamID: team.ID, InviteeID: a.ID, Role: "member"})
	clk.Advance(3 * 24 * time.Hour)
	fresh, _ := s.CreateInvitation(ctx, Invitation{TeamID: team.ID, InviteeID: b.ID, Role: "member"})
	clk.Advance(5 * 24 * time.Hour)

	expired, err := s.ExpireInvitations(ctx, clk.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("ExpireInvitations: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != old.ID {
		t.Fatalf("expired = %+v, want only invitation %d", expired, old.ID)
	}
	if got, _ := s.GetInvitation(ctx, fresh.ID); got.Status != "pending" {
		t.Errorf("fresh invitation status = %q", got.Status)
	}

	again, err := s.ExpireInvitations(ctx, clk.Now().Add(-7*24*time.Hour))
	if err != nil || len(again) != 0 {
		t.Errorf("second sweep = %v, %v; want nothing", again, err)
	}
}

func TestDeleteProjectPurgesTargets(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice@example.com")
	p := mustProject(t, s, alice.ID)
	other := mustProject(t, s, alice.ID)

	parent := mustTask(t, s, p.ID, 0, "parent")
	child := mustTask(t, s, p.ID, parent.ID, "child")
	keep := mustTask(t, s, other.ID, 0, "elsewhere")

	onTask, err := s.CreateComment(ctx, Comment{Target: ref.New(ref.Task, child.ID), AuthorID: alice.ID, Body: "hi"})
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	attach := func(target ref.Ref, digest string) {
		if _, err := s.CreateAttachment(ctx, Attachment{
			Target: target, UploaderID: alice.ID, Filename: "f.txt", ContentType: "text/plain", Size: 1, Digest: digest,
		}); err != nil {
			t.Fatalf("CreateAttachment: %v", err)
		}
	}
	attach(ref.New(ref.Project, p.ID), "d1")
	attach(ref.New(ref.Comment, onTask.ID), "d2")
	attach(ref.New(ref.Task, keep.ID), "d3")

	digests, err := s.DeleteProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if len(digests) != 2 {
		t.Errorf("digests = %v, want d1 and d2", digests)
	}

	for _, id := range []int64{parent.ID, child.ID} {
		if _, err := s.GetTask(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("GetTask(%d) error = %v, want not found", id, err)
		}
	}
	if _, err := s.GetComment(ctx, onTask.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("comment survived project delete: %v", err)
	}
	for digest, want := range map[string]bool{"d1": false, "d2": false, "d3": true} {
		used, err := s.DigestInUse(ctx, digest)
		if err != nil {
			t.Fatalf("DigestInUse: %v", err)
		}
		if used != want {
			t.Errorf("DigestInUse(%s) = %v, want %v", digest, used, want)
		}
	}
	if _, err := s.GetTask(ctx, keep.ID); err != nil {
		t.Errorf("task in other project: %v", err)
	}
}

func TestDeleteCommentRemovesThread(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice@example.com")
	p := mustProject(t, s, alice.ID)
	target := ref.New(ref.Project, p.ID)

	root, _ := s.CreateComment(ctx, Comment{Target: target, AuthorID: alice.ID, Body: "root"})
	reply, _ := s.CreateComment(ctx, Comment{Target: target, ParentID: root.ID, AuthorID: alice.ID, Body: "reply"})
	if _, err := s.CreateAttachment(ctx, Attachment{
		Target: ref.New(ref.Comment, reply.ID), Filename: "x", ContentType: "text/plain", Size: 1, Digest: "dx",
	}); err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}
	if created, err := s.SetReaction(ctx, reply.ID, alice.ID, "like"); err != nil || !created {
		t.Fatalf("SetReaction = %v, %v", created, err)
	}
	if created, err := s.SetReaction(ctx, reply.ID, alice.ID, "heart"); err != nil || created {
		t.Fatalf("second SetReaction = %v, %v, want replace", created, err)
	}
	reactions, _ := s.Reactions(ctx, reply.ID)
	if len(reactions) != 1 || reactions[0].Reaction != "heart" || reactions[0].Count != 1 {
		t.Errorf("reactions = %+v, want one heart", reactions)
	}
	if _, err := s.SetReaction(ctx, reply.ID, alice.ID, "thumbs_up"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown reaction error = %v, want validation", err)
	}

	digests, err := s.DeleteComment(ctx, root.ID)
	if err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}
	if len(digests) != 1 || digests[0] != "dx" {
		t.Errorf("digests = %v, want [dx]", digests)
	}
	if _, err := s.GetComment(ctx, reply.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("reply survived: %v", err)
	}
}

func TestNotificationsDedupeAndRead(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	bob := mustUser(t, s, "bob@example.com")

	n := Notification{EventID: "evt-1", RecipientID: bob.ID, Type: "task_assigned", Title: "Assigned"}
	for i, want := range []bool{true, false} {
		wrote, err := s.InsertNotification(ctx, n)
		if err != nil {
			t.Fatalf("InsertNotification #%d: %v", i, err)
		}
		if wrote != want {
			t.Errorf("InsertNotification #%d wrote = %v, want %v", i, wrote, want)
		}
	}
	n.EventID = "evt-2"
	if _, err := s.InsertNotification(ctx, n); err != nil {
		t.Fatalf("InsertNotification: %v", err)
	}

	if c, _ := s.UnreadCount(ctx, bob.ID); c != 2 {
		t.Errorf("UnreadCount = %d, want 2", c)
	}
	list, err := s.ListNotifications(ctx, bob.ID, true, Page{})
	if err != nil || len(list) != 2 {
		t.Fatalf("ListNotifications = %d, %v", len(list), err)
	}
	if err := s.MarkRead(ctx, list[0].ID, bob.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := s.MarkRead(ctx, list[0].ID, bob.ID+1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("MarkRead by other user error = %v, want not found", err)
	}
	changed, err := s.MarkAllRead(ctx, bob.ID)
	if err != nil || changed != 1 {
		t.Errorf("MarkAllRead = %d, %v; want 1", changed, err)
	}
	if c, _ := s.UnreadCount(ctx, bob.ID); c != 0 {
		t.Errorf("UnreadCount after MarkAllRead = %d", c)
	}
}

func TestActivityLogIsAppendOnly(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	a := Activity{EventID: "evt-1", UserID: 1, Action: "task.created", Target: ref.New(ref.Task, 7), ProjectID: 3}
	if wrote, err := s.AppendActivity(ctx, a); err != nil || !wrote {
		t.Fatalf("AppendActivity = %v, %v", wrote, err)
	}
	if wrote, err := s.AppendActivity(ctx, a); err != nil || wrote {
		t.Errorf("replayed AppendActivity = %v, %v; want ignored", wrote, err)
	}

	if _, err := s.db.ExecContext(ctx, "UPDATE activity_log SET action = 'x'"); err == nil {
		t.Error("UPDATE on activity_log succeeded")
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM activity_log"); err == nil {
		t.Error("DELETE on activity_log succeeded")
	}

	entries, err := s.ListProjectActivity(ctx, 3, Page{})
	if err != nil {
		t.Fatalf("ListProjectActivity: %v", err)
	}
	if len(entries) != 1 || string(entries[0].Changes) != "{}" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestProjectVisibility(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, s, "alice@example.com")
	carol := mustUser(t, s, "carol@example.com")
	dave := mustUser(t, s, "dave@example.com")
	p := mustProject(t, s, alice.ID)

	team, _ := s.CreateTeam(ctx, Team{Name: "Design"})
	if _, err := s.AddTeamMember(ctx, team.ID, carol.ID, "member"); err != nil {
		t.Fatalf("AddTeamMember: %v", err)
	}
	if _, err := s.AssignTeam(ctx, p.ID, team.ID, true); err != nil {
		t.Fatalf("AssignTeam: %v", err)
	}

	for _, tc := range []struct {
		user *User
		want int
	}{
		{alice, 1},
		{carol, 1},
		{dave, 0},
	} {
		got, err := s.ListProjects(ctx, tc.user.ID, false, Page{})
		if err != nil {
			t.Fatalf("ListProjects(%s): %v", tc.user.Email, err)
		}
		if len(got) != tc.want {
			t.Errorf("ListProjects(%s) = %d projects, want %d", tc.user.Email, len(got), tc.want)
		}
	}

	audience, err := s.ProjectAudience(ctx, p.ID)
	if err != nil {
		t.Fatalf("ProjectAudience: %v", err)
	}
	if len(audience) != 2 {
		t.Errorf("audience = %v, want alice and carol", audience)
	}
}
