package notify_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/mail"
	"github.com/kidandcat/workboard/internal/notify"
	"github.com/kidandcat/workboard/internal/ref"
)

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (o *outbox) Send(_ context.Context, m mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

func setup(t *testing.T) (*db.Store, *notify.Notifier, *outbox) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store, err := db.OpenPath(context.Background(), filepath.Join(t.TempDir(), "notify.db"), db.Options{Clock: clk})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	box := &outbox{}
	n := notify.New(notify.Options{Store: store, Mailer: box, BaseURL: "https://board.example.com"})
	return store, n, box
}

func TestNotifyIsIdempotent(t *testing.T) {
	store, n, box := setup(t)
	ctx := context.Background()
	alice, err := store.CreateUser(ctx, "alice@example.com", "Alice", "member")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	bob, err := store.CreateUser(ctx, "bob@example.com", "Bob", "member")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	e := events.New(events.TaskAssigned, alice.ID, ref.New(ref.Task, 7))
	e.Title = "You were assigned \"Ship it\""
	e.Recipients = []int64{bob.ID, 999}

	for i := 0; i < 2; i++ {
		if err := n.Notify(ctx, e); err != nil {
			t.Fatalf("Notify #%d: %v", i, err)
		}
	}
	list, err := store.ListNotifications(ctx, bob.ID, false, db.Page{})
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("notifications = %d, want 1", len(list))
	}
	if list[0].Type != "task.assigned" || list[0].ActorID != alice.ID || list[0].Target != ref.New(ref.Task, 7) {
		t.Errorf("notification = %+v", list[0])
	}
	if len(box.sent) != 1 || box.sent[0].To != "bob@example.com" {
		t.Errorf("sent = %+v, want one mail to bob", box.sent)
	}
}

func TestNotifyMailsInvitation(t *testing.T) {
	store, n, box := setup(t)
	ctx := context.Background()
	lead, _ := store.CreateUser(ctx, "lead@example.com", "Lena", "member")
	invitee, _ := store.CreateUser(ctx, "new@example.com", "", "member")
	team, err := store.CreateTeam(ctx, db.Team{Name: "Platform", LeaderID: lead.ID})
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	inv, err := store.CreateInvitation(ctx, db.Invitation{
		TeamID: team.ID, InviteeID: invitee.ID, InviterID: lead.ID, Role: "member", Message: "Join us",
	})
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}

	e := events.New(events.InvitationSent, lead.ID, ref.New(ref.Invitation, inv.ID))
	e.Title = "You were invited"
	e.Recipients = []int64{invitee.ID}
	if err := n.Notify(ctx, e); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(box.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(box.sent))
	}
	m := box.sent[0]
	if m.To != "new@example.com" || !strings.Contains(m.Subject, "Platform") {
		t.Errorf("mail = %+v", m)
	}
	for _, want := range []string{"Lena", "Join us", "https://board.example.com/invitations"} {
		if !strings.Contains(m.HTML, want) {
			t.Errorf("mail body missing %q: %s", want, m.HTML)
		}
	}
}

func TestRecordAppendsOnce(t *testing.T) {
	store, n, _ := setup(t)
	ctx := context.Background()
	alice, _ := store.CreateUser(ctx, "alice@example.com", "", "member")

	e := events.New(events.ProjectUpdated, alice.ID, ref.New(ref.Project, 3))
	e.ProjectID = 3
	e.Title = "Project \"Apollo\" updated"
	e.Changes = map[string]any{"name": "Apollo"}
	for i := 0; i < 2; i++ {
		if err := n.Record(ctx, e); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}
	overdue := events.New(events.TaskOverdue, 0, ref.New(ref.Task, 1))
	overdue.ProjectID = 3
	if err := n.Record(ctx, overdue); err != nil {
		t.Fatalf("Record(overdue): %v", err)
	}

	log, err := store.ListProjectActivity(ctx, 3, db.Page{})
	if err != nil {
		t.Fatalf("ListProjectActivity: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("activity = %d entries, want 1", len(log))
	}
	if log[0].Action != "project.updated" || string(log[0].Changes) != `{"name":"Apollo"}` {
		t.Errorf("activity = %+v", log[0])
	}
}
