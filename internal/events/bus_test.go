package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/ref"
)

type collector struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
	want int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) handle(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, e.ID)
	if len(c.seen) == c.want {
		close(c.done)
	}
	return nil
}

func (c *collector) wait(t *testing.T) []string {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func startBus(t *testing.T, b *Bus) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestBusDeliversToEverySubscriber(t *testing.T) {
	b := NewBus(BusOptions{Workers: 1})
	first, second := newCollector(2), newCollector(2)
	b.Subscribe("first", first.handle)
	b.Subscribe("second", second.handle)
	startBus(t, b)

	b.Emit(context.Background(), New(TaskCreated, 1, ref.New(ref.Task, 1)))
	b.Emit(context.Background(), New(TaskCreated, 1, ref.New(ref.Task, 2)))

	if got := first.wait(t); len(got) != 2 {
		t.Errorf("first saw %v", got)
	}
	if got := second.wait(t); len(got) != 2 {
		t.Errorf("second saw %v", got)
	}
}

func TestBusAssignsIDAndTime(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBus(BusOptions{Clock: clk})
	b.Emit(context.Background(), Event{Type: TaskUpdated})

	e := <-b.queue
	if e.ID == "" {
		t.Error("ID not assigned")
	}
	if !e.OccurredAt.Equal(clk.Now()) {
		t.Errorf("OccurredAt = %v, want %v", e.OccurredAt, clk.Now())
	}
}

func TestBusDedupesByID(t *testing.T) {
	b := NewBus(BusOptions{DedupeWindow: 2})
	e := New(TaskCreated, 1, ref.New(ref.Task, 1))
	b.Emit(context.Background(), e)
	b.Emit(context.Background(), e)
	if n := b.Pending(); n != 1 {
		t.Fatalf("Pending = %d after duplicate emit, want 1", n)
	}

	// Once pushed out of the window the ID is accepted again.
	b.Emit(context.Background(), New(TaskCreated, 1, ref.New(ref.Task, 2)))
	b.Emit(context.Background(), New(TaskCreated, 1, ref.New(ref.Task, 3)))
	b.Emit(context.Background(), e)
	if n := b.Pending(); n != 4 {
		t.Errorf("Pending = %d, want 4", n)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	b := NewBus(BusOptions{Capacity: 2})
	for i := int64(1); i <= 5; i++ {
		b.Emit(context.Background(), New(TaskCreated, 1, ref.New(ref.Task, i)))
	}
	if n := b.Pending(); n != 2 {
		t.Errorf("Pending = %d, want 2", n)
	}
}

func TestBusRetriesDroppedEventLater(t *testing.T) {
	b := NewBus(BusOptions{Capacity: 1})
	ctx := context.Background()
	b.Emit(ctx, New(TaskCreated, 1, ref.New(ref.Task, 1)))

	overdue := New(TaskOverdue, 0, ref.New(ref.Task, 2))
	overdue.ID = DeterministicID("task.overdue", "2", "2026-03-02")
	b.Emit(ctx, overdue)
	if n := b.Pending(); n != 1 {
		t.Fatalf("Pending = %d with a full queue, want 1", n)
	}

	<-b.queue
	b.Emit(ctx, overdue)
	if n := b.Pending(); n != 1 {
		t.Fatalf("Pending = %d after re-emitting the dropped event, want 1", n)
	}
	if got := (<-b.queue).ID; got != overdue.ID {
		t.Errorf("queued %q, want %q", got, overdue.ID)
	}

	b.Emit(ctx, overdue)
	if n := b.Pending(); n != 0 {
		t.Errorf("Pending = %d after a duplicate of a queued event, want 0", n)
	}
}

func TestBusRetriesFailedHandler(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBus(BusOptions{Workers: 1, MaxAttempts: 3, RetryBackoff: time.Second, Clock: clk})

	var mu sync.Mutex
	calls := 0
	succeeded := make(chan struct{})
	b.Subscribe("flaky", func(context.Context, Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		close(succeeded)
		return nil
	})
	startBus(t, b)
	b.Emit(context.Background(), New(CommentCreated, 1, ref.New(ref.Comment, 1)))

	for attempt := 0; attempt < 2; attempt++ {
		deadline := time.Now().Add(5 * time.Second)
		for clk.Waiters() == 0 {
			if time.Now().After(deadline) {
				t.Fatalf("retry %d never scheduled", attempt+1)
			}
			time.Sleep(time.Millisecond)
		}
		clk.Advance(time.Duration(1<<attempt) * time.Second)
	}

	select {
	case <-succeeded:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never succeeded")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestBusDrainsOnShutdown(t *testing.T) {
	b := NewBus(BusOptions{Workers: 1})
	c := newCollector(3)
	b.Subscribe("collector", c.handle)
	for i := int64(1); i <= 3; i++ {
		b.Emit(context.Background(), New(TaskCreated, 1, ref.New(ref.Task, i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := c.wait(t); len(got) != 3 {
		t.Errorf("delivered %d events, want 3", len(got))
	}
}

func TestDeterministicID(t *testing.T) {
	a := DeterministicID("task.overdue", "12", "2026-03-02")
	if a != DeterministicID("task.overdue", "12", "2026-03-02") {
		t.Error("DeterministicID is not stable")
	}
	if a == DeterministicID("task.overdue", "12", "2026-03-03") {
		t.Error("DeterministicID ignores its inputs")
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit(context.Background(), New(TaskCreated, 1, ref.Ref{}))
	r.Emit(context.Background(), New(TaskDeleted, 1, ref.Ref{}))
	if n := len(r.OfType(TaskDeleted)); n != 1 {
		t.Errorf("OfType = %d events, want 1", n)
	}
	r.Reset()
	if n := len(r.Events()); n != 0 {
		t.Errorf("Events after Reset = %d", n)
	}
}
