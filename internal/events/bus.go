package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/workboard/internal/clock"
)

const (
	defaultCapacity     = 256
	defaultWorkers      = 2
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 200 * time.Millisecond
	defaultDedupeWindow = 1024
)

// Handler consumes one event. A returned error is retried with backoff
// up to the bus's attempt limit.
type Handler func(ctx context.Context, e Event) error

// BusOptions configures NewBus. Zero values select defaults.
type BusOptions struct {
	Capacity     int
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	DedupeWindow int
	Clock        clock.Clock
	Logger       *slog.Logger
}

type subscription struct {
	name    string
	handler Handler
}

// Bus is an in-process Sink with a bounded queue. Run starts the
// workers; every event goes to every subscriber in subscription order.
// When the queue is full the event is dropped with a warning, so a slow
// consumer never stalls a request.
type Bus struct {
	queue        chan Event
	workers      int
	maxAttempts  int
	retryBackoff time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu          sync.RWMutex
	subs        []subscription
	recentIDs   map[string]struct{}
	recentOrder []string
	window      int
}

func NewBus(opts BusOptions) *Bus {
	b := &Bus{
		queue:        make(chan Event, atLeast(opts.Capacity, defaultCapacity)),
		workers:      atLeast(opts.Workers, defaultWorkers),
		maxAttempts:  atLeast(opts.MaxAttempts, defaultMaxAttempts),
		retryBackoff: opts.RetryBackoff,
		clock:        opts.Clock,
		logger:       opts.Logger,
		recentIDs:    map[string]struct{}{},
		window:       atLeast(opts.DedupeWindow, defaultDedupeWindow),
	}
	if b.retryBackoff <= 0 {
		b.retryBackoff = defaultRetryBackoff
	}
	if b.clock == nil {
		b.clock = clock.Real()
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

func atLeast(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Subscribe registers handler under name. Subscribing after Run has
// started is allowed; the handler sees events dequeued from then on.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: handler})
}

// Emit queues e. Events without an ID get one; events whose ID was
// queued recently are ignored. A dropped event is not remembered.
func (b *Bus) Emit(_ context.Context, e Event) {
	if e.ID == "" {
		e = withID(e)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = b.clock.Now().UTC()
	}
	if b.isDuplicate(e.ID) {
		return
	}
	select {
	case b.queue <- e:
	default:
		b.forget(e.ID)
		b.logger.Warn("event dropped: queue full", "event_id", e.ID, "type", e.Type, "capacity", cap(b.queue))
	}
}

func withID(e Event) Event {
	n := New(e.Type, e.ActorID, e.Target)
	e.ID = n.ID
	return e
}

func (b *Bus) isDuplicate(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recentIDs[id]; ok {
		return true
	}
	b.recentIDs[id] = struct{}{}
	b.recentOrder = append(b.recentOrder, id)
	if len(b.recentOrder) > b.window {
		oldest := b.recentOrder[0]
		b.recentOrder = b.recentOrder[1:]
		delete(b.recentIDs, oldest)
	}
	return false
}

// forget removes id from the dedupe window so a dropped event can be
// emitted again.
func (b *Bus) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recentIDs[id]; !ok {
		return
	}
	delete(b.recentIDs, id)
	for i := len(b.recentOrder) - 1; i >= 0; i-- {
		if b.recentOrder[i] == id {
			b.recentOrder = append(b.recentOrder[:i], b.recentOrder[i+1:]...)
			break
		}
	}
}

// Pending reports how many events are waiting in the queue.
func (b *Bus) Pending() int { return len(b.queue) }

// Run delivers queued events until ctx is done, then delivers whatever
// is still queued (one attempt each) and returns.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("event bus started", "workers", b.workers, "capacity", cap(b.queue))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case e := <-b.queue:
					b.dispatch(gctx, e, b.maxAttempts)
				}
			}
		})
	}
	g.Wait()

	drainCtx := context.WithoutCancel(ctx)
	drained := 0
	for {
		select {
		case e := <-b.queue:
			b.dispatch(drainCtx, e, 1)
			drained++
		default:
			b.logger.Info("event bus stopped", "drained", drained)
			return nil
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event, attempts int) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()
	for _, s := range subs {
		b.deliver(ctx, s, e, attempts)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, e Event, attempts int) {
	backoff := b.retryBackoff
	for attempt := 1; ; attempt++ {
		err := s.handler(ctx, e)
		if err == nil {
			return
		}
		if attempt >= attempts {
			b.logger.Error("event handler failed",
				"subscriber", s.name, "event_id", e.ID, "type", e.Type, "attempts", attempt, "error", err)
			return
		}
		b.logger.Warn("event handler failed, retrying",
			"subscriber", s.name, "event_id", e.ID, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-b.clock.After(backoff):
		}
		backoff *= 2
	}
}
