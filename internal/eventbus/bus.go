package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// Handler reacts to one event. A returned error is logged and counted; it
// never reaches the publisher or other handlers.
type Handler func(ctx context.Context, e domain.Event) error

// Publisher is the side of the bus the queue service depends on.
type Publisher interface {
	Publish(e domain.Event)
}

// Subscriber is the side of the bus event consumers register against.
type Subscriber interface {
	Subscribe(t domain.EventType, name string, handler Handler)
	SubscribeAll(name string, handler Handler)
}

// MetricHooks carries the metric callbacks injected by main so the bus does
// not import prometheus.
type MetricHooks struct {
	OnPublished     func(t domain.EventType)
	OnHandlerFailed func(subscriber string, t domain.EventType)
}

// Record is one entry of the diagnostic history.
type Record struct {
	Seq         uint64           `json:"seq"`
	Type        domain.EventType `json:"type"`
	ClinicID    string           `json:"clinic_id"`
	PublishedAt time.Time        `json:"published_at"`
	Event       domain.Event     `json:"event"`
}

type subscription struct {
	name      string
	eventType domain.EventType // empty matches every type
	handler   Handler
}

// Bus is an in-process publish/subscribe broker.
//
// Publish appends to an unbounded in-memory queue and returns immediately.
// A single dispatcher goroutine delivers each event to every matching
// handler in registration order, so one clinic's events are observed by a
// subscriber in the order they were published.
type Bus struct {
	mu     sync.Mutex
	subs   []subscription
	queue  []domain.Event
	busy   bool
	seq    uint64
	wake   chan struct{}
	wg     sync.WaitGroup
	ring   *Ring[Record]
	logger *zap.Logger
	hooks  MetricHooks

	handlerTimeout time.Duration
}

// Options configures a Bus. Zero values fall back to defaults.
type Options struct {
	HistorySize    int
	HandlerTimeout time.Duration
	Hooks          MetricHooks
}

const (
	DefaultHistorySize    = 256
	DefaultHandlerTimeout = 5 * time.Second
)

func New(logger *zap.Logger, opts Options) *Bus {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if opts.Hooks.OnPublished == nil {
		opts.Hooks.OnPublished = func(domain.EventType) {}
	}
	if opts.Hooks.OnHandlerFailed == nil {
		opts.Hooks.OnHandlerFailed = func(string, domain.EventType) {}
	}
	return &Bus{
		wake:           make(chan struct{}, 1),
		ring:           NewRing[Record](opts.HistorySize),
		logger:         logger.With(zap.String("component", "eventbus")),
		hooks:          opts.Hooks,
		handlerTimeout: opts.HandlerTimeout,
	}
}

// Subscribe registers handler for a single event type.
func (b *Bus) Subscribe(t domain.EventType, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, eventType: t, handler: handler})
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(name string, handler Handler) {
	b.Subscribe("", name, handler)
}

// Publish records e in the history and queues it for delivery.
// It never blocks on subscribers and never fails.
func (b *Bus) Publish(e domain.Event) {
	b.mu.Lock()
	b.seq++
	b.ring.Push(Record{
		Seq:         b.seq,
		Type:        e.Type(),
		ClinicID:    e.Metadata().ClinicID,
		PublishedAt: time.Now().UTC(),
		Event:       e,
	})
	b.queue = append(b.queue, e)
	b.mu.Unlock()

	b.hooks.OnPublished(e.Type())

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Recent returns up to n of the most recently published events, oldest first.
func (b *Bus) Recent(n int) []Record {
	return b.ring.Last(n)
}

// Start launches the dispatcher goroutine. Cancelling ctx stops it after
// every event already published has been delivered.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(ctx)
	}()
}

// Wait blocks until the dispatcher has returned after ctx is cancelled.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Flush blocks until every queued event has been handled or ctx is done.
func (b *Bus) Flush(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		b.mu.Lock()
		idle := len(b.queue) == 0 && !b.busy
		b.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Bus) run(ctx context.Context) {
	b.logger.Info("event dispatcher started")
	for {
		b.drain()
		select {
		case <-b.wake:
		case <-ctx.Done():
			b.drain()
			b.logger.Info("event dispatcher stopped")
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.busy = false
			b.mu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.busy = true
		subs := make([]subscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, s := range subs {
			if s.eventType != "" && s.eventType != e.Type() {
				continue
			}
			if err := b.invoke(s, e); err != nil {
				b.logger.Error("event handler failed",
					zap.String("subscriber", s.name),
					zap.String("event", string(e.Type())),
					zap.String("clinic_id", e.Metadata().ClinicID),
					zap.Error(err),
				)
				b.hooks.OnHandlerFailed(s.name, e.Type())
			}
		}
	}
}

// invoke runs one handler with its own timeout. Handlers run on a fresh
// context so events drained during shutdown are still delivered.
func (b *Bus) invoke(s subscription, e domain.Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx, e)
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)
