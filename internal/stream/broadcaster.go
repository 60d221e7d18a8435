// Package stream projects the event store as a live, multi-subscriber feed of
// ordered visit snapshots.
package stream

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"

	"example.com/placevisits/internal/domain"
)

// ErrClosed is returned by Subscribe after the broadcaster has stopped.
var ErrClosed = errors.New("stream closed")

// Source yields the current ordered visit collection.
type Source interface {
	QueryAll(ctx context.Context) ([]domain.PlaceVisitEvent, error)
}

// Option configures optional behaviour for the Broadcaster.
type Option func(*Broadcaster)

// WithLogger overrides the logger used to report refresh errors.
func WithLogger(logger *log.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// Broadcaster re-reads the source whenever it is invalidated and pushes the full
// snapshot to every subscriber.
type Broadcaster struct {
	source Source
	logger *log.Logger
	dirty  chan struct{}

	// queryMu serialises source reads with their fan-out so snapshots reach
	// subscribers in the order they were read.
	queryMu sync.Mutex

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBroadcaster constructs a Broadcaster over source.
func NewBroadcaster(source Source, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		source: source,
		logger: log.New(log.Writer(), "[stream] ", log.LstdFlags|log.Lshortfile),
		dirty:  make(chan struct{}, 1),
		subs:   make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Invalidate marks the current snapshot stale. It never blocks and coalesces
// bursts of changes into a single refresh.
func (b *Broadcaster) Invalidate() {
	select {
	case b.dirty <- struct{}{}:
	default:
	}
}

// Run services invalidations until ctx is cancelled, then closes every subscription.
func (b *Broadcaster) Run(ctx context.Context) error {
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.dirty:
			if err := b.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Printf("refresh failed: %v", err)
			}
		}
	}
}

// Refresh reads the source and delivers the snapshot to all subscribers. On error
// subscribers keep their last snapshot.
func (b *Broadcaster) Refresh(ctx context.Context) error {
	b.queryMu.Lock()
	defer b.queryMu.Unlock()

	snapshot, err := b.source.QueryAll(ctx)
	if err != nil {
		refreshErrors.Inc()
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.offer(slices.Clone(snapshot))
	}
	return nil
}

// Subscribe registers a subscriber and delivers the current snapshot before
// returning. The subscription ends on Close or when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (*Subscription, error) {
	b.queryMu.Lock()
	defer b.queryMu.Unlock()

	snapshot, err := b.source.QueryAll(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		parent: b,
		ch:     make(chan []domain.PlaceVisitEvent, 1),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub
	sub.offer(snapshot)
	subscriberGauge.Set(float64(len(b.subs)))
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers reports the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
	subscriberGauge.Set(float64(len(b.subs)))
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Subscription receives ordered visit snapshots. Only the latest undelivered
// snapshot is retained, so a slow reader skips intermediate states.
type Subscription struct {
	id     uint64
	parent *Broadcaster
	ch     chan []domain.PlaceVisitEvent
	done   chan struct{}
	once   sync.Once
}

// C returns the snapshot channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan []domain.PlaceVisitEvent {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.parent.remove(s)
		close(s.done)
	})
}

// offer must be called with the parent lock held; it is the only sender.
func (s *Subscription) offer(snapshot []domain.PlaceVisitEvent) {
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snapshot
}
