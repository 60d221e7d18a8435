// Package provider adapts location-provider notifications into the capture pipeline
// and owns the single provider subscription.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"example.com/placevisits/internal/domain"
	"example.com/placevisits/pkg/events"
)

// Notification names one of the four provider callbacks.
type Notification string

const (
	RegionEntered       Notification = events.RegionEntered
	RegionExited        Notification = events.RegionExited
	CustomRegionEntered Notification = events.CustomRegionEntered
	CustomRegionExited  Notification = events.CustomRegionExited
)

// ErrUnknownNotification is returned for notification names outside the four callbacks.
var ErrUnknownNotification = errors.New("unknown provider notification")

// ParseNotification validates a notification name.
func ParseNotification(name string) (Notification, error) {
	switch n := Notification(name); n {
	case RegionEntered, RegionExited, CustomRegionEntered, CustomRegionExited:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNotification, name)
	}
}

// Source reports the notification family.
func (n Notification) Source() domain.CrossingSource {
	if n == CustomRegionEntered || n == CustomRegionExited {
		return domain.CrossingSourceCustomRegion
	}
	return domain.CrossingSourceRegion
}

// Listener receives provider callbacks. Implementations must not block for long.
// A returned error means the crossing was not handled and should be redelivered.
type Listener interface {
	OnRegionEntered(ctx context.Context, crossing domain.RawCrossing) error
	OnRegionExited(ctx context.Context, crossing domain.RawCrossing) error
	OnCustomRegionEntry(ctx context.Context, crossing domain.RawCrossing) error
	OnCustomRegionExit(ctx context.Context, crossing domain.RawCrossing) error
}

// Tracking selects which notification families are forwarded.
type Tracking struct {
	RegionEvents bool
	CustomEntry  bool
	CustomExit   bool
}

// DefaultTracking forwards everything.
func DefaultTracking() Tracking {
	return Tracking{RegionEvents: true, CustomEntry: true, CustomExit: true}
}

// Allows reports whether n is tracked.
func (t Tracking) Allows(n Notification) bool {
	switch n {
	case RegionEntered, RegionExited:
		return t.RegionEvents
	case CustomRegionEntered:
		return t.CustomEntry
	case CustomRegionExited:
		return t.CustomExit
	default:
		return false
	}
}

// Sink accepts notifications from a provider source.
type Sink interface {
	Dispatch(ctx context.Context, n Notification, crossing domain.RawCrossing) error
}

type cachedNotification struct {
	n        Notification
	crossing domain.RawCrossing
}

const defaultCacheLimit = 256

// AdapterOption customises an Adapter.
type AdapterOption func(*Adapter)

// WithLogger overrides the adapter logger.
func WithLogger(logger *log.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithCacheLimit bounds how many notifications are held while no listener is attached.
func WithCacheLimit(limit int) AdapterOption {
	return func(a *Adapter) {
		if limit >= 0 {
			a.cacheLimit = limit
		}
	}
}

// Adapter fans notifications out to listeners. Notifications that arrive before the
// first listener is attached are cached and replayed on attach; this only matters
// to embedders that start a source before wiring listeners.
type Adapter struct {
	logger     *log.Logger
	cacheLimit int

	mu        sync.Mutex
	tracking  Tracking
	listeners []Listener
	cached    []cachedNotification
}

// NewAdapter constructs an adapter with the given tracking preferences.
func NewAdapter(tracking Tracking, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		logger:     log.New(os.Stdout, "[provider] ", log.LstdFlags|log.Lshortfile),
		cacheLimit: defaultCacheLimit,
		tracking:   tracking,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetTracking replaces the tracking preferences.
func (a *Adapter) SetTracking(t Tracking) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracking = t
}

// Tracking returns the current preferences.
func (a *Adapter) Tracking() Tracking {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracking
}

// AddListener attaches l and replays any cached notifications to it.
func (a *Adapter) AddListener(ctx context.Context, l Listener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, l)
	cached := a.cached
	a.cached = nil
	a.mu.Unlock()

	if len(cached) > 0 {
		a.logger.Printf("replaying %d cached notifications", len(cached))
	}
	for _, c := range cached {
		if err := deliver(ctx, l, c.n, c.crossing); err != nil {
			a.logger.Printf("replay %s for %q failed: %v", c.n, c.crossing.PlaceName, err)
		}
	}
}

// Dispatch implements Sink. Listener errors are joined and returned so the source
// can hold its position and redeliver.
func (a *Adapter) Dispatch(ctx context.Context, n Notification, crossing domain.RawCrossing) error {
	if _, err := ParseNotification(string(n)); err != nil {
		return err
	}
	crossing.Source = n.Source()

	a.mu.Lock()
	if !a.tracking.Allows(n) {
		a.mu.Unlock()
		notificationsDropped.WithLabelValues(string(n), "untracked").Inc()
		return nil
	}
	if len(a.listeners) == 0 {
		if len(a.cached) >= a.cacheLimit {
			a.mu.Unlock()
			notificationsDropped.WithLabelValues(string(n), "cache_full").Inc()
			a.logger.Printf("dropping %s for %q: cache full", n, crossing.PlaceName)
			return nil
		}
		a.cached = append(a.cached, cachedNotification{n: n, crossing: crossing})
		a.mu.Unlock()
		return nil
	}
	listeners := append([]Listener(nil), a.listeners...)
	a.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := deliver(ctx, l, n, crossing); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("dispatch %s: %w", n, err)
	}
	notificationsDispatched.WithLabelValues(string(n)).Inc()
	return nil
}

func deliver(ctx context.Context, l Listener, n Notification, crossing domain.RawCrossing) error {
	switch n {
	case RegionEntered:
		return l.OnRegionEntered(ctx, crossing)
	case RegionExited:
		return l.OnRegionExited(ctx, crossing)
	case CustomRegionEntered:
		return l.OnCustomRegionEntry(ctx, crossing)
	case CustomRegionExited:
		return l.OnCustomRegionExit(ctx, crossing)
	}
	return nil
}
