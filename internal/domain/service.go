// Package domain defines the place visit model and the event store service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyPlaceName is reported by Validate for events without a place.
	ErrEmptyPlaceName = errors.New("place name is required")
	// ErrNegativeTimestamp is reported by Validate for pre-epoch timestamps.
	ErrNegativeTimestamp = errors.New("timestamp must not be negative")
	// ErrUnknownKind is reported by Validate for kinds other than arrival/departure.
	ErrUnknownKind = errors.New("unknown visit kind")
	// ErrRejected marks a write the store refused on its own constraints. Retrying
	// the same event cannot succeed.
	ErrRejected = errors.New("event rejected by store")
)

// Cursor models the pagination token for ordered listings.
type Cursor struct {
	Timestamp int64
	Seq       int64
}

// StoredVisit pairs an event with its insertion sequence.
type StoredVisit struct {
	PlaceVisitEvent
	Seq        int64
	RecordedAt time.Time
}

// VisitRepository captures persistence operations. Implementations order results
// by timestamp descending with ties broken by ascending insertion sequence, and keep
// the original sequence when an existing key is overwritten.
type VisitRepository interface {
	Upsert(ctx context.Context, event PlaceVisitEvent) error
	QueryAll(ctx context.Context) ([]StoredVisit, error)
	List(ctx context.Context, cursor *Cursor, limit int) ([]StoredVisit, *Cursor, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// ChangeNotifier is told about every successful store mutation.
type ChangeNotifier interface {
	Invalidate()
}

// Service is the event store used by the capture pipeline and the presentation layer.
type Service struct {
	repo     VisitRepository
	notifier ChangeNotifier
}

// NewService constructs a Service. notifier may be nil.
func NewService(repo VisitRepository, notifier ChangeNotifier) *Service {
	return &Service{repo: repo, notifier: notifier}
}

// Record normalizes a provider crossing and upserts the result.
func (s *Service) Record(ctx context.Context, crossing RawCrossing) (PlaceVisitEvent, error) {
	event := Normalize(crossing)
	if err := s.Upsert(ctx, event); err != nil {
		return event, err
	}
	return event, nil
}

// Upsert writes the event under its deterministic key; a replay overwrites in place.
func (s *Service) Upsert(ctx context.Context, event PlaceVisitEvent) error {
	if event.ID == "" {
		event.ID = EventKey(event.PlaceName, event.Timestamp, event.Kind)
	}
	if err := s.repo.Upsert(ctx, event); err != nil {
		return fmt.Errorf("upsert visit %s: %w", event.ID, err)
	}
	s.changed()
	return nil
}

// QueryAll returns every stored event in display order.
func (s *Service) QueryAll(ctx context.Context) ([]PlaceVisitEvent, error) {
	stored, err := s.repo.QueryAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	out := make([]PlaceVisitEvent, 0, len(stored))
	for _, sv := range stored {
		out = append(out, sv.PlaceVisitEvent)
	}
	return out, nil
}

// List pages through stored events in display order.
func (s *Service) List(ctx context.Context, cursor *Cursor, limit int) ([]StoredVisit, *Cursor, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.List(ctx, cursor, limit)
}

// ClearAll removes every stored event and returns how many were removed.
func (s *Service) ClearAll(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear visits: %w", err)
	}
	s.changed()
	return removed, nil
}

func (s *Service) changed() {
	if s.notifier != nil {
		s.notifier.Invalidate()
	}
}

// Validate applies the optional consumer-side policy checks. The store itself
// accepts events that fail them.
func Validate(event PlaceVisitEvent) error {
	var errs []error
	if strings.TrimSpace(event.PlaceName) == "" {
		errs = append(errs, ErrEmptyPlaceName)
	}
	if event.Timestamp < 0 {
		errs = append(errs, ErrNegativeTimestamp)
	}
	if !event.Kind.Valid() {
		errs = append(errs, ErrUnknownKind)
	}
	return errors.Join(errs...)
}
