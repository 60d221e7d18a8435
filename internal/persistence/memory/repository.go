// Package memory provides an in-process visit store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"example.com/placevisits/internal/domain"
)

// Repository keeps visits in memory. It satisfies domain.VisitRepository and
// capture.StateStore.
type Repository struct {
	mu      sync.RWMutex
	visits  map[string]domain.StoredVisit
	nextSeq int64
	enabled bool
	now     func() time.Time
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		visits: make(map[string]domain.StoredVisit),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upsert implements domain.VisitRepository. Overwrites keep their original sequence.
// Like the Postgres schema, it refuses events without a place name.
func (r *Repository) Upsert(_ context.Context, event domain.PlaceVisitEvent) error {
	if event.PlaceName == "" {
		return fmt.Errorf("%w: %w", domain.ErrRejected, domain.ErrEmptyPlaceName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.visits[event.ID]
	if !ok {
		r.nextSeq++
		stored.Seq = r.nextSeq
	}
	stored.PlaceVisitEvent = event
	stored.RecordedAt = r.now()
	r.visits[event.ID] = stored
	return nil
}

// QueryAll implements domain.VisitRepository.
func (r *Repository) QueryAll(_ context.Context) ([]domain.StoredVisit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(), nil
}

// List implements domain.VisitRepository.
func (r *Repository) List(_ context.Context, cursor *domain.Cursor, limit int) ([]domain.StoredVisit, *domain.Cursor, error) {
	r.mu.RLock()
	all := r.sorted()
	r.mu.RUnlock()

	results := make([]domain.StoredVisit, 0, limit)
	for _, sv := range all {
		if cursor != nil && !after(sv, *cursor) {
			continue
		}
		results = append(results, sv)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{Timestamp: last.Timestamp, Seq: last.Seq}
	}
	return results, next, nil
}

// DeleteAll implements domain.VisitRepository.
func (r *Repository) DeleteAll(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := int64(len(r.visits))
	r.visits = make(map[string]domain.StoredVisit)
	return removed, nil
}

// LoadCaptureEnabled returns the persisted capture preference.
func (r *Repository) LoadCaptureEnabled(_ context.Context) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled, nil
}

// SaveCaptureEnabled persists the capture preference.
func (r *Repository) SaveCaptureEnabled(_ context.Context, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
	return nil
}

// sorted must be called with the lock held.
func (r *Repository) sorted() []domain.StoredVisit {
	out := make([]domain.StoredVisit, 0, len(r.visits))
	for _, sv := range r.visits {
		out = append(out, sv)
	}
	slices.SortFunc(out, compare)
	return out
}

func compare(a, b domain.StoredVisit) int {
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

// after reports whether sv sorts strictly after the cursor position.
func after(sv domain.StoredVisit, c domain.Cursor) bool {
	return compare(sv, domain.StoredVisit{
		PlaceVisitEvent: domain.PlaceVisitEvent{Timestamp: c.Timestamp},
		Seq:             c.Seq,
	}) > 0
}
