// Package device adapts a remote client's permission subsystem to permission.Platform.
package device

import (
	"errors"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/placevisits/internal/permission"
)

// ErrUnknownRequest is returned when resolving a request that is not pending.
var ErrUnknownRequest = errors.New("unknown permission request")

// PermissionState is one permission as last reported by the client.
type PermissionState struct {
	Granted   bool `json:"granted"`
	Rationale bool `json:"rationale"`
}

// Request is a batch awaiting the client's answer.
type Request struct {
	ID          string                  `json:"id"`
	Permissions []permission.Permission `json:"permissions"`
	IssuedAt    time.Time               `json:"issued_at"`
}

type pendingRequest struct {
	Request
	done func(map[permission.Permission]bool)
}

// Option customises a Bridge.
type Option func(*Bridge)

// WithLogger overrides the bridge logger.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bridge holds the last reported grant state and at most one pending request.
type Bridge struct {
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	version int
	states  map[permission.Permission]PermissionState
	pending *pendingRequest
}

// NewBridge constructs a bridge assuming version until the client reports one.
func NewBridge(version int, opts ...Option) *Bridge {
	b := &Bridge{
		logger:  log.New(os.Stdout, "[device] ", log.LstdFlags|log.Lshortfile),
		now:     time.Now,
		version: version,
		states:  make(map[permission.Permission]PermissionState),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Report replaces the known state. A version of 0 keeps the previous one.
func (b *Bridge) Report(version int, states map[permission.Permission]PermissionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if version > 0 {
		b.version = version
	}
	b.states = make(map[permission.Permission]PermissionState, len(states))
	for p, s := range states {
		b.states[p] = s
	}
}

// Version implements permission.Platform.
func (b *Bridge) Version() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// IsGranted implements permission.Platform.
func (b *Bridge) IsGranted(p permission.Permission) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[p].Granted
}

// ShouldShowRationale implements permission.Platform.
func (b *Bridge) ShouldShowRationale(p permission.Permission) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[p].Rationale
}

// RequestBatch implements permission.Platform. A request still pending is
// superseded and answered as denied.
func (b *Bridge) RequestBatch(perms []permission.Permission, done func(map[permission.Permission]bool)) {
	b.mu.Lock()
	prev := b.pending
	b.pending = &pendingRequest{
		Request: Request{
			ID:          uuid.NewString(),
			Permissions: slices.Clone(perms),
			IssuedAt:    b.now().UTC(),
		},
		done: done,
	}
	id := b.pending.ID
	b.mu.Unlock()

	b.logger.Printf("request %s issued for %v", id, perms)
	if prev != nil {
		b.logger.Printf("request %s superseded", prev.ID)
		prev.done(map[permission.Permission]bool{})
	}
}

// Pending returns the outstanding request, if any.
func (b *Bridge) Pending() (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return Request{}, false
	}
	req := b.pending.Request
	req.Permissions = slices.Clone(req.Permissions)
	return req, true
}

// Abort implements permission.Aborter. The pending request is withdrawn
// without invoking its callback.
func (b *Bridge) Abort() {
	b.mu.Lock()
	req := b.pending
	b.pending = nil
	b.mu.Unlock()
	if req != nil {
		b.logger.Printf("request %s withdrawn", req.ID)
	}
}

// Resolve answers the pending request. Permissions missing from results are denied.
func (b *Bridge) Resolve(id string, results map[permission.Permission]bool) error {
	b.mu.Lock()
	if b.pending == nil || b.pending.ID != id {
		b.mu.Unlock()
		return ErrUnknownRequest
	}
	req := b.pending
	b.pending = nil
	answers := make(map[permission.Permission]bool, len(req.Permissions))
	for _, p := range req.Permissions {
		granted := results[p]
		answers[p] = granted
		state := b.states[p]
		state.Granted = granted
		if granted {
			state.Rationale = false
		}
		b.states[p] = state
	}
	b.mu.Unlock()

	req.done(answers)
	return nil
}
