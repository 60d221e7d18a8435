// Package capture turns enable/disable intents into permission sessions and
// provider monitor lifecycle.
package capture

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"example.com/placevisits/internal/permission"
)

// StateStore persists whether capture is running across restarts.
type StateStore interface {
	LoadCaptureEnabled(ctx context.Context) (bool, error)
	SaveCaptureEnabled(ctx context.Context, enabled bool) error
}

// Acquirer is the permission session driver.
type Acquirer interface {
	Enable() (string, bool)
	Cancel() bool
	Status() permission.Status
	OnResolved(fn func(permission.Outcome))
}

// Monitor is the single provider subscription.
type Monitor interface {
	Start() bool
	Stop() bool
	Running() bool
}

// Status summarises capture for presentation.
type Status struct {
	Desired bool              `json:"desired"`
	Running bool              `json:"running"`
	Session permission.Status `json:"session"`
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger overrides the controller logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSaveTimeout bounds persistence calls made from permission callbacks.
func WithSaveTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.saveTimeout = d
		}
	}
}

// Controller starts the monitor only after a permission session resolves with
// the essential set granted, and persists the running state.
type Controller struct {
	acquirer    Acquirer
	monitor     Monitor
	store       StateStore
	logger      *log.Logger
	saveTimeout time.Duration

	mu      sync.Mutex
	desired bool
}

// NewController wires the controller to the acquirer's resolution signal.
func NewController(acquirer Acquirer, monitor Monitor, store StateStore, opts ...Option) *Controller {
	c := &Controller{
		acquirer:    acquirer,
		monitor:     monitor,
		store:       store,
		logger:      log.New(os.Stdout, "[capture] ", log.LstdFlags|log.Lshortfile),
		saveTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	acquirer.OnResolved(c.onResolved)
	return c
}

// Enable records the intent and starts (or joins) a permission session.
func (c *Controller) Enable() string {
	c.mu.Lock()
	c.desired = true
	c.mu.Unlock()

	id, started := c.acquirer.Enable()
	if started {
		c.logger.Printf("enable requested, permission session %s", id)
	}
	return id
}

// Disable stops capture, discards any active session and persists the choice.
func (c *Controller) Disable(ctx context.Context) error {
	c.mu.Lock()
	c.desired = false
	c.mu.Unlock()

	c.acquirer.Cancel()
	if c.monitor.Stop() {
		c.logger.Printf("capture disabled")
	}
	return c.store.SaveCaptureEnabled(ctx, false)
}

// Restore re-enables capture when it was running before the last shutdown.
// Permissions are re-evaluated because they may have been revoked meanwhile.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	enabled, err := c.store.LoadCaptureEnabled(ctx)
	if err != nil || !enabled {
		return false, err
	}
	c.logger.Printf("restoring capture")
	c.Enable()
	return true, nil
}

// Status reports intent, monitor state and the permission session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	desired := c.desired
	c.mu.Unlock()
	return Status{
		Desired: desired,
		Running: c.monitor.Running(),
		Session: c.acquirer.Status(),
	}
}

func (c *Controller) onResolved(out permission.Outcome) {
	c.mu.Lock()
	desired := c.desired
	c.mu.Unlock()

	run := desired && out.CaptureAllowed
	if run {
		c.monitor.Start()
	} else {
		c.monitor.Stop()
		if desired {
			c.logger.Printf("capture blocked: denied %v", out.Denied)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	if err := c.store.SaveCaptureEnabled(ctx, run); err != nil {
		c.logger.Printf("persist capture state: %v", err)
	}
}
