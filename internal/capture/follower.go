package capture

import (
	"context"
	"log"
	"os"
	"time"
)

// Follower mirrors the persisted capture state onto a local monitor. Worker
// processes without a permission surface use it to track the API's decision.
type Follower struct {
	store    StateStore
	monitor  Monitor
	interval time.Duration
	logger   *log.Logger
}

// NewFollower constructs a follower polling every interval. logger may be nil.
func NewFollower(store StateStore, monitor Monitor, interval time.Duration, logger *log.Logger) *Follower {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[capture] ", log.LstdFlags|log.Lshortfile)
	}
	return &Follower{store: store, monitor: monitor, interval: interval, logger: logger}
}

// Run syncs until ctx is cancelled, then stops the monitor.
func (f *Follower) Run(ctx context.Context) error {
	defer f.monitor.Stop()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		f.Sync(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sync applies the persisted state once. Load failures leave the monitor as is.
func (f *Follower) Sync(ctx context.Context) {
	enabled, err := f.store.LoadCaptureEnabled(ctx)
	if err != nil {
		f.logger.Printf("load capture state: %v", err)
		return
	}
	if enabled {
		if f.monitor.Start() {
			f.logger.Printf("capture enabled, monitor started")
		}
		return
	}
	if f.monitor.Stop() {
		f.logger.Printf("capture disabled, monitor stopped")
	}
}
