package provider

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
)

// Source is a running subscription to the location provider. Run blocks,
// dispatching into sink until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, sink Sink) error

// Run implements Source.
func (f SourceFunc) Run(ctx context.Context, sink Sink) error { return f(ctx, sink) }

// MonitorOption customises a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger overrides the monitor logger.
func WithMonitorLogger(logger *log.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBaseContext sets the context every started subscription derives from.
func WithBaseContext(ctx context.Context) MonitorOption {
	return func(m *Monitor) {
		if ctx != nil {
			m.base = ctx
		}
	}
}

// Monitor owns at most one running provider subscription. Start and Stop are idempotent.
type Monitor struct {
	source Source
	sink   Sink
	logger *log.Logger
	base   context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor constructs a stopped monitor.
func NewMonitor(source Source, sink Sink, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		source: source,
		sink:   sink,
		logger: log.New(os.Stdout, "[monitor] ", log.LstdFlags|log.Lshortfile),
		base:   context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the subscription. It reports false when one is already running.
func (m *Monitor) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return false
	}
	ctx, cancel := context.WithCancel(m.base)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	monitorRunning.Set(1)
	m.logger.Printf("provider monitoring started")

	go func() {
		defer close(done)
		err := m.source.Run(ctx, m.sink)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Printf("provider source stopped: %v", err)
		}
		m.mu.Lock()
		if m.done == done {
			m.cancel()
			m.cancel, m.done = nil, nil
			monitorRunning.Set(0)
		}
		m.mu.Unlock()
	}()
	return true
}

// Stop cancels the running subscription and waits for it to exit. It reports
// false when nothing was running.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return false
	}
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	monitorRunning.Set(0)
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Printf("provider monitoring stopped")
	return true
}

// Running reports whether a subscription is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}
