package provider

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietMonitor(source Source) *Monitor {
	return NewMonitor(source, quietAdapter(DefaultTracking()), WithMonitorLogger(log.New(io.Discard, "", 0)))
}

func TestMonitorStartIsIdempotent(t *testing.T) {
	var runs atomic.Int32
	source := SourceFunc(func(ctx context.Context, _ Sink) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	monitor := quietMonitor(source)

	require.True(t, monitor.Start())
	require.False(t, monitor.Start())
	require.True(t, monitor.Running())

	require.True(t, monitor.Stop())
	require.False(t, monitor.Stop())
	require.False(t, monitor.Running())
	require.Equal(t, int32(1), runs.Load())

	require.True(t, monitor.Start())
	require.True(t, monitor.Stop())
	require.Equal(t, int32(2), runs.Load())
}

func TestMonitorClearsStateWhenSourceExits(t *testing.T) {
	source := SourceFunc(func(context.Context, Sink) error { return nil })
	monitor := quietMonitor(source)

	require.True(t, monitor.Start())
	require.Eventually(t, func() bool { return !monitor.Running() }, time.Second, 5*time.Millisecond)
	require.True(t, monitor.Start())
}

func TestMonitorStopsWithBaseContext(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	source := SourceFunc(func(ctx context.Context, _ Sink) error {
		<-ctx.Done()
		return ctx.Err()
	})
	monitor := NewMonitor(source, quietAdapter(DefaultTracking()),
		WithMonitorLogger(log.New(io.Discard, "", 0)), WithBaseContext(base))

	require.True(t, monitor.Start())
	cancel()
	require.Eventually(t, func() bool { return !monitor.Running() }, time.Second, 5*time.Millisecond)
}
