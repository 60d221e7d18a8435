package capture

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/placevisits/internal/device"
	"example.com/placevisits/internal/permission"
	"example.com/placevisits/internal/persistence/memory"
)

type stubMonitor struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (m *stubMonitor) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	m.starts++
	return true
}

func (m *stubMonitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.running = false
	m.stops++
	return true
}

func (m *stubMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

var quiet = log.New(io.Discard, "", 0)

type fixture struct {
	bridge   *device.Bridge
	acquirer *permission.Acquirer
	monitor  *stubMonitor
	store    *memory.Repository
	ctrl     *Controller
}

func newFixture(version int) *fixture {
	f := &fixture{
		bridge:  device.NewBridge(version, device.WithLogger(quiet)),
		monitor: &stubMonitor{},
		store:   memory.NewRepository(),
	}
	f.acquirer = permission.NewAcquirer(permission.DefaultCatalog(), f.bridge, permission.WithLogger(quiet))
	f.ctrl = NewController(f.acquirer, f.monitor, f.store, WithLogger(quiet))
	return f
}

func (f *fixture) answer(t *testing.T, grant bool) {
	t.Helper()
	req, ok := f.bridge.Pending()
	require.True(t, ok, "expected a pending platform request")
	results := map[permission.Permission]bool{}
	for _, p := range req.Permissions {
		results[p] = grant
	}
	require.NoError(t, f.bridge.Resolve(req.ID, results))
}

func TestEnableStartsMonitorWhenEssentialGranted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(33)

	f.ctrl.Enable()
	require.False(t, f.monitor.Running())

	f.answer(t, true)
	require.True(t, f.monitor.Running())

	enabled, err := f.store.LoadCaptureEnabled(ctx)
	require.NoError(t, err)
	require.True(t, enabled)

	status := f.ctrl.Status()
	require.True(t, status.Desired)
	require.True(t, status.Running)
	require.Equal(t, permission.StateResolved, status.Session.State)
}

func TestEnableLeavesMonitorStoppedOnDenial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(30)

	f.ctrl.Enable()
	f.answer(t, false)

	require.False(t, f.monitor.Running())
	require.Zero(t, f.monitor.starts)
	enabled, err := f.store.LoadCaptureEnabled(ctx)
	require.NoError(t, err)
	require.False(t, enabled)
	require.False(t, f.ctrl.Status().Session.Outcome.CaptureAllowed)
}

func TestNonEssentialDenialStillStartsCapture(t *testing.T) {
	f := newFixture(33)
	f.bridge.Report(33, map[permission.Permission]device.PermissionState{
		permission.CoarseLocation: {Granted: true},
		permission.FineLocation:   {Granted: true},
	})

	f.ctrl.Enable()
	req, ok := f.bridge.Pending()
	require.True(t, ok)
	require.Equal(t, []permission.Permission{permission.BluetoothScan, permission.PostNotifications}, req.Permissions)
	require.NoError(t, f.bridge.Resolve(req.ID, nil))

	require.True(t, f.monitor.Running())
}

func TestDisableStopsMonitorAndCancelsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(30)

	f.ctrl.Enable()
	f.answer(t, true)
	require.True(t, f.monitor.Running())

	require.NoError(t, f.ctrl.Disable(ctx))
	require.False(t, f.monitor.Running())

	// a session in flight at disable time never starts the monitor
	f.bridge.Report(30, nil)
	f.ctrl.Enable()
	req, ok := f.bridge.Pending()
	require.True(t, ok)
	require.NoError(t, f.ctrl.Disable(ctx))
	require.Equal(t, permission.StateIdle, f.acquirer.Status().State)
	_, pending := f.bridge.Pending()
	require.False(t, pending)
	require.ErrorIs(t, f.bridge.Resolve(req.ID, map[permission.Permission]bool{permission.FineLocation: true}), device.ErrUnknownRequest)
	require.False(t, f.monitor.Running())

	enabled, err := f.store.LoadCaptureEnabled(ctx)
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestRestoreReEnablesPersistedCapture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(30)
	f.bridge.Report(30, map[permission.Permission]device.PermissionState{
		permission.CoarseLocation: {Granted: true},
		permission.FineLocation:   {Granted: true},
	})

	restored, err := f.ctrl.Restore(ctx)
	require.NoError(t, err)
	require.False(t, restored)
	require.False(t, f.monitor.Running())

	require.NoError(t, f.store.SaveCaptureEnabled(ctx, true))
	restored, err = f.ctrl.Restore(ctx)
	require.NoError(t, err)
	require.True(t, restored)
	require.True(t, f.monitor.Running())
}

type flakyStore struct {
	enabled bool
	err     error
}

func (s *flakyStore) LoadCaptureEnabled(context.Context) (bool, error) { return s.enabled, s.err }
func (s *flakyStore) SaveCaptureEnabled(_ context.Context, enabled bool) error {
	s.enabled = enabled
	return s.err
}

func TestFollowerMirrorsPersistedState(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{}
	monitor := &stubMonitor{}
	follower := NewFollower(store, monitor, time.Second, quiet)

	follower.Sync(ctx)
	require.False(t, monitor.Running())

	store.enabled = true
	follower.Sync(ctx)
	require.True(t, monitor.Running())

	store.err = errors.New("db down")
	store.enabled = false
	follower.Sync(ctx)
	require.True(t, monitor.Running())

	store.err = nil
	follower.Sync(ctx)
	require.False(t, monitor.Running())
}

func TestFollowerStopsMonitorOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	monitor := &stubMonitor{}
	follower := NewFollower(&flakyStore{enabled: true}, monitor, 10*time.Millisecond, quiet)

	done := make(chan error, 1)
	go func() { done <- follower.Run(ctx) }()
	require.Eventually(t, monitor.Running, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.False(t, monitor.Running())
}
