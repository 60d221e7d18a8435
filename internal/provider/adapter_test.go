package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/placevisits/internal/domain"
)

type call struct {
	callback string
	crossing domain.RawCrossing
}

type stubListener struct {
	mu    sync.Mutex
	err   error
	calls []call
}

func (l *stubListener) add(name string, c domain.RawCrossing) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call{callback: name, crossing: c})
	return l.err
}

func (l *stubListener) OnRegionEntered(_ context.Context, c domain.RawCrossing) error {
	return l.add("entered", c)
}
func (l *stubListener) OnRegionExited(_ context.Context, c domain.RawCrossing) error {
	return l.add("exited", c)
}
func (l *stubListener) OnCustomRegionEntry(_ context.Context, c domain.RawCrossing) error {
	return l.add("custom_entry", c)
}
func (l *stubListener) OnCustomRegionExit(_ context.Context, c domain.RawCrossing) error {
	return l.add("custom_exit", c)
}

func quietAdapter(t Tracking, opts ...AdapterOption) *Adapter {
	return NewAdapter(t, append([]AdapterOption{WithLogger(log.New(io.Discard, "", 0))}, opts...)...)
}

func TestAdapterRoutesNotificationsAndTagsSource(t *testing.T) {
	ctx := context.Background()
	adapter := quietAdapter(DefaultTracking())
	listener := &stubListener{}
	adapter.AddListener(ctx, listener)

	crossing := domain.RawCrossing{PlaceName: "Store A", ArrivalTimeMillis: 1000}
	require.NoError(t, adapter.Dispatch(ctx, RegionEntered, crossing))
	require.NoError(t, adapter.Dispatch(ctx, CustomRegionExited, crossing))

	require.Len(t, listener.calls, 2)
	require.Equal(t, "entered", listener.calls[0].callback)
	require.Equal(t, domain.CrossingSourceRegion, listener.calls[0].crossing.Source)
	require.Equal(t, "custom_exit", listener.calls[1].callback)
	require.Equal(t, domain.CrossingSourceCustomRegion, listener.calls[1].crossing.Source)
}

func TestAdapterDropsUntrackedNotifications(t *testing.T) {
	ctx := context.Background()
	adapter := quietAdapter(Tracking{RegionEvents: true, CustomEntry: false, CustomExit: true})
	listener := &stubListener{}
	adapter.AddListener(ctx, listener)

	crossing := domain.RawCrossing{PlaceName: "Store A", ArrivalTimeMillis: 1000}
	require.NoError(t, adapter.Dispatch(ctx, CustomRegionEntered, crossing))
	require.Empty(t, listener.calls)

	adapter.SetTracking(DefaultTracking())
	require.NoError(t, adapter.Dispatch(ctx, CustomRegionEntered, crossing))
	require.Len(t, listener.calls, 1)
}

func TestAdapterRejectsUnknownNotification(t *testing.T) {
	err := quietAdapter(DefaultTracking()).Dispatch(context.Background(), "region.teleported", domain.RawCrossing{})
	require.ErrorIs(t, err, ErrUnknownNotification)
}

func TestAdapterCachesUntilListenerAttached(t *testing.T) {
	ctx := context.Background()
	adapter := quietAdapter(DefaultTracking(), WithCacheLimit(1))

	require.NoError(t, adapter.Dispatch(ctx, RegionEntered, domain.RawCrossing{PlaceName: "first"}))
	require.NoError(t, adapter.Dispatch(ctx, RegionExited, domain.RawCrossing{PlaceName: "overflow"}))

	listener := &stubListener{}
	adapter.AddListener(ctx, listener)
	require.Len(t, listener.calls, 1)
	require.Equal(t, "first", listener.calls[0].crossing.PlaceName)
}

type stubRecorder struct {
	err    error
	events []domain.PlaceVisitEvent
}

func (r *stubRecorder) Record(_ context.Context, c domain.RawCrossing) (domain.PlaceVisitEvent, error) {
	event := domain.Normalize(c)
	if r.err != nil {
		return event, r.err
	}
	r.events = append(r.events, event)
	return event, nil
}

func TestRecordingListenerNormalizesAllFourCallbacks(t *testing.T) {
	ctx := context.Background()
	recorder := &stubRecorder{}
	adapter := quietAdapter(DefaultTracking())
	adapter.AddListener(ctx, NewRecordingListener(recorder, log.New(io.Discard, "", 0)))

	for _, n := range []Notification{RegionEntered, RegionExited, CustomRegionEntered, CustomRegionExited} {
		require.NoError(t, adapter.Dispatch(ctx, n, domain.RawCrossing{PlaceName: "Store A", ArrivalTimeMillis: 1000, DepartureTimeMillis: 5000}))
	}

	require.Len(t, recorder.events, 4)
	for _, ev := range recorder.events {
		require.Equal(t, domain.VisitKindDeparture, ev.Kind)
		require.Equal(t, int64(5000), ev.Timestamp)
		require.Equal(t, int64(4000), ev.DwellMillis)
	}
	// identity ignores the notification family
	require.Equal(t, recorder.events[0].ID, recorder.events[3].ID)
}

func TestRecordingListenerDropsRejectedCrossing(t *testing.T) {
	ctx := context.Background()
	rejected := fmt.Errorf("%w: %w", domain.ErrRejected, domain.ErrEmptyPlaceName)
	adapter := quietAdapter(DefaultTracking())
	adapter.AddListener(ctx, NewRecordingListener(&stubRecorder{err: rejected}, log.New(io.Discard, "", 0)))

	require.NoError(t, adapter.Dispatch(ctx, RegionEntered, domain.RawCrossing{ArrivalTimeMillis: 1000}))
}

func TestStoreFailurePropagatesThroughDispatch(t *testing.T) {
	ctx := context.Background()
	down := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	adapter := quietAdapter(DefaultTracking())
	adapter.AddListener(ctx, NewRecordingListener(&stubRecorder{err: down}, log.New(io.Discard, "", 0)))

	err := adapter.Dispatch(ctx, RegionEntered, domain.RawCrossing{PlaceName: "Store A", ArrivalTimeMillis: 1000})
	require.ErrorIs(t, err, down)
	require.NotErrorIs(t, err, domain.ErrRejected)
}

func TestDispatchJoinsListenerErrors(t *testing.T) {
	ctx := context.Background()
	adapter := quietAdapter(DefaultTracking())
	healthy := &stubListener{}
	failing := &stubListener{err: errors.New("listener broke")}
	adapter.AddListener(ctx, failing)
	adapter.AddListener(ctx, healthy)

	err := adapter.Dispatch(ctx, RegionExited, domain.RawCrossing{PlaceName: "Store A"})
	require.ErrorIs(t, err, failing.err)
	require.Len(t, healthy.calls, 1)
}
