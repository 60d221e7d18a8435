//go:build integration

package postgres

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/placevisits/internal/domain"
	"example.com/placevisits/internal/testsupport"
)

func TestRepositoryOrdersAndDeduplicates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool, _ := testsupport.StartPostgres(ctx, t)
	repo := NewRepository(pool)
	service := domain.NewService(repo, nil)

	for _, ts := range []int64{100, 300, 200} {
		_, err := service.Record(ctx, domain.RawCrossing{PlaceName: "Store A", ArrivalTimeMillis: ts})
		require.NoError(t, err)
	}
	_, err := service.Record(ctx, domain.RawCrossing{PlaceName: "Store A", ArrivalTimeMillis: 100})
	require.NoError(t, err)

	visits, err := service.QueryAll(ctx)
	require.NoError(t, err)
	require.Len(t, visits, 3)
	require.Equal(t, []int64{300, 200, 100}, []int64{visits[0].Timestamp, visits[1].Timestamp, visits[2].Timestamp})

	page, next, err := service.List(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)
	rest, next, err := service.List(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Nil(t, next)
	require.Equal(t, int64(100), rest[0].Timestamp)

	removed, err := service.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)

	visits, err = service.QueryAll(ctx)
	require.NoError(t, err)
	require.Empty(t, visits)
}

func TestRepositoryRejectsEmptyPlaceName(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool, _ := testsupport.StartPostgres(ctx, t)
	_, err := domain.NewService(NewRepository(pool), nil).Record(ctx, domain.RawCrossing{ArrivalTimeMillis: 1000})
	require.ErrorIs(t, err, domain.ErrRejected)
}

func TestRepositoryCaptureState(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool, _ := testsupport.StartPostgres(ctx, t)
	repo := NewRepository(pool)

	enabled, err := repo.LoadCaptureEnabled(ctx)
	require.NoError(t, err)
	require.False(t, enabled)

	require.NoError(t, repo.SaveCaptureEnabled(ctx, true))
	enabled, err = repo.LoadCaptureEnabled(ctx)
	require.NoError(t, err)
	require.True(t, enabled)
}

type countingNotifier struct {
	ch chan struct{}
}

func (n *countingNotifier) Invalidate() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func TestListenerInvalidatesOnNotify(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool, _ := testsupport.StartPostgres(ctx, t)
	notifier := &countingNotifier{ch: make(chan struct{}, 1)}
	listener := NewListener(pool, notifier, log.New(io.Discard, "", 0))

	listenCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = listener.Run(listenCtx) }()

	// first invalidation fires on connect
	select {
	case <-notifier.ch:
	case <-time.After(30 * time.Second):
		t.Fatal("listener did not connect")
	}

	_, err := domain.NewService(NewRepository(pool), nil).Record(ctx, domain.RawCrossing{PlaceName: "Store A", ArrivalTimeMillis: 1000})
	require.NoError(t, err)

	select {
	case <-notifier.ch:
	case <-time.After(30 * time.Second):
		t.Fatal("no invalidation after upsert")
	}
}
