package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/placevisits/internal/capture"
	"example.com/placevisits/internal/config"
	"example.com/placevisits/internal/consumer"
	"example.com/placevisits/internal/domain"
	persistence "example.com/placevisits/internal/persistence/postgres"
	"example.com/placevisits/internal/provider"
	httptransport "example.com/placevisits/internal/transport/http"
)

// The consumer records crossings headlessly while the persisted capture state
// says capture is on. Permission sessions run in the api process.
func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	service := domain.NewService(repo, nil)

	adapter := provider.NewAdapter(provider.Tracking{
		RegionEvents: cfg.TrackRegionEvents,
		CustomEntry:  cfg.TrackCustomEntry,
		CustomExit:   cfg.TrackCustomExit,
	})
	adapter.AddListener(ctx, provider.NewRecordingListener(service, nil))

	source := consumer.NewKafkaSource(consumer.SourceConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.CrossingTopic,
		GroupID: cfg.ConsumerGroupID,
	}, nil)
	monitor := provider.NewMonitor(source, adapter, provider.WithBaseContext(ctx))
	follower := capture.NewFollower(repo, monitor, cfg.CaptureSyncInterval, nil)

	metricsSrv := httptransport.NewServer(httptransport.ServerConfig{
		Address:     cfg.MetricsAddress,
		ReadTimeout: 5 * time.Second,
	}, promhttp.Handler())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return httptransport.Serve(ctx, metricsSrv, 10*time.Second) })
	group.Go(func() error {
		log.Printf("consumer following capture state (topic=%s, group=%s)", cfg.CrossingTopic, cfg.ConsumerGroupID)
		return follower.Run(ctx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("consumer stopped with error: %v", err)
		os.Exit(1)
	}
	log.Println("consumer stopped")
}

