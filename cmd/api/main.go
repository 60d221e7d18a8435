package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/placevisits/internal/api"
	"example.com/placevisits/internal/auth"
	"example.com/placevisits/internal/capture"
	"example.com/placevisits/internal/config"
	"example.com/placevisits/internal/consumer"
	"example.com/placevisits/internal/device"
	"example.com/placevisits/internal/domain"
	"example.com/placevisits/internal/outbox"
	"example.com/placevisits/internal/permission"
	"example.com/placevisits/internal/persistence/memory"
	persistence "example.com/placevisits/internal/persistence/postgres"
	"example.com/placevisits/internal/provider"
	"example.com/placevisits/internal/stream"
	httptransport "example.com/placevisits/internal/transport/http"
)

type store interface {
	domain.VisitRepository
	capture.StateStore
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog := permission.DefaultCatalog()
	if cfg.PermissionCatalogPath != "" {
		loaded, err := permission.LoadCatalog(cfg.PermissionCatalogPath)
		if err != nil {
			log.Fatalf("failed to load permission catalog: %v", err)
		}
		catalog = loaded
	}

	group, ctx := errgroup.WithContext(ctx)

	var (
		repo store
		pool *pgxpool.Pool
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		repo = memory.NewRepository()
		log.Printf("using in-memory visit store")
	default:
		var err error
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		repo = persistence.NewRepository(pool)
	}

	reader := domain.NewService(repo, nil)
	broadcaster := stream.NewBroadcaster(reader)
	service := domain.NewService(repo, broadcaster)
	group.Go(func() error { return broadcaster.Run(ctx) })

	if pool != nil {
		listener := persistence.NewListener(pool, broadcaster, nil)
		group.Go(func() error { return listener.Run(ctx) })

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL, nil)
		dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		group.Go(func() error { return dispatcher.Run(ctx) })
	}

	tracking := provider.Tracking{
		RegionEvents: cfg.TrackRegionEvents,
		CustomEntry:  cfg.TrackCustomEntry,
		CustomExit:   cfg.TrackCustomExit,
	}
	adapter := provider.NewAdapter(tracking)
	adapter.AddListener(ctx, provider.NewRecordingListener(service, nil))

	source := consumer.NewKafkaSource(consumer.SourceConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.CrossingTopic,
		GroupID: cfg.ConsumerGroupID,
	}, nil)
	monitor := provider.NewMonitor(source, adapter, provider.WithBaseContext(ctx))

	bridge := device.NewBridge(cfg.DevicePlatformVersion)
	acquirer := permission.NewAcquirer(catalog, bridge)
	controller := capture.NewController(acquirer, monitor, repo)
	if restored, err := controller.Restore(ctx); err != nil {
		log.Printf("failed to restore capture state: %v", err)
	} else if restored {
		log.Printf("capture restore pending permission check")
	}

	handler := api.NewHandler(api.Dependencies{
		Visits:    service,
		Stream:    broadcaster,
		Capture:   controller,
		Session:   acquirer,
		Device:    bridge,
		Crossings: adapter,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	requestLogger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:     cfg.HTTPAddress,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}, authMiddleware.Wrap(requestLogger(mux)))
	group.Go(func() error { return httptransport.Serve(ctx, server, 15*time.Second) })

	err := group.Wait()
	monitor.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("place-visits api stopped: %v", err)
		os.Exit(1)
	}
	log.Println("place-visits api stopped")
}
