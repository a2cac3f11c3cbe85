package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"mpi/internal/jwt_token"
	"mpi/internal/platform/config"
	"mpi/internal/platform/httpserver"
	"mpi/internal/platform/logger"
	platformredis "mpi/internal/platform/redis"
	"mpi/internal/registry/feed"
	"mpi/internal/registry/handler"
	"mpi/internal/registry/hid"
	"mpi/internal/registry/metrics"
	"mpi/internal/registry/policy"
	"mpi/internal/registry/service"
	"mpi/internal/registry/store"
	httptransport "mpi/internal/transport/http"
	"mpi/pkg/domain"
)

// main wires dependencies and runs the HTTP server plus the feed publisher.
// Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.FromEnv()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	m := metrics.New()
	gen := domain.NewGenerator()
	pol := policy.NewGovernedFields(cfg.GovernedFields, cfg.TrustedFacilities)
	svc := service.New(st, pol, gen, m, log)
	feedReader := feed.New(st, log)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	registryHandler := handler.New(svc, feedReader, hid.NewSequence(cfg.HealthIDStart),
		log, jwttoken.NewJWTServiceAdapter(jwtService))

	checks := map[string]httptransport.HealthChecker{}

	var checkpoints feed.Checkpoints = feed.NewStoreCheckpoints(st)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		checkpoints = feed.NewCachedCheckpoints(checkpoints, feed.NewRedisCheckpoints(redisClient.Client))
		checks["redis"] = func() error { return redisClient.Health(context.Background()) }
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.KafkaBrokers...),
			kgo.ProducerLinger(10*time.Millisecond),
		)
		if err != nil {
			log.Error("connecting to kafka", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()
		if err := feed.EnsureTopic(ctx, kafkaClient, cfg.KafkaTopic, cfg.TopicPartitions); err != nil {
			log.Error("ensuring feed topic", "error", err)
			os.Exit(1)
		}
		publisher := feed.NewPublisher(feedReader, checkpoints, feed.NewKafkaProducer(kafkaClient),
			cfg.KafkaTopic, log,
			feed.WithInterval(cfg.FeedInterval),
			feed.WithBatchSize(cfg.FeedBatchSize),
			feed.WithMetrics(m))
		group.Go(func() error {
			err := publisher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	router := httptransport.NewRouter(checks, registryHandler)
	srv := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		log.Info("starting mpi server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// openStore selects the durable Postgres store when configured, falling back
// to the in-memory store for development.
func openStore(cfg config.Config) (store.Store, func(), error) {
	if cfg.PostgresURL == "" {
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("pgx", cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgresStore(db)
	if err := pg.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}
