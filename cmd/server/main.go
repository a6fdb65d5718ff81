package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"sunatflow/internal/auth"
	docstore "sunatflow/internal/document/store"
	"sunatflow/internal/keys"
	"sunatflow/internal/keys/keycache"
	keystore "sunatflow/internal/keys/store"
	"sunatflow/internal/pipeline"
	"sunatflow/internal/platform/config"
	"sunatflow/internal/platform/httpserver"
	"sunatflow/internal/platform/logger"
	platformredis "sunatflow/internal/platform/redis"
	"sunatflow/internal/queue"
	"sunatflow/internal/storage"
	"sunatflow/internal/sunat"
	"sunatflow/internal/tenant"
	tenantstore "sunatflow/internal/tenant/store"
	httptransport "sunatflow/internal/transport/http"
	"sunatflow/internal/ubl"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages.
func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return err
	}

	// The outbox uses database/sql for its row-locking relay transaction.
	outboxDB, err := sql.Open("postgres", cfg.DB.URL)
	if err != nil {
		return err
	}
	defer outboxDB.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient == nil {
		return errors.New("SUNATFLOW_REDIS_URL is required: the delayed-delivery scheduler runs on redis")
	}
	defer redisClient.Close()

	broker, err := queue.NewKafka(cfg.Broker, queue.WithKafkaLogger(log))
	if err != nil {
		return err
	}
	defer broker.Close()
	if err := broker.EnsureTopics(ctx); err != nil {
		return err
	}
	scheduler := queue.NewScheduler(redisClient, broker, queue.WithSchedulerLogger(log))

	registry := prometheus.NewRegistry()

	documents := docstore.NewPostgres(pool)
	components := keystore.NewPostgres(pool)
	projects := tenantstore.NewPostgresProjects(pool)
	companies := tenantstore.NewPostgresCompanies(pool)

	keyManager := keys.NewManager(components,
		keys.NewRegistry(
			keys.ImportedRsaFactory{},
			keys.KeystoreFactory{},
			keys.NewGeneratedRsaFactory(components),
		),
		keys.WithLogger(log),
		keys.WithMetrics(keys.NewMetrics(registry)),
	)
	cachedKeys := keycache.New(keyManager, redisClient, keycache.WithLogger(log))

	var blobs storage.BlobStore
	if cfg.Storage.Bucket != "" {
		blobs, err = storage.NewS3(ctx, cfg.Storage)
		if err != nil {
			return err
		}
	} else {
		log.Warn("no storage bucket configured, using in-memory blobs")
		blobs = storage.NewInMemory()
	}

	orchestrator := pipeline.NewOrchestrator(
		documents,
		blobs,
		tenant.NewService(projects, companies, tenant.WithLogger(log)),
		cachedKeys,
		ubl.NewSigner(),
		sunat.NewDispatcher(sunat.WithLogger(log)),
		broker,
		scheduler,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(pipeline.NewMetrics(registry)),
		pipeline.WithEventSink(pipeline.NewOutbox(outboxDB)),
	)
	workers := pipeline.NewWorkers(broker, orchestrator, cfg.Pipeline.SendWorkers, cfg.Pipeline.TicketWorkers, log)
	relay := pipeline.NewRelay(outboxDB, broker, pipeline.WithRelayLogger(log))

	tokens := auth.NewService(cfg.Server.JWTSigningKey, "sunatflow", "sunatflow-api")
	handler := httptransport.NewHandler(documents, blobs, broker, log)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler, tokens, log, registry))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return relay.Run(ctx) })
	g.Go(func() error {
		log.Info("starting sunatflow", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
