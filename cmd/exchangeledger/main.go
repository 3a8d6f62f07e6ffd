package main

import (
	"ExchangeLedger/internal/config"
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/custody"
	"ExchangeLedger/internal/ingestion"
	"ExchangeLedger/internal/observability"
	"ExchangeLedger/internal/persistence"
	"ExchangeLedger/internal/projection"
	"ExchangeLedger/internal/query"
	"ExchangeLedger/internal/server"
	"ExchangeLedger/internal/signing"
	"ExchangeLedger/internal/state"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const snapshotTick = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := observability.NewLogger("exchangeledger")
		boot.Fatal().Err(err).Msg("load config")
	}
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("exchangeledger", level)
	component := func(name string) zerolog.Logger {
		return observability.NewLoggerWithLevel(name, level)
	}
	logger.Info().Msg("ExchangeLedger starting")

	// --- Context with graceful shutdown ---
	// ctx stops everything that feeds the core; workerCtx stops the
	// workers draining it, after the feeders are gone.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, component("migrate")).Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Custodian ---
	domain, err := cfg.SigningDomain()
	if err != nil {
		logger.Fatal().Err(err).Msg("signing domain")
	}
	tokens, err := cfg.TokenAddresses()
	if err != nil {
		logger.Fatal().Err(err).Msg("tokens")
	}
	custodian := custody.NewMemory(tokens, component("custody"))
	seeds, err := cfg.WalletSeeds()
	if err != nil {
		logger.Fatal().Err(err).Msg("wallet seeds")
	}
	for _, s := range seeds {
		if err := custodian.Fund(s.Account, s.Asset, s.Amount); err != nil {
			logger.Fatal().Err(err).Str("account", s.Account.Hex()).Msg("fund wallet")
		}
	}

	// --- Channels ---
	// The persist channel blocks the core (backpressure); the projection
	// channel drops when full.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	// --- Core ---
	dedupChecker := persistence.NewPostgresIdempotencyChecker(db)
	ex, err := core.NewExchange(core.Options{
		Domain:              domain,
		Custodian:           custodian,
		Registry:            state.DefaultRegistry(),
		DBChecker:           dedupChecker,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		Metrics:             metrics,
		Logger:              component("core"),
	}, persistChan, projectionChan)
	if err != nil {
		logger.Fatal().Err(err).Msg("create exchange")
	}

	// --- Recovery: snapshot + replay + LRU warming ---
	snapMgr := persistence.NewSnapshotManager(db)
	recovered, err := persistence.Recover(ctx, ex, snapMgr, dedupChecker, cfg.IdempotencyLRUCapacity, component("recovery"))
	if err != nil {
		logger.Fatal().Err(err).Msg("recovery")
	}
	// The in-process custodian starts empty; give it back what the ledger owes.
	custodian.SetHoldings(ex.Liabilities())
	if err := ex.CheckInvariants(ctx); err != nil {
		logger.Fatal().Err(err).Msg("invariants after recovery")
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout.Duration, metrics, component("persistence"))
	persistWorker.SetLastPersisted(recovered.LastSequence)
	snapshotter := persistence.NewSnapshotter(ex, snapMgr, persistWorker, cfg.SnapshotInterval, metrics, component("snapshot"))

	// --- NATS ---
	natsLogger := component("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats %s", st)
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS streams")
	}

	publisher := ingestion.NewOutboundPublisher(js, cfg.PublishChanSize, metrics, component("publisher"))
	persistWorker.OnFlushed(publisher.Enqueue)

	var workers sync.WaitGroup
	errChan := make(chan error, 10)

	// The persistence worker must run before the core commits anything,
	// bootstrap included.
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	if !ex.Info().Initialized && cfg.HasBootstrap() {
		owner, submitter, _ := cfg.BootstrapRoles()
		if err := ex.Initialize(ctx, owner, submitter); err != nil {
			logger.Fatal().Err(err).Msg("bootstrap initialize")
		}
	}

	rawChan := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	verifier := signing.NewRequestVerifier(cfg.SignatureMaxAge.Duration)
	processor := ingestion.NewProcessor(ex, verifier, rawChan, metrics, component("ingestion"))

	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, component("projection"))

	// --- gRPC + HTTP gateway ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Exchange:      ex,
		Verifier:      verifier,
		DB:            db,
		QueryService:  query.NewQueryService(db),
		SnapshotMgr:   snapMgr,
		Snapshotter:   snapshotter,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        component("server"),
	})

	// --- Start goroutines ---
	var feeders sync.WaitGroup
	feeders.Add(2)
	go func() {
		defer feeders.Done()
		if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("processor: %w", err)
		}
	}()
	go publisher.Run(workerCtx)
	go projWorker.Run(workerCtx)
	go snapshotter.Run(ctx, snapshotTick)

	go func() {
		defer feeders.Done()
		if err := grpcServer.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ctx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	info := ex.Info()
	logger.Info().
		Int64("sequence", info.Sequence-1).
		Bool("initialized", info.Initialized).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("ExchangeLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop the feeders, let the persistence worker drain, then take a final
	// snapshot that can be verified immediately.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()
	subscriber.Stop()
	feeders.Wait()

	cancelWorkers()
	workers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := snapshotter.Take(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	logger.Info().Msg("ExchangeLedger shutdown complete")
}
