package main

import (
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

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/x5th/x-leverage/internal/config"
	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ingestion"
	"github.com/x5th/x-leverage/internal/observability"
	"github.com/x5th/x-leverage/internal/persistence"
	"github.com/x5th/x-leverage/internal/projection"
	"github.com/x5th/x-leverage/internal/query"
	"github.com/x5th/x-leverage/internal/server"
	"github.com/x5th/x-leverage/internal/state"
)

const (
	replayBatchSize  = 1000
	outboundChanSize = 4096
	rawEventChanSize = 256
)

func main() {
	cfg, err := config.Load(os.Getenv("XLEV_CONFIG_FILE"))
	if err != nil {
		bootLogger := observability.NewLogger("main")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("main", level)
	logger.Info().Str("pool_asset", cfg.PoolAssetName).Msg("x-leverage starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	// ctx stops ingestion; workerCtx outlives it so queued outputs drain.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.DatabaseURL)
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
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLoggerWithLevel("migrator", level))
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Deterministic core ---
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	params := state.DefaultRiskParams
	params.OracleStaleSlots = cfg.OracleStaleness

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	engine, err := core.NewDeterministicCore(core.Config{
		Params:        params,
		PoolAsset:     cfg.PoolAsset,
		PoolAuthority: cfg.PoolAuthority,
		LRUCapacity:   cfg.LRUCapacity,
		Clock:         core.NewSlotClock(cfg.SlotDuration),
	}, persistChan, projectionChan, dbChecker, metrics, observability.NewLoggerWithLevel("core", level))
	if err != nil {
		logger.Fatal().Err(err).Msg("create core")
	}

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverState(ctx, engine, snapMgr, dbChecker, cfg.LRUCapacity, metrics, logger); err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}

	// --- Workers ---
	var workers sync.WaitGroup
	errChan := make(chan error, 16)
	goWorker := func(wg *sync.WaitGroup, name string, run func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlush, metrics,
		observability.NewLoggerWithLevel("persistence", level))
	recent := projection.NewRecentLiquidations(cfg.RecentLiquidations)
	projWorker := projection.NewProjectionWorker(db, projectionChan, recent, metrics,
		observability.NewLoggerWithLevel("projection", level))

	// --- NATS (optional) ---
	var (
		ingest     sync.WaitGroup
		nc         *nats.Conn
		subscriber *ingestion.NATSSubscriber
		outbound   chan *event.EventEnvelope
		publisher  *ingestion.OutboundPublisher
	)
	if cfg.NATSURL != "" {
		natsLogger := observability.NewLoggerWithLevel("ingestion", level)
		var js jetstream.JetStream
		nc, js, err = ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			logger.Fatal().Err(err).Msg("ensure NATS streams")
		}
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})

		outbound = make(chan *event.EventEnvelope, outboundChanSize)
		persistWorker.SetOutbound(outbound)
		publisher = ingestion.NewOutboundPublisher(js, outbound, natsLogger)

		rawChan := make(chan ingestion.RawEvent, rawEventChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
		dispatcher := ingestion.NewDispatcher(engine, rawChan, natsLogger)
		goWorker(&ingest, "dispatcher", func() error { return dispatcher.Run(ctx) })
	}

	goWorker(&workers, "persistence worker", func() error { return persistWorker.Run(workerCtx) })
	goWorker(&workers, "projection worker", func() error { return projWorker.Run(workerCtx) })
	var publishers sync.WaitGroup
	if publisher != nil {
		goWorker(&publishers, "outbound publisher", func() error { return publisher.Run(workerCtx) })
	}

	// Bootstrap runs once the persistence worker drains the core's output.
	if err := bootstrapProtocol(engine, cfg.ProtocolAdmin, logger); err != nil {
		logger.Fatal().Err(err).Msg("protocol bootstrap")
	}

	if subscriber != nil {
		if err := subscriber.Subscribe(ctx); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}
	}

	// --- Servers ---
	admin := &adminOps{
		engine:  engine,
		snapMgr: snapMgr,
		db:      db,
		metrics: metrics,
		logger:  observability.NewLoggerWithLevel("admin", level),
	}
	srv, err := server.New(cfg.GRPCAddr(), cfg.HTTPAddr(), &server.Deps{
		Query:         query.NewQueryService(db, recent, cfg.PoolAsset, params.BaseRateBps),
		Ingest:        ingestion.NewDirectIngestService(engine, cfg.MaxInFlight),
		Admin:         admin,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLoggerWithLevel("server", level),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create server")
	}
	goWorker(&ingest, "grpc server", func() error { return srv.StartGRPC(ctx) })
	goWorker(&ingest, "http server", func() error { return srv.StartHTTP(ctx) })
	goWorker(&ingest, "metrics server", func() error { return serveMetrics(ctx, cfg.MetricsAddr(), logger) })
	goWorker(&ingest, "snapshotter", func() error {
		admin.runPeriodic(ctx, cfg.SnapshotInterval)
		return nil
	})

	healthChecker.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.GRPCAddr()).
		Str("http", cfg.HTTPAddr()).
		Str("metrics", cfg.MetricsAddr()).
		Bool("nats", cfg.NATSURL != "").
		Msg("x-leverage ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown: stop ingestion, drain, snapshot ---
	healthChecker.SetReady(false)
	srv.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()
	ingest.Wait()

	close(persistChan)
	close(projectionChan)
	workers.Wait()
	if outbound != nil {
		close(outbound)
		publishers.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if seq, err := admin.TakeSnapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("x-leverage shutdown complete")
}

// recoverState restores the latest verified snapshot, replays the event log
// after it and warms the idempotency LRU.
func recoverState(
	ctx context.Context,
	engine *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	dbChecker *persistence.PostgresIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	start := time.Now()
	from := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying full log")
		snap = nil
	}
	if snap != nil {
		restored, err := snap.CoreState()
		if err != nil {
			return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		engine.RestoreFromSnapshot(restored)
		from = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	var replayed int
	for {
		envs, err := snapMgr.LoadEnvelopesFrom(ctx, from, replayBatchSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(envs) == 0 {
			break
		}
		for _, env := range envs {
			if err := engine.Replay(env); err != nil {
				return err
			}
		}
		replayed += len(envs)
		from = envs[len(envs)-1].Sequence + 1
	}
	metrics.ReplayDuration.Set(time.Since(start).Seconds())

	keys, err := dbChecker.RecentKeys(ctx, lruCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load recent idempotency keys")
	} else {
		engine.WarmLRU(keys)
	}

	logger.Info().
		Int("replayed", replayed).
		Int64("next_sequence", engine.GetSequence()).
		Str("state_hash", fmt.Sprintf("%x", engine.GetStateHash())).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

// bootstrapProtocol installs the configured admin on an uninitialized
// protocol. The request id is derived from the admin so a restart before the
// command is persisted cannot initialize twice.
func bootstrapProtocol(engine *core.DeterministicCore, admin uuid.UUID, logger zerolog.Logger) error {
	if admin == uuid.Nil || engine.Protocol().Initialized {
		return nil
	}
	evt := &event.ProtocolInit{
		Meta: event.Meta{
			RequestID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("x-leverage:protocol-init:"+admin.String())),
			Caller:    admin,
			Timestamp: time.Now().Unix(),
		},
		Admin: admin,
	}
	receipt, err := engine.ProcessEvent(evt)
	if err != nil {
		return err
	}
	logger.Info().Str("admin", admin.String()).Int64("sequence", receipt.Sequence).Bool("duplicate", receipt.Duplicate).Msg("protocol initialized")
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
