package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"LyraeLedger/internal/config"
	"LyraeLedger/internal/core"
	"LyraeLedger/internal/host"
	"LyraeLedger/internal/ingestion"
	"LyraeLedger/internal/observability"
	"LyraeLedger/internal/persistence"
	"LyraeLedger/internal/query"
	"LyraeLedger/internal/server"
	"LyraeLedger/internal/state"
)

// warmKeys is how many recent intent keys are loaded into the idempotency
// cache on start.
const warmKeys = 100_000

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the engine with its NATS intake, audit writer and HTTP API",
		RunE:  serveFunc,
	}
}

func serveFunc(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := observability.NewConfiguredLogger("lyraeledger", cfg.Log.Level)
	ctx := c.Context()

	// --- Postgres ---
	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, cfg.Migrations.Dir, log).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Engine ---
	group, markets, err := cfg.Group.Build(time.Now().Unix())
	if err != nil {
		return fmt.Errorf("build group: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	persistCh := make(chan core.Output, cfg.Service.PersistBuffer)
	publishCh := make(chan core.Output, cfg.Service.PublishBuffer)

	clock := host.SystemClock{}
	oracle := host.NewMemoryOracle(clock, cfg.Group.OracleMaxAge)
	coreLog := log.With().Str("component", "core").Logger()

	engine, err := core.New(core.Config{
		NodeID:               cfg.Service.NodeID,
		IdempotencyCacheSize: cfg.Idempotency.CacheSize,
		SnapshotInterval:     cfg.Snapshot.IntervalSeq,
		ValidateInvariants:   true,
	}, core.Deps{
		Group:     group,
		Markets:   markets,
		Fund:      state.NewInsuranceFund(cfg.Group.InsuranceFund),
		Oracle:    oracle,
		Venue:     host.NewMemorySpotVenue(),
		Clock:     clock,
		DBChecker: persistence.NewPostgresIdempotencyChecker(db),
		Metrics:   metrics,
		Logger:    &coreLog,
		PersistCh: persistCh,
		PublishCh: publishCh,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	// --- Recovery ---
	store := persistence.NewSnapshotStore(db)
	restored, err := recoverEngine(ctx, engine, store, log)
	if err != nil {
		return err
	}
	if restored != nil {
		group = restored
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, log)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, ingestion.StreamConfig{
		IntentStream:  cfg.NATS.Stream,
		IntentSubject: cfg.NATS.IntentSubject,
		AuditStream:   cfg.NATS.AuditStream,
		AuditSubject:  cfg.NATS.AuditSubject,
	}, log); err != nil {
		return err
	}

	intakeCh := make(chan ingestion.RawIntent, cfg.Service.IntakeBuffer)
	subscriber := ingestion.NewNATSSubscriber(js, ingestion.SubscriberConfig{
		Stream:       cfg.NATS.Stream,
		Subject:      cfg.NATS.IntentSubject,
		ConsumerName: cfg.NATS.Consumer,
	}, intakeCh, log)
	intake := ingestion.NewIntake(engine, intakeCh, metrics, log)
	publisher := ingestion.NewPublisher(js, cfg.NATS.AuditSubject, publishCh, metrics, log)

	feed := ingestion.NewOracleFeed(nc, cfg.NATS.OracleSubject, oracle, log)
	if err := feed.Start(); err != nil {
		return err
	}
	defer feed.Stop()

	// --- Server ---
	checker := observability.NewHealthChecker()
	checker.AddCheck("postgres", db.PingContext)
	checker.AddCheck("nats", func(context.Context) error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats %s", st)
		}
		return nil
	})
	srv, err := server.New(cfg.GRPCAddr(), cfg.HTTPAddr(), server.Deps{
		Ledger:   engine,
		Audit:    query.NewAuditService(db),
		Checker:  checker,
		Metrics:  metrics,
		Gatherer: prometheus.DefaultGatherer,
		Log:      log,
	})
	if err != nil {
		return err
	}

	// --- Sinks ---
	// The audit writer and publisher drain until their channels close, so
	// they outlive the producers and stop only on the shutdown deadline.
	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()
	worker := persistence.NewWorker(db, persistCh, cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout, metrics, log)
	sinks := &sinkGroup{workerDone: make(chan struct{}), publisherDone: make(chan struct{})}
	go func() {
		sinks.workerErr = worker.Run(sinkCtx)
		close(sinks.workerDone)
	}()
	go func() {
		_ = publisher.Run(sinkCtx)
		close(sinks.publisherDone)
	}()

	// --- Producers ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return intake.Run(gctx) })
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTP(gctx) })
	if cfg.Keeper.Interval > 0 {
		keeper := ingestion.NewKeeper(engine, ingestion.PlanFor(group, cfg.Keeper.ConsumeLimit), cfg.Keeper.Interval, log)
		g.Go(func() error { return keeper.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-sinks.workerDone:
			return fmt.Errorf("persistence worker stopped: %v", sinks.workerErr)
		case <-gctx.Done():
			return nil
		}
	})

	if err := subscriber.Subscribe(gctx); err != nil {
		return err
	}

	checker.SetReady(true)
	srv.SetServing(true)
	log.Info().
		Int64("sequence", engine.Sequence()).
		Str("grpc", cfg.GRPCAddr()).
		Str("http", cfg.HTTPAddr()).
		Msg("lyraeledger ready")

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// --- Graceful shutdown ---
	checker.SetReady(false)
	srv.SetServing(false)
	subscriber.Stop()
	close(persistCh)
	close(publishCh)
	sinks.drain(30*time.Second, cancelSinks, log)

	snapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap := engine.Snapshot()
	if _, err := store.Save(snapCtx, db, snap); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Int64("sequence", snap.Sequence).Msg("final snapshot saved")
	}

	log.Info().Msg("lyraeledger shutdown complete")
	return runErr
}

// sinkGroup tracks the goroutines that drain the engine's output channels.
type sinkGroup struct {
	workerDone    chan struct{}
	workerErr     error
	publisherDone chan struct{}
}

// drain waits for both sinks to empty their closed channels, cancelling them
// once the timeout passes.
func (s *sinkGroup) drain(timeout time.Duration, cancel context.CancelFunc, log zerolog.Logger) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, done := range []chan struct{}{s.workerDone, s.publisherDone} {
		select {
		case <-done:
		case <-deadline.C:
			log.Error().Msg("output sinks did not drain before the deadline")
			cancel()
			<-s.workerDone
			<-s.publisherDone
			return
		}
	}
	if s.workerErr != nil && !errors.Is(s.workerErr, context.Canceled) {
		log.Error().Err(s.workerErr).Msg("persistence worker failed")
	}
}

// recoverEngine restores the latest snapshot and warms the idempotency cache
// from the intent log. It returns the restored group, or nil on a cold start.
func recoverEngine(ctx context.Context, engine *core.Engine, store *persistence.SnapshotStore, log zerolog.Logger) (*state.Group, error) {
	var group *state.Group
	snap, err := store.LoadLatest(ctx)
	switch {
	case errors.Is(err, persistence.ErrNoSnapshot):
		log.Info().Msg("no snapshot found, cold start")
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	default:
		if err := engine.Restore(snap); err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		group = snap.Group

		latest, err := store.LatestSequence(ctx)
		if err != nil {
			return nil, err
		}
		if latest >= snap.Sequence {
			log.Warn().
				Int64("snapshot_next", snap.Sequence).
				Int64("log_head", latest).
				Msg("audit log is ahead of the latest snapshot; envelopes after it are not replayed")
		}
	}

	keys, err := store.RecentIntentKeys(ctx, warmKeys)
	if err != nil {
		return nil, fmt.Errorf("load intent keys: %w", err)
	}
	engine.WarmIdempotency(keys)
	log.Info().Int("keys", len(keys)).Msg("idempotency cache warmed")
	return group, nil
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
