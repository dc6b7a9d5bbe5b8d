package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/config"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/events/kafka"
	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/ledger"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/lifecycle"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/logging"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/reconciler"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/storage/memory"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/storage/postgres"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(".env")
	if err != nil {
		zap.NewExample().Error("load configuration", zap.Error(err))
		return 1
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		zap.NewExample().Error("build logger", zap.Error(err))
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, disable := context.WithCancelCause(ctx)
	defer disable(nil)

	ledgerClient, closeLedger, err := openLedger(ctx, cfg.Ledger, logger)
	if err != nil {
		logger.Error("open ledger", zap.Error(err))
		return 1
	}
	defer closeLedger()

	var opts []reconciler.Option
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("close event publisher", zap.Error(err))
			}
		}()
		opts = append(opts, reconciler.WithPublisher(publisher))
	}

	host := lifecycle.HostFunc(disable)
	ctrl, err := lifecycle.NewController(
		lifecycle.SQLOpener(cfg.Datasource, logger),
		ledgerClient,
		host,
		cfg.Reconciler,
		logger,
		opts...,
	)
	if err != nil {
		logger.Error("build controller", zap.Error(err))
		return 1
	}
	if err := ctrl.Start(ctx); err != nil {
		return 1
	}

	<-ctx.Done()
	cause := context.Cause(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Stop(stopCtx); err != nil {
		logger.Error("stop reconciler", zap.Error(err))
	}

	if cause != nil && !errors.Is(cause, context.Canceled) {
		logger.Error("reconciler disabled", zap.Error(cause))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// openLedger returns the SQL-backed reference ledger when a ledger endpoint
// is configured, otherwise an in-memory one.
func openLedger(ctx context.Context, cfg config.Ledger, logger *zap.Logger) (interfaces.LedgerClient, func(), error) {
	if cfg.DriverID == "" || cfg.Endpoint == "" {
		logger.Warn("no ledger endpoint configured, using in-memory ledger")
		return ledger.NewLedger(memory.NewLedgerStore(), cfg.MaxBalance), func() {}, nil
	}

	db, err := sql.Open(cfg.DriverID, cfg.Endpoint)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	store := postgres.NewLedgerStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.Warn("close ledger database", zap.Error(err))
		}
	}
	return ledger.NewLedger(store, cfg.MaxBalance), closeFn, nil
}
