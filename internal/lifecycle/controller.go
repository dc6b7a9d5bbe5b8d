// Package lifecycle starts and stops the reconciler on its dedicated worker.
package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/apperr"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/config"
	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/logging"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/reconciler"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/storage/sqlstore"
)

// Host is the process that owns the controller. Disable is called when the
// engine cannot start or dies, and asks the host to shut the process down.
type Host interface {
	Disable(cause error)
}

type HostFunc func(cause error)

func (f HostFunc) Disable(cause error) {
	f(cause)
}

// Opener acquires the pending store session.
type Opener func(ctx context.Context) (interfaces.PendingStore, error)

// SQLOpener opens a sqlstore session for cfg.
func SQLOpener(cfg config.Datasource, logger *zap.Logger) Opener {
	return func(ctx context.Context) (interfaces.PendingStore, error) {
		session, err := sqlstore.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

type Controller struct {
	open   Opener
	ledger interfaces.LedgerClient
	cfg    config.Reconciler
	opts   []reconciler.Option
	host   Host
	logger *zap.Logger

	running atomic.Bool
	slot    chan struct{}

	mu     sync.Mutex
	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

func NewController(
	open Opener,
	ledger interfaces.LedgerClient,
	host Host,
	cfg config.Reconciler,
	logger *zap.Logger,
	opts ...reconciler.Option,
) (*Controller, error) {
	if open == nil {
		return nil, fmt.Errorf("lifecycle: opener is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("lifecycle: ledger client is required")
	}
	if host == nil {
		host = HostFunc(func(error) {})
	}
	logger = logging.OrNop(logger)
	return &Controller{
		open:   open,
		ledger: ledger,
		cfg:    cfg,
		opts:   append([]reconciler.Option{reconciler.WithLogger(logger)}, opts...),
		host:   host,
		logger: logger,
		slot:   make(chan struct{}, 1),
	}, nil
}

// Running reports whether the loop is active and has not been asked to stop.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Start opens the session and launches the loop. Only one loop may be
// active; a second Start fails with ALREADY_RUNNING. When the session
// cannot be opened the host is disabled and the error returned.
func (c *Controller) Start(ctx context.Context) error {
	select {
	case c.slot <- struct{}{}:
	default:
		return apperr.AlreadyRunning()
	}

	store, err := c.open(ctx)
	if err != nil {
		<-c.slot
		c.logger.Error("pending store unavailable, reconciler not started", zap.Error(err))
		c.host.Disable(err)
		return err
	}
	rec, err := reconciler.New(store, c.ledger, c.cfg, c.opts...)
	if err != nil {
		c.release(store)
		<-c.slot
		c.logger.Error("reconciler not started", zap.Error(err))
		c.host.Disable(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	c.mu.Lock()
	c.wake, c.done, c.cancel = wake, done, cancel
	c.mu.Unlock()

	c.running.Store(true)
	go c.work(runCtx, rec, store, wake, done)
	c.logger.Info("reconciler started")
	return nil
}

func (c *Controller) work(ctx context.Context, rec *reconciler.Reconciler, store interfaces.PendingStore, wake <-chan struct{}, done chan<- struct{}) {
	err := c.runSafely(ctx, rec, wake)

	faulted := false
	if err != nil {
		if c.running.CompareAndSwap(true, false) {
			faulted = true
			c.logger.Error("reconciler faulted, disabling", zap.Error(err))
		} else {
			c.logger.Warn("reconciler stopped with error", zap.Error(err))
		}
	}

	c.release(store)
	<-c.slot
	close(done)

	if faulted {
		c.host.Disable(err)
	}
}

func (c *Controller) runSafely(ctx context.Context, rec *reconciler.Reconciler, wake <-chan struct{}) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("reconciler panicked", zap.Any("panic", recovered), zap.ByteString("stack", debug.Stack()))
			err = apperr.FaultedIteration(fmt.Errorf("panic: %v", recovered), nil)
		}
	}()
	return rec.Run(ctx, &c.running, wake)
}

// release closes the session, logging instead of propagating failures.
func (c *Controller) release(store interfaces.PendingStore) {
	if err := store.Close(); err != nil {
		c.logger.Error("release pending store", zap.Error(err))
	}
}

// Stop clears the running flag and waits for the in-flight drain to finish
// and the session to be released. If ctx ends first, outstanding store and
// ledger calls are cancelled and ctx's error is returned; the worker still
// releases the session on its way out. Stop is idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	c.running.Store(false)

	c.mu.Lock()
	wake, done, cancel := c.wake, c.done, c.cancel
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case wake <- struct{}{}:
	default:
	}

	select {
	case <-done:
		cancel()
		c.logger.Info("reconciler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		c.logger.Warn("reconciler did not stop in time, cancelling in-flight work", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
