// Package reconciler drains the pending balance change queue into the ledger.
//
// One iteration counts the pending rows, fetches them, applies each one
// through the ledger client and deletes them all in the same transaction.
// Any error before the commit rolls the whole drain back, so a row is
// applied at most once per successful commit.
package reconciler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/apperr"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/config"
	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/logging"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models/events"
)

const DefaultOrigin = "pending-balance-reconciler"

type Reconciler struct {
	store     interfaces.PendingStore
	ledger    interfaces.LedgerClient
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	cfg       config.Reconciler
	now       func() time.Time
}

type Option func(*Reconciler)

// WithPublisher sends one audit event per committed row.
func WithPublisher(publisher interfaces.EventPublisher) Option {
	return func(r *Reconciler) {
		r.publisher = publisher
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func New(store interfaces.PendingStore, ledger interfaces.LedgerClient, cfg config.Reconciler, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("reconciler: pending store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("reconciler: ledger client is required")
	}
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if cfg.MaxIdleDelay < cfg.IdleDelay {
		cfg.MaxIdleDelay = cfg.IdleDelay
	}
	r := &Reconciler{
		store:  store,
		ledger: ledger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r, nil
}

// Run iterates while running is set. Empty polls wait on a growing idle
// delay; wake or ctx cut the wait short. An in-flight drain is never
// interrupted by clearing running. The returned error is FAULTED_ITERATION;
// a nil return means the loop was asked to stop.
func (r *Reconciler) Run(ctx context.Context, running *atomic.Bool, wake <-chan struct{}) error {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = r.cfg.IdleDelay
	idle.MaxInterval = r.cfg.MaxIdleDelay
	idle.Multiplier = 2
	idle.RandomizationFactor = 0.2
	idle.Reset()

	for running.Load() {
		stats, err := r.iterate(ctx)
		if err != nil {
			return apperr.FaultedIteration(err, map[string]any{
				"pending": stats.Pending,
				"staged":  stats.Processed,
			})
		}
		if !stats.Idle() {
			idle.Reset()
			continue
		}

		delay := idle.NextBackOff()
		if delay <= 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-wake:
			timer.Stop()
			idle.Reset()
		case <-timer.C:
		}
	}
	return nil
}

func (r *Reconciler) iterate(ctx context.Context) (DrainStats, error) {
	if r.cfg.FaultRetries <= 0 {
		return r.Iterate(ctx)
	}

	retry := backoff.NewExponentialBackOff()
	if r.cfg.RetryDelay > 0 {
		retry.InitialInterval = r.cfg.RetryDelay
	}
	return backoff.Retry(ctx,
		func() (DrainStats, error) {
			return r.Iterate(ctx)
		},
		backoff.WithBackOff(retry),
		backoff.WithMaxTries(uint(r.cfg.FaultRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("reconciliation iteration failed, retrying",
				zap.Error(err),
				zap.Duration("retry_in", next),
			)
		}),
	)
}

// Iterate runs one Polling, Draining, Committing cycle.
func (r *Reconciler) Iterate(ctx context.Context) (stats DrainStats, err error) {
	batch, err := r.store.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rbErr := batch.Rollback(); rbErr != nil {
			r.logger.Warn("rollback pending batch", zap.Error(rbErr))
		}
	}()

	count, ok, err := batch.Count(ctx)
	if err != nil {
		return stats, fmt.Errorf("count pending changes: %w", err)
	}
	if !ok {
		r.logger.Debug("pending count returned no row")
		stats.EmptyRead = true
		return stats, nil
	}
	stats.Pending = count

	if count == 0 {
		// Commit even when idle so the count never keeps a transaction open.
		if err := batch.Commit(ctx); err != nil {
			return stats, fmt.Errorf("commit idle poll: %w", err)
		}
		return stats, nil
	}

	changes, err := batch.Fetch(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetch pending changes: %w", err)
	}

	results := make([]result, 0, len(changes))
	for _, change := range changes {
		res, err := r.apply(ctx, change)
		if err != nil {
			return stats, fmt.Errorf("pending change %d: %w", change.ID, err)
		}
		r.logResult(res)
		stats.record(res.outcome)
		batch.StageDelete(change.ID)
		results = append(results, res)
	}

	if err := batch.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit drain: %w", err)
	}
	r.publish(ctx, results)
	return stats, nil
}

type result struct {
	change  models.PendingChange
	account models.LedgerAccount
	plan    Plan
	status  interfaces.StatusCode
	outcome models.Outcome
}

func (r *Reconciler) apply(ctx context.Context, change models.PendingChange) (result, error) {
	account, err := r.ledger.GetAccount(ctx, change.AccountID)
	if err != nil {
		return result{}, fmt.Errorf("get account %s: %w", change.AccountID, err)
	}

	res := result{
		change:  change,
		account: account,
		plan:    PlanChange(change.TargetBalance, account.Balance),
		status:  interfaces.StatusUnchanged,
	}
	if !res.plan.NeedsMutation() {
		res.outcome = resolveOutcome(res.plan, res.status, false)
		return res, nil
	}

	res.status, err = r.ledger.ApplyDelta(ctx, interfaces.DeltaRequest{
		AccountID:   change.AccountID,
		DisplayName: account.DisplayName,
		Amount:      res.plan.Amount,
		Direction:   res.plan.Direction,
		Origin:      r.cfg.Origin,
	})
	if err != nil {
		return result{}, fmt.Errorf("apply %s to %s: %w", res.plan.Direction, change.AccountID, err)
	}
	res.outcome = resolveOutcome(res.plan, res.status, true)
	return res, nil
}

func (r *Reconciler) logResult(res result) {
	fields := []zap.Field{
		zap.Int64("change_id", res.change.ID),
		zap.String("account_id", res.change.AccountID.String()),
		zap.String("display_name", res.account.DisplayName),
		zap.String("previous_balance", res.account.Balance.String()),
		zap.String("outcome", res.outcome.String()),
	}

	switch res.outcome {
	case models.OutcomeIncreased, models.OutcomeDecreased, models.OutcomeForcedSet:
		r.logger.Info("balance reconciled", append(fields,
			zap.String("direction", res.plan.Direction.String()),
			zap.String("amount", res.plan.Amount.String()),
			zap.String("balance", res.change.TargetBalance.String()),
		)...)
	case models.OutcomeInsufficientFunds:
		r.logger.Warn("insufficient funds, change consumed", append(fields,
			zap.String("attempted_debit", res.plan.Amount.String()),
		)...)
	case models.OutcomeOverflow:
		r.logger.Warn("balance would exceed ledger maximum, change consumed", append(fields,
			zap.String("attempted_amount", res.plan.Amount.String()),
		)...)
	default:
		r.logger.Info("balance unchanged", fields...)
	}
}

func (r *Reconciler) publish(ctx context.Context, results []result) {
	if r.publisher == nil {
		return
	}
	for _, res := range results {
		event := events.BalanceReconciled{
			ChangeID:        res.change.ID,
			AccountID:       res.change.AccountID.String(),
			DisplayName:     res.account.DisplayName,
			Outcome:         res.outcome.String(),
			PreviousBalance: res.account.Balance,
			TargetBalance:   res.change.TargetBalance,
			Amount:          res.plan.Amount,
			Origin:          r.cfg.Origin,
			OccurredAt:      r.now(),
		}
		if err := r.publisher.Publish(ctx, event.AccountID, event); err != nil {
			r.logger.Warn("publish reconciliation event",
				zap.Int64("change_id", res.change.ID),
				zap.Error(err),
			)
		}
	}
}
