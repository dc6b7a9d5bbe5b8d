package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/apperr"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/config"
	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/ledger"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models/events"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/storage/memory"
)

// recordingLedger wraps the reference ledger, recording mutation requests
// and injecting failures per account.
type recordingLedger struct {
	*ledger.Ledger

	mu        sync.Mutex
	requests  []interfaces.DeltaRequest
	lookupErr map[uuid.UUID]error
	flaky     map[uuid.UUID]int // lookups left to fail per account
	statuses  map[uuid.UUID]interfaces.StatusCode
}

func (r *recordingLedger) GetAccount(ctx context.Context, id uuid.UUID) (models.LedgerAccount, error) {
	r.mu.Lock()
	err := r.lookupErr[id]
	if r.flaky[id] > 0 {
		r.flaky[id]--
		err = errors.New("ledger timeout")
	}
	r.mu.Unlock()
	if err != nil {
		return models.LedgerAccount{}, err
	}
	return r.Ledger.GetAccount(ctx, id)
}

func (r *recordingLedger) ApplyDelta(ctx context.Context, req interfaces.DeltaRequest) (interfaces.StatusCode, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	status, forced := r.statuses[req.AccountID]
	r.mu.Unlock()
	if forced {
		return status, nil
	}
	return r.Ledger.ApplyDelta(ctx, req)
}

func (r *recordingLedger) calls() []interfaces.DeltaRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interfaces.DeltaRequest(nil), r.requests...)
}

func (r *recordingLedger) failLookup(id uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.lookupErr, id)
		return
	}
	r.lookupErr[id] = err
}

type harness struct {
	t       *testing.T
	pending *memory.PendingStore
	journal *memory.LedgerStore
	ledger  *recordingLedger
	logs    *observer.ObservedLogs
	rec     *Reconciler
}

func newHarness(t *testing.T, cfg config.Reconciler, opts ...Option) *harness {
	t.Helper()
	journal := memory.NewLedgerStore()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		t:       t,
		pending: memory.NewPendingStore(),
		journal: journal,
		ledger: &recordingLedger{
			Ledger:    ledger.NewLedger(journal, decimal.RequireFromString("1000")),
			lookupErr: make(map[uuid.UUID]error),
			flaky:     make(map[uuid.UUID]int),
			statuses:  make(map[uuid.UUID]interfaces.StatusCode),
		},
		logs: logs,
	}
	rec, err := New(h.pending, h.ledger, cfg, append([]Option{WithLogger(zap.New(core))}, opts...)...)
	require.NoError(t, err)
	h.rec = rec
	return h
}

// account registers an account and seeds its balance without recording
// the seeding as a reconciler call.
func (h *harness) account(name, balance string) uuid.UUID {
	h.t.Helper()
	id := uuid.New()
	h.journal.CreateAccount(models.Account{ID: id, DisplayName: name})
	if b := decimal.RequireFromString(balance); !b.IsZero() {
		require.NoError(h.t, h.journal.SaveEntry(context.Background(), models.LedgerEntry{
			ID: uuid.NewString(), AccountID: id, Amount: b, Origin: "seed",
		}))
	}
	return id
}

func (h *harness) balance(id uuid.UUID) string {
	h.t.Helper()
	account, err := h.ledger.Ledger.GetAccount(context.Background(), id)
	require.NoError(h.t, err)
	return account.Balance.StringFixed(2)
}

func TestIterateSampleScenarios(t *testing.T) {
	h := newHarness(t, config.Reconciler{})
	u1 := h.account("U1", "100.00")
	u2 := h.account("U2", "30.00")
	u3 := h.account("U3", "10.00")
	h.pending.Insert(u1, decimal.RequireFromString("150.00"))
	h.pending.Insert(u2, decimal.RequireFromString("-20.00"))
	h.pending.Insert(u3, decimal.RequireFromString("10.00"))

	stats, err := h.rec.Iterate(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 3, stats.Pending)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.Outcomes[models.OutcomeIncreased])
	assert.Equal(t, 1, stats.Outcomes[models.OutcomeForcedSet])
	assert.Equal(t, 1, stats.Outcomes[models.OutcomeUnchanged])

	calls := h.ledger.calls()
	require.Len(t, calls, 2, "an unchanged balance makes no ledger call")

	assert.Equal(t, u1, calls[0].AccountID)
	assert.Equal(t, interfaces.DirectionCredit, calls[0].Direction)
	assert.True(t, calls[0].Amount.Equal(decimal.RequireFromString("50.00")))
	assert.Equal(t, "U1", calls[0].DisplayName)
	assert.Equal(t, DefaultOrigin, calls[0].Origin)

	assert.Equal(t, u2, calls[1].AccountID)
	assert.Equal(t, interfaces.DirectionSet, calls[1].Direction)
	assert.True(t, calls[1].Amount.Equal(decimal.RequireFromString("-20.00")))

	assert.Empty(t, h.pending.Pending(), "every fetched row is deleted on commit")
	assert.Equal(t, "150.00", h.balance(u1))
	assert.Equal(t, "-20.00", h.balance(u2))
	assert.Equal(t, "10.00", h.balance(u3))

	assert.Equal(t, 2, h.logs.FilterMessage("balance reconciled").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("balance unchanged").Len())
}

func TestIterateDebitsTheDifference(t *testing.T) {
	h := newHarness(t, config.Reconciler{Origin: "economy-sync"})
	id := h.account("Alex", "100")
	h.pending.Insert(id, decimal.RequireFromString("35.5"))

	stats, err := h.rec.Iterate(context.Background())
	require.NoError(t, err)

	calls := h.ledger.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, interfaces.DirectionDebit, calls[0].Direction)
	assert.True(t, calls[0].Amount.Equal(decimal.RequireFromString("64.5")))
	assert.Equal(t, "economy-sync", calls[0].Origin)
	assert.Equal(t, 1, stats.Outcomes[models.OutcomeDecreased])
	assert.Equal(t, "35.50", h.balance(id))
}

func TestIterateWithNothingPendingIsIdempotent(t *testing.T) {
	h := newHarness(t, config.Reconciler{})
	h.account("Alex", "5")

	for range 3 {
		stats, err := h.rec.Iterate(context.Background())
		require.NoError(t, err)
		assert.True(t, stats.Idle())
		assert.Zero(t, stats.Processed)
	}
	assert.Empty(t, h.ledger.calls())
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestIterateTransientEmptyRead(t *testing.T) {
	h := newHarness(t, config.Reconciler{})
	id := h.account("Alex", "5")
	h.pending.Insert(id, decimal.NewFromInt(9))
	h.pending.CountHook = func(int64) (int64, bool) { return 0, false }

	stats, err := h.rec.Iterate(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.EmptyRead)
	assert.Empty(t, h.ledger.calls())
	assert.Len(t, h.pending.Pending(), 1)
}

func TestIterateConsumesBusinessFailures(t *testing.T) {
	h := newHarness(t, config.Reconciler{})
	poor := h.account("Poor", "50")
	rich := h.account("Rich", "900")
	h.ledger.statuses[poor] = interfaces.StatusInsufficientFunds
	h.pending.Insert(poor, decimal.NewFromInt(10))
	h.pending.Insert(rich, decimal.NewFromInt(5000))

	stats, err := h.rec.Iterate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Outcomes[models.OutcomeInsufficientFunds])
	assert.Equal(t, 1, stats.Outcomes[models.OutcomeOverflow])
	assert.Equal(t, 2, stats.BusinessFailures)
	assert.Empty(t, h.pending.Pending(), "business failures are still consumed")
	assert.Equal(t, "900.00", h.balance(rich))

	warnings := h.logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 2)
	assert.Equal(t, poor.String(), warnings[0].ContextMap()["account_id"])
	assert.Equal(t, "40", warnings[0].ContextMap()["attempted_debit"])
	assert.Equal(t, rich.String(), warnings[1].ContextMap()["account_id"])
}

func TestIterateFaultLeavesWholeDrainPending(t *testing.T) {
	h := newHarness(t, config.Reconciler{})
	first := h.account("First", "0")
	broken := h.account("Broken", "0")
	last := h.account("Last", "0")
	h.pending.Insert(first, decimal.NewFromInt(10))
	h.pending.Insert(broken, decimal.NewFromInt(20))
	h.pending.Insert(last, decimal.NewFromInt(30))
	h.ledger.failLookup(broken, errors.New("ledger unreachable"))

	_, err := h.rec.Iterate(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "ledger unreachable")
	assert.Len(t, h.pending.Pending(), 3, "no row of a faulted drain is deleted")
	assert.Len(t, h.ledger.calls(), 1)

	// The next successful run reprocesses the whole batch; the row already
	// applied to the ledger now computes a zero delta.
	h.ledger.failLookup(broken, nil)
	stats, err := h.rec.Iterate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.Outcomes[models.OutcomeUnchanged])
	assert.Empty(t, h.pending.Pending())
	assert.Equal(t, "10.00", h.balance(first))
	assert.Equal(t, "20.00", h.balance(broken))
	assert.Equal(t, "30.00", h.balance(last))
}

func TestIterateUnknownAccountFaults(t *testing.T) {
	h := newHarness(t, config.Reconciler{})
	h.pending.Insert(uuid.New(), decimal.NewFromInt(1))

	_, err := h.rec.Iterate(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.HasTextCode(err, apperr.TextCodeAccountNotFound))
	assert.Len(t, h.pending.Pending(), 1)
}

type capturePublisher struct {
	mu     sync.Mutex
	keys   []string
	events []events.BalanceReconciled
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.events = append(p.events, event.(events.BalanceReconciled))
	return p.err
}

func TestIteratePublishesAfterCommit(t *testing.T) {
	publisher := &capturePublisher{}
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, config.Reconciler{}, WithPublisher(publisher), WithClock(func() time.Time { return at }))
	id := h.account("Alex", "100")
	changeID := h.pending.Insert(id, decimal.NewFromInt(150))

	_, err := h.rec.Iterate(context.Background())
	require.NoError(t, err)

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, id.String(), publisher.keys[0])
	assert.Equal(t, changeID, event.ChangeID)
	assert.Equal(t, "increased", event.Outcome)
	assert.Equal(t, "Alex", event.DisplayName)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(50)))
	assert.True(t, event.PreviousBalance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, at, event.OccurredAt)
}

func TestIteratePublishFailureIsNotAFault(t *testing.T) {
	publisher := &capturePublisher{err: errors.New("broker down")}
	h := newHarness(t, config.Reconciler{}, WithPublisher(publisher))
	id := h.account("Alex", "1")
	h.pending.Insert(id, decimal.NewFromInt(2))

	_, err := h.rec.Iterate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.pending.Pending())
	assert.Equal(t, 1, h.logs.FilterMessage("publish reconciliation event").Len())
}

func TestIterateNoPublishOnFault(t *testing.T) {
	publisher := &capturePublisher{}
	h := newHarness(t, config.Reconciler{}, WithPublisher(publisher))
	ok := h.account("Ok", "1")
	h.pending.Insert(ok, decimal.NewFromInt(2))
	h.pending.Insert(uuid.New(), decimal.NewFromInt(2))

	_, err := h.rec.Iterate(context.Background())
	require.Error(t, err)
	assert.Empty(t, publisher.events)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, &recordingLedger{}, config.Reconciler{})
	assert.Error(t, err)
	_, err = New(memory.NewPendingStore(), nil, config.Reconciler{})
	assert.Error(t, err)
}

func runAsync(h *harness, running *atomic.Bool, wake chan struct{}) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- h.rec.Run(context.Background(), running, wake)
	}()
	return done
}

func TestRunDrainsUntilStopped(t *testing.T) {
	h := newHarness(t, config.Reconciler{IdleDelay: 5 * time.Millisecond, MaxIdleDelay: 20 * time.Millisecond})
	id := h.account("Alex", "0")
	running := &atomic.Bool{}
	running.Store(true)
	wake := make(chan struct{}, 1)

	done := runAsync(h, running, wake)

	h.pending.Insert(id, decimal.NewFromInt(10))
	require.Eventually(t, func() bool { return h.balance(id) == "10.00" && len(h.pending.Pending()) == 0 },
		2*time.Second, 5*time.Millisecond)

	h.pending.Insert(id, decimal.NewFromInt(4))
	require.Eventually(t, func() bool { return h.balance(id) == "4.00" }, 2*time.Second, 5*time.Millisecond)

	running.Store(false)
	wake <- struct{}{}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunReturnsFaultedIteration(t *testing.T) {
	h := newHarness(t, config.Reconciler{IdleDelay: time.Millisecond, MaxIdleDelay: time.Millisecond})
	h.pending.Insert(uuid.New(), decimal.NewFromInt(1))
	running := &atomic.Bool{}
	running.Store(true)

	err := h.rec.Run(context.Background(), running, nil)
	require.Error(t, err)
	assert.True(t, apperr.HasTextCode(err, apperr.TextCodeFaultedIteration))
	assert.Len(t, h.pending.Pending(), 1)
}

func TestRunRetriesFaultedIterations(t *testing.T) {
	h := newHarness(t, config.Reconciler{
		IdleDelay:    time.Millisecond,
		MaxIdleDelay: 5 * time.Millisecond,
		FaultRetries: 3,
		RetryDelay:   time.Millisecond,
	})
	id := h.account("Flaky", "0")
	h.pending.Insert(id, decimal.NewFromInt(7))
	h.ledger.flaky[id] = 2
	running := &atomic.Bool{}
	running.Store(true)

	done := runAsync(h, running, nil)
	require.Eventually(t, func() bool { return len(h.pending.Pending()) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.logs.FilterMessage("reconciliation iteration failed, retrying").Len())
	assert.Equal(t, "7.00", h.balance(id))

	running.Store(false)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHarness(t, config.Reconciler{IdleDelay: time.Hour, MaxIdleDelay: time.Hour})
	running := &atomic.Bool{}
	running.Store(true)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.rec.Run(ctx, running, nil) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
