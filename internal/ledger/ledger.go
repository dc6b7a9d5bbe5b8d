package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
)

// DefaultMaxBalance is the largest balance an account may hold.
var DefaultMaxBalance = decimal.New(1, 12)

// Ledger is a journal-backed implementation of interfaces.LedgerClient.
// It holds a reference to the storage layer and a mutex per account for concurrency control
type Ledger struct {
	store      interfaces.LedgerStore // journal storage, memory or SQL
	maxBalance decimal.Decimal
	now        func() time.Time
	muMap      map[uuid.UUID]*sync.Mutex // stores the *sync.Mutex for each account in a map
	mapMu      sync.Mutex                // protects the muMap itself
}

// NewLedger creates a Ledger over store. A non-positive maxBalance falls
// back to DefaultMaxBalance.
func NewLedger(store interfaces.LedgerStore, maxBalance decimal.Decimal) *Ledger {
	if maxBalance.Sign() <= 0 {
		maxBalance = DefaultMaxBalance
	}
	return &Ledger{
		store:      store,
		maxBalance: maxBalance,
		now:        func() time.Time { return time.Now().UTC() },
		muMap:      make(map[uuid.UUID]*sync.Mutex),
	}
}

func (l *Ledger) getAccountLock(accountID uuid.UUID) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[accountID]; !exists {
		l.muMap[accountID] = &sync.Mutex{}
	}
	return l.muMap[accountID]
}

func (l *Ledger) GetAccount(ctx context.Context, accountID uuid.UUID) (models.LedgerAccount, error) {
	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return models.LedgerAccount{}, err
	}
	balance, err := l.GetBalance(ctx, accountID)
	if err != nil {
		return models.LedgerAccount{}, err
	}
	return models.LedgerAccount{Balance: balance, DisplayName: account.DisplayName}, nil
}

// ApplyDelta records one journal entry for req. Business refusals are
// reported through the status code, never as an error.
func (l *Ledger) ApplyDelta(ctx context.Context, req interfaces.DeltaRequest) (interfaces.StatusCode, error) {
	if _, err := l.store.GetAccount(ctx, req.AccountID); err != nil {
		return interfaces.StatusUnchanged, err
	}

	mu := l.getAccountLock(req.AccountID)
	mu.Lock()
	defer mu.Unlock()

	current, err := l.GetBalance(ctx, req.AccountID)
	if err != nil {
		return interfaces.StatusUnchanged, err
	}

	var next decimal.Decimal
	switch req.Direction {
	case interfaces.DirectionCredit:
		if req.Amount.Sign() < 0 {
			return interfaces.StatusUnchanged, fmt.Errorf("ledger: credit amount must not be negative")
		}
		next = current.Add(req.Amount)
	case interfaces.DirectionDebit:
		if req.Amount.Sign() < 0 {
			return interfaces.StatusUnchanged, fmt.Errorf("ledger: debit amount must not be negative")
		}
		next = current.Sub(req.Amount)
		if next.Sign() < 0 {
			return interfaces.StatusInsufficientFunds, nil
		}
	case interfaces.DirectionSet:
		next = req.Amount
	default:
		return interfaces.StatusUnchanged, fmt.Errorf("ledger: unsupported direction %d", req.Direction)
	}

	if next.GreaterThan(l.maxBalance) {
		return interfaces.StatusOverflow, nil
	}
	change := next.Sub(current)
	if change.IsZero() {
		return interfaces.StatusUnchanged, nil
	}

	entry := models.LedgerEntry{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Amount:    change,
		Origin:    req.Origin,
		CreatedAt: l.now(),
	}
	if err := l.store.SaveEntry(ctx, entry); err != nil {
		return interfaces.StatusUnchanged, err
	}
	return interfaces.StatusSuccess, nil
}

// GetBalance sums the account's journal entries.
func (l *Ledger) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	ledgerEntries, err := l.store.GetEntriesByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero

	for _, ledgerEntry := range ledgerEntries {
		balance = balance.Add(ledgerEntry.Amount)
	}
	return balance, nil
}

var _ interfaces.LedgerClient = (*Ledger)(nil)
