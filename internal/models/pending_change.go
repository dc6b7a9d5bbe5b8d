package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingChange is one row of the pending balance change queue.
// Producers insert it; the reconciler only ever deletes it.
type PendingChange struct {
	ID            int64           // assigned by the store, ascending, never reused
	AccountID     uuid.UUID       // ledger identity the change targets
	TargetBalance decimal.Decimal // balance the account should hold once applied
}

// LedgerAccount is a read-only snapshot of a ledger account.
type LedgerAccount struct {
	Balance     decimal.Decimal
	DisplayName string
}
