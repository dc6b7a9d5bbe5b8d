package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a ledger account as stored by the reference ledger.
type Account struct {
	ID          uuid.UUID
	DisplayName string
}

// LedgerEntry represents a single ledger record for an account
type LedgerEntry struct {
	ID        string          // unique identifier
	AccountID uuid.UUID       // which account this entry belongs to
	Amount    decimal.Decimal // signed, credits positive and debits negative
	Origin    string          // who requested the mutation
	CreatedAt time.Time       // timestamp
}
