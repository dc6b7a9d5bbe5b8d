package interfaces

import (
	"context"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
	"github.com/shopspring/decimal"
)

// StatusCode is the ledger's answer to a mutation request.
type StatusCode int

const (
	StatusSuccess           StatusCode = 0
	StatusUnchanged         StatusCode = 1
	StatusInsufficientFunds StatusCode = 2
	StatusOverflow          StatusCode = 3
)

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnchanged:
		return "unchanged"
	case StatusInsufficientFunds:
		return "insufficient_funds"
	case StatusOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Direction says how a DeltaRequest amount is applied.
type Direction int

const (
	// DirectionCredit adds Amount to the balance.
	DirectionCredit Direction = iota + 1
	// DirectionDebit subtracts Amount from the balance.
	DirectionDebit
	// DirectionSet assigns Amount as the new balance.
	DirectionSet
)

func (d Direction) String() string {
	switch d {
	case DirectionCredit:
		return "credit"
	case DirectionDebit:
		return "debit"
	case DirectionSet:
		return "set"
	default:
		return "none"
	}
}

type DeltaRequest struct {
	AccountID   uuid.UUID
	DisplayName string
	Amount      decimal.Decimal
	Direction   Direction
	Origin      string
}

// LedgerClient is the narrow surface of the external ledger the reconciler
// is allowed to use. GetAccount fails only for unknown or unreachable accounts.
type LedgerClient interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (models.LedgerAccount, error)
	ApplyDelta(ctx context.Context, req DeltaRequest) (StatusCode, error)
}
