package interfaces

import (
	"context"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
)

// LedgerStore is the journal behind the reference ledger.
type LedgerStore interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	SaveEntry(ctx context.Context, entry models.LedgerEntry) error
	GetEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]models.LedgerEntry, error)
}
