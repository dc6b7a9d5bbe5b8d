package interfaces

import (
	"context"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
)

// PendingStore is a transactional session over the pending change table.
type PendingStore interface {
	Begin(ctx context.Context) (PendingBatch, error)
	Close() error
}

// PendingBatch is one atomic count/fetch/delete unit. Nothing staged is
// visible to other readers until Commit returns nil.
type PendingBatch interface {
	// Count returns ok=false when the count query yields no row.
	Count(ctx context.Context) (count int64, ok bool, err error)
	Fetch(ctx context.Context) ([]models.PendingChange, error)
	StageDelete(id int64)
	// Commit deletes the staged ids and commits the transaction.
	Commit(ctx context.Context) error
	Rollback() error
}
