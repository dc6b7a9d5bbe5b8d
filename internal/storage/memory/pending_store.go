package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
)

var (
	ErrStoreClosed = errors.New("memory: pending store is closed")
	ErrBatchDone   = errors.New("memory: batch already finished")
)

// PendingStore is an in-memory pending change queue with the same
// transactional contract as the SQL session: deletes staged in a batch only
// take effect on Commit.
type PendingStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]models.PendingChange
	closed bool

	// CountHook, when set, replaces the count query result. Tests use it to
	// simulate a count that yields no row.
	CountHook func(count int64) (int64, bool)
}

func NewPendingStore() *PendingStore {
	return &PendingStore{
		nextID: 1,
		rows:   make(map[int64]models.PendingChange),
	}
}

// Insert adds a change the way an external producer would and returns its id.
func (m *PendingStore) Insert(accountID uuid.UUID, target decimal.Decimal) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.rows[id] = models.PendingChange{ID: id, AccountID: accountID, TargetBalance: target}
	return id
}

// Pending returns the visible rows in id order.
func (m *PendingStore) Pending() []models.PendingChange {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sortedLocked()
}

func (m *PendingStore) sortedLocked() []models.PendingChange {
	out := make([]models.PendingChange, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *PendingStore) Begin(ctx context.Context) (interfaces.PendingBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return &pendingBatch{store: m}, nil
}

func (m *PendingStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

type pendingBatch struct {
	store  *PendingStore
	staged []int64
	done   bool
}

func (b *pendingBatch) Count(ctx context.Context) (int64, bool, error) {
	if b.done {
		return 0, false, ErrBatchDone
	}
	b.store.mu.Lock()
	count := int64(len(b.store.rows))
	hook := b.store.CountHook
	b.store.mu.Unlock()

	if hook != nil {
		c, ok := hook(count)
		return c, ok, nil
	}
	return count, true, nil
}

func (b *pendingBatch) Fetch(ctx context.Context) ([]models.PendingChange, error) {
	if b.done {
		return nil, ErrBatchDone
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	return b.store.sortedLocked(), nil
}

func (b *pendingBatch) StageDelete(id int64) {
	b.staged = append(b.staged, id)
}

func (b *pendingBatch) Commit(ctx context.Context) error {
	if b.done {
		return ErrBatchDone
	}
	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	if b.store.closed {
		return ErrStoreClosed
	}
	for _, id := range b.staged {
		delete(b.store.rows, id)
	}
	b.staged = nil
	return nil
}

// Rollback is a no-op once the batch has been committed.
func (b *pendingBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	b.staged = nil
	return nil
}

var _ interfaces.PendingStore = (*PendingStore)(nil)
