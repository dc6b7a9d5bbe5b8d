package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sync"    // standard Go package for concurrency primitives like Mutex

	"github.com/google/uuid"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/apperr"
	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"                // domain models: Account, LedgerEntry
)

// LedgerStore is an in-memory implementation of interfaces.LedgerStore.
// It keeps accounts and their journal entries in memory and is safe for concurrent use.
type LedgerStore struct {
	mu       sync.Mutex                   // protects accounts and entries
	accounts map[uuid.UUID]models.Account // registered accounts by id
	entries  []models.LedgerEntry         // journal, in insertion order
}

// NewLedgerStore creates and returns a new LedgerStore instance
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		accounts: make(map[uuid.UUID]models.Account),
		entries:  make([]models.LedgerEntry, 0),
	}
}

// CreateAccount registers an account. Re-registering replaces the display name.
func (m *LedgerStore) CreateAccount(account models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts[account.ID] = account
}

func (m *LedgerStore) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return models.Account{}, apperr.AccountNotFound(accountID.String())
	}
	return account, nil
}

// SaveEntry appends a LedgerEntry to the journal.
func (m *LedgerStore) SaveEntry(ctx context.Context, entry models.LedgerEntry) error {
	m.mu.Lock()         // lock the mutex to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)

	m.entries = append(m.entries, entry)
	return nil
}

// GetLedgerEntries returns a copy of all journal entries.
// Useful for testing, debugging, and printing ledger state.
func (m *LedgerStore) GetLedgerEntries() []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries) // return a copy so external code can't modify internal state
	return copied
}

func (m *LedgerStore) GetEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

// Compile-time check: ensure LedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*LedgerStore)(nil)
