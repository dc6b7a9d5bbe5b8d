package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/apperr"
	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// LedgerStore keeps the reference ledger journal in SQL. Statements use $n
// placeholders and portable types.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{
		db: db,
	}
}

// EnsureSchema creates the journal tables when they do not exist.
func (p *LedgerStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *LedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (id, display_name) VALUES ($1, $2)`

	_, err := p.db.ExecContext(ctx, query, account.ID.String(), account.DisplayName)
	return err
}

func (p *LedgerStore) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	const query = `SELECT id, display_name FROM accounts WHERE id = $1`

	var account models.Account
	err := p.db.QueryRowContext(ctx, query, accountID.String()).Scan(&account.ID, &account.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, apperr.AccountNotFound(accountID.String())
	}
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (p *LedgerStore) SaveEntry(ctx context.Context, ledgerEntry models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, account_id, amount, origin, created_at)
	VALUES ($1, $2, $3, $4, $5)`

	_, err := p.db.ExecContext(ctx, query,
		ledgerEntry.ID,
		ledgerEntry.AccountID.String(),
		ledgerEntry.Amount,
		ledgerEntry.Origin,
		ledgerEntry.CreatedAt,
	)
	return err
}

func (p *LedgerStore) GetEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]models.LedgerEntry, error) {
	const query = `SELECT id, account_id, amount, origin, created_at FROM ledger_entries
	WHERE account_id = $1 ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query, accountID.String())
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.Origin, &entry.CreatedAt); err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

var _ interfaces.LedgerStore = (*LedgerStore)(nil)
