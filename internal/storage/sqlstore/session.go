// Package sqlstore opens the transactional session over the pending balance
// change table and prepares the statements the reconciler runs on it.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/pending-balance-reconciler/internal/apperr"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/config"
	interfaces "github.com/sheikh-saqib/pending-balance-reconciler/internal/interfaces"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/logging"
	"github.com/sheikh-saqib/pending-balance-reconciler/internal/models"
)

var dbOpenFn = sql.Open

// Session owns one pooled connection and the three prepared statements.
// It must only be used from a single goroutine.
type Session struct {
	db         *sql.DB
	countStmt  *sql.Stmt
	fetchStmt  *sql.Stmt
	deleteStmt *sql.Stmt
	logger     *zap.Logger
}

// Open validates cfg, connects and prepares the statements. Blank values
// fail with CONFIG_INCOMPLETE before any connection attempt; every other
// failure is a CONNECTION_ERROR and leaves nothing open.
func Open(ctx context.Context, cfg config.Datasource, logger *zap.Logger) (*Session, error) {
	logger = logging.OrNop(logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	table, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, apperr.Connection(err, "resolve pending table")
	}
	d, err := lookupDialect(cfg.DriverID)
	if err != nil {
		return nil, apperr.Connection(err, "resolve driver")
	}
	dsn, err := d.dsn(cfg)
	if err != nil {
		return nil, apperr.Connection(err, "build connection string")
	}

	db, err := dbOpenFn(d.driverName, dsn)
	if err != nil {
		return nil, apperr.Connection(err, "open pending store")
	}
	// A single connection makes the pool behave as one session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperr.Connection(err, "connect pending store")
	}

	s := &Session{db: db, logger: logger}
	countQuery, fetchQuery, deleteQuery := d.queries(table)
	if s.countStmt, err = db.PrepareContext(ctx, countQuery); err != nil {
		_ = s.Close()
		return nil, apperr.Connection(err, "prepare count statement")
	}
	if s.fetchStmt, err = db.PrepareContext(ctx, fetchQuery); err != nil {
		_ = s.Close()
		return nil, apperr.Connection(err, "prepare fetch statement")
	}
	if s.deleteStmt, err = db.PrepareContext(ctx, deleteQuery); err != nil {
		_ = s.Close()
		return nil, apperr.Connection(err, "prepare delete statement")
	}

	logger.Info("pending store connected",
		zap.String("driver", d.driverName),
		zap.String("endpoint", redactEndpoint(dsn)),
		zap.String("table", table),
	)
	return s, nil
}

// Begin starts one manual-commit unit of work.
func (s *Session) Begin(ctx context.Context) (interfaces.PendingBatch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &batch{session: s, tx: tx}, nil
}

// Close releases the prepared statements and then the pool. Every failure
// is logged; all of them are returned joined.
func (s *Session) Close() error {
	var errs []error
	for _, closer := range []struct {
		name string
		stmt *sql.Stmt
	}{
		{"count", s.countStmt},
		{"fetch", s.fetchStmt},
		{"delete", s.deleteStmt},
	} {
		if closer.stmt == nil {
			continue
		}
		if err := closer.stmt.Close(); err != nil {
			s.logger.Error("close prepared statement", zap.String("statement", closer.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("close pending store", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type batch struct {
	session  *Session
	tx       *sql.Tx
	staged   []int64
	finished bool
}

func (b *batch) Count(ctx context.Context) (int64, bool, error) {
	var cnt int64
	err := b.tx.StmtContext(ctx, b.session.countStmt).QueryRowContext(ctx).Scan(&cnt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cnt, true, nil
}

func (b *batch) Fetch(ctx context.Context) ([]models.PendingChange, error) {
	rows, err := b.tx.StmtContext(ctx, b.session.fetchStmt).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []models.PendingChange
	for rows.Next() {
		var (
			change    models.PendingChange
			accountID string
			target    decimal.NullDecimal
		)
		if err := rows.Scan(&change.ID, &accountID, &target); err != nil {
			return nil, err
		}
		if change.AccountID, err = uuid.Parse(accountID); err != nil {
			return nil, fmt.Errorf("pending change %d: account id %q: %w", change.ID, accountID, err)
		}
		if !target.Valid {
			return nil, fmt.Errorf("pending change %d: target balance is null", change.ID)
		}
		change.TargetBalance = target.Decimal
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}

func (b *batch) StageDelete(id int64) {
	b.staged = append(b.staged, id)
}

func (b *batch) Commit(ctx context.Context) error {
	if len(b.staged) > 0 {
		stmt := b.tx.StmtContext(ctx, b.session.deleteStmt)
		for _, id := range b.staged {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("delete pending change %d: %w", id, err)
			}
		}
	}
	b.finished = true
	if err := b.tx.Commit(); err != nil {
		return err
	}
	b.staged = b.staged[:0]
	return nil
}

// Rollback is a no-op once the transaction has been committed.
func (b *batch) Rollback() error {
	if b.finished {
		return nil
	}
	b.finished = true
	return b.tx.Rollback()
}

var _ interfaces.PendingStore = (*Session)(nil)
