package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/punchamoorthee/creditgate/internal/domain"
)

// SQLiteStore is a single-node backend. Transactions start with BEGIN IMMEDIATE so the write
// lock is taken before balances are read, which serializes writers.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, opts: opts}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			credits INTEGER NOT NULL CHECK (credits >= 0),
			free_tier_used BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS purchases (
			payment_reference TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES accounts (user_id),
			sku TEXT NOT NULL,
			credits_granted INTEGER NOT NULL CHECK (credits_granted > 0),
			applied_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS credit_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL REFERENCES accounts (user_id),
			delta INTEGER NOT NULL,
			balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
			kind TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_credit_entries_user ON credit_entries(user_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Lookup(ctx context.Context, userID string) (domain.Account, error) {
	var acc domain.Account
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, credits, free_tier_used, created_at, updated_at FROM accounts WHERE user_id = ?",
		userID,
	).Scan(&acc.UserID, &acc.Credits, &acc.FreeTierUsed, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("account query failed: %w", err)
	}
	return acc, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (domain.Account, error) {
	acc, err := s.Lookup(ctx, userID)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return acc, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		return s.ensureAccount(ctx, tx, userID)
	})
	if err != nil {
		return domain.Account{}, err
	}
	return s.Lookup(ctx, userID)
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureAccount(ctx context.Context, tx *sql.Tx, userID string) error {
	now := s.opts.now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (user_id, credits, free_tier_used, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?) ON CONFLICT (user_id) DO NOTHING`,
		userID, s.opts.InitialGrant, now, now,
	)
	if err != nil {
		return fmt.Errorf("account insert failed: %w", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if created == 1 && s.opts.InitialGrant > 0 {
		return s.insertEntry(ctx, tx, newEntry(userID, s.opts.InitialGrant, s.opts.InitialGrant, domain.EntryGrant, "", now))
	}
	return nil
}

func (s *SQLiteStore) insertEntry(ctx context.Context, tx *sql.Tx, e domain.CreditEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO credit_entries (id, user_id, delta, balance_after, kind, reference, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Delta, e.BalanceAfter, string(e.Kind), e.Reference, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TryDecrement(ctx context.Context, userID string, n int64) (int64, error) {
	if err := validateAmount(n); err != nil {
		return 0, err
	}

	var remaining int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.opts.now()
		err := tx.QueryRowContext(ctx,
			`UPDATE accounts SET credits = credits - ?, free_tier_used = 1, updated_at = ?
			 WHERE user_id = ? AND credits >= ?
			 RETURNING credits`,
			n, now, userID, n,
		).Scan(&remaining)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = ?)", userID).Scan(&exists); err != nil {
				return fmt.Errorf("account query failed: %w", err)
			}
			if !exists {
				return domain.ErrAccountNotFound
			}
			return domain.ErrInsufficientCredits
		}
		if err != nil {
			return fmt.Errorf("decrement failed: %w", err)
		}
		return s.insertEntry(ctx, tx, newEntry(userID, -n, remaining, domain.EntrySpend, "", now))
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (s *SQLiteStore) Increment(ctx context.Context, userID string, n int64, kind domain.EntryKind, reference string) (int64, error) {
	if err := validateAmount(n); err != nil {
		return 0, err
	}

	var balance int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		balance, err = s.credit(ctx, tx, userID, n, kind, reference)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *SQLiteStore) credit(ctx context.Context, tx *sql.Tx, userID string, n int64, kind domain.EntryKind, reference string) (int64, error) {
	if err := s.ensureAccount(ctx, tx, userID); err != nil {
		return 0, err
	}

	now := s.opts.now()
	var balance int64
	err := tx.QueryRowContext(ctx,
		"UPDATE accounts SET credits = credits + ?, updated_at = ? WHERE user_id = ? RETURNING credits",
		n, now, userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("increment failed: %w", err)
	}
	if err := s.insertEntry(ctx, tx, newEntry(userID, n, balance, kind, reference, now)); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *SQLiteStore) ApplyPurchase(ctx context.Context, rec domain.PurchaseRecord) (bool, int64, error) {
	if err := validatePurchase(rec); err != nil {
		return false, 0, err
	}

	var balance int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureAccount(ctx, tx, rec.UserID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO purchases (payment_reference, user_id, sku, credits_granted, applied_at)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT (payment_reference) DO NOTHING`,
			rec.PaymentReference, rec.UserID, rec.SKU, rec.CreditsGranted, s.opts.now(),
		)
		if err != nil {
			return fmt.Errorf("purchase insert failed: %w", err)
		}
		if inserted, err := res.RowsAffected(); err != nil {
			return err
		} else if inserted == 0 {
			return domain.ErrDuplicatePurchase
		}
		balance, err = s.credit(ctx, tx, rec.UserID, rec.CreditsGranted, domain.EntryPurchase, rec.PaymentReference)
		return err
	})
	if errors.Is(err, domain.ErrDuplicatePurchase) {
		// The reference may belong to another user, whose account was never created here.
		acc, lerr := s.Lookup(ctx, rec.UserID)
		if lerr != nil && !errors.Is(lerr, domain.ErrAccountNotFound) {
			return false, 0, lerr
		}
		return false, acc.Credits, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, balance, nil
}

func (s *SQLiteStore) GetPurchase(ctx context.Context, paymentReference string) (domain.PurchaseRecord, error) {
	var rec domain.PurchaseRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT payment_reference, user_id, sku, credits_granted, applied_at FROM purchases WHERE payment_reference = ?",
		paymentReference,
	).Scan(&rec.PaymentReference, &rec.UserID, &rec.SKU, &rec.CreditsGranted, &rec.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PurchaseRecord{}, domain.ErrPurchaseNotFound
	}
	if err != nil {
		return domain.PurchaseRecord{}, fmt.Errorf("purchase query failed: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListEntries(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, delta, balance_after, kind, reference, created_at
		 FROM credit_entries WHERE user_id = ? ORDER BY seq DESC LIMIT ?`,
		userID, entryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("entries query failed: %w", err)
	}
	defer rows.Close()

	entries := []domain.CreditEntry{}
	for rows.Next() {
		var e domain.CreditEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.BalanceAfter, &kind, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("entry scan failed: %w", err)
		}
		e.Kind = domain.EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
