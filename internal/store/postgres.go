package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/creditgate/internal/domain"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	Db   *pgxpool.Pool
	opts Options
}

func NewPostgresStore(ctx context.Context, connString string, opts Options) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool, opts: opts}, nil
}

// NewPostgresStoreFromPool wraps an existing pool; Close will close it.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, opts Options) *PostgresStore {
	return &PostgresStore{Db: pool, opts: opts}
}

func (s *PostgresStore) Close() error {
	s.Db.Close()
	return nil
}

// Migrate applies the embedded schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return ApplyMigrations(ctx, s.Db)
}

func (s *PostgresStore) Lookup(ctx context.Context, userID string) (domain.Account, error) {
	var acc domain.Account
	err := s.Db.QueryRow(ctx,
		"SELECT user_id, credits, free_tier_used, created_at, updated_at FROM accounts WHERE user_id = $1",
		userID,
	).Scan(&acc.UserID, &acc.Credits, &acc.FreeTierUsed, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("account query failed: %w", err)
	}
	return acc, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (domain.Account, error) {
	acc, err := s.Lookup(ctx, userID)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return acc, err
	}

	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return domain.Account{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ensureAccount(ctx, tx, userID); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Account{}, fmt.Errorf("tx commit failed: %w", err)
	}
	return s.Lookup(ctx, userID)
}

// ensureAccount creates the account with its initial grant. Concurrent creators race on the
// primary key; only the winner writes the grant entry.
func (s *PostgresStore) ensureAccount(ctx context.Context, tx pgx.Tx, userID string) error {
	now := s.opts.now()
	tag, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id, credits, created_at, updated_at) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, s.opts.InitialGrant, now,
	)
	if err != nil {
		return fmt.Errorf("account insert failed: %w", err)
	}
	if tag.RowsAffected() == 1 && s.opts.InitialGrant > 0 {
		grant := newEntry(userID, s.opts.InitialGrant, s.opts.InitialGrant, domain.EntryGrant, "", now)
		return insertEntry(ctx, tx, grant)
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e domain.CreditEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO credit_entries (id, user_id, delta, balance_after, kind, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, e.Delta, e.BalanceAfter, string(e.Kind), e.Reference, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

// TryDecrement relies on the conditional UPDATE: the row lock taken by the first writer makes
// a concurrent writer re-check credits >= n against the committed balance.
func (s *PostgresStore) TryDecrement(ctx context.Context, userID string, n int64) (int64, error) {
	if err := validateAmount(n); err != nil {
		return 0, err
	}

	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.opts.now()
	var remaining int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET credits = credits - $2, free_tier_used = TRUE, updated_at = $3
		 WHERE user_id = $1 AND credits >= $2
		 RETURNING credits`,
		userID, n, now,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = $1)", userID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("account query failed: %w", err)
		}
		if !exists {
			return 0, domain.ErrAccountNotFound
		}
		return 0, domain.ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("decrement failed: %w", err)
	}

	if err := insertEntry(ctx, tx, newEntry(userID, -n, remaining, domain.EntrySpend, "", now)); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return remaining, nil
}

func (s *PostgresStore) Increment(ctx context.Context, userID string, n int64, kind domain.EntryKind, reference string) (int64, error) {
	if err := validateAmount(n); err != nil {
		return 0, err
	}

	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := s.credit(ctx, tx, userID, n, kind, reference)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) credit(ctx context.Context, tx pgx.Tx, userID string, n int64, kind domain.EntryKind, reference string) (int64, error) {
	if err := s.ensureAccount(ctx, tx, userID); err != nil {
		return 0, err
	}

	now := s.opts.now()
	var balance int64
	err := tx.QueryRow(ctx,
		"UPDATE accounts SET credits = credits + $2, updated_at = $3 WHERE user_id = $1 RETURNING credits",
		userID, n, now,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("increment failed: %w", err)
	}
	if err := insertEntry(ctx, tx, newEntry(userID, n, balance, kind, reference, now)); err != nil {
		return 0, err
	}
	return balance, nil
}

// ApplyPurchase inserts the purchase guard first; a duplicate reference surfaces as a unique
// violation and the whole transaction is discarded.
func (s *PostgresStore) ApplyPurchase(ctx context.Context, rec domain.PurchaseRecord) (bool, int64, error) {
	if err := validatePurchase(rec); err != nil {
		return false, 0, err
	}

	applied, balance, err := s.applyPurchase(ctx, rec)
	if errors.Is(err, domain.ErrDuplicatePurchase) {
		acc, lerr := s.Lookup(ctx, rec.UserID)
		if lerr != nil {
			log.Printf("purchase %s replayed but balance lookup failed: %v", rec.PaymentReference, lerr)
		}
		return false, acc.Credits, nil
	}
	return applied, balance, err
}

func (s *PostgresStore) applyPurchase(ctx context.Context, rec domain.PurchaseRecord) (bool, int64, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ensureAccount(ctx, tx, rec.UserID); err != nil {
		return false, 0, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO purchases (payment_reference, user_id, sku, credits_granted, applied_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.PaymentReference, rec.UserID, rec.SKU, rec.CreditsGranted, s.opts.now(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, 0, domain.ErrDuplicatePurchase
		}
		return false, 0, fmt.Errorf("purchase insert failed: %w", err)
	}

	balance, err := s.credit(ctx, tx, rec.UserID, rec.CreditsGranted, domain.EntryPurchase, rec.PaymentReference)
	if err != nil {
		return false, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return true, balance, nil
}

func (s *PostgresStore) GetPurchase(ctx context.Context, paymentReference string) (domain.PurchaseRecord, error) {
	var rec domain.PurchaseRecord
	err := s.Db.QueryRow(ctx,
		"SELECT payment_reference, user_id, sku, credits_granted, applied_at FROM purchases WHERE payment_reference = $1",
		paymentReference,
	).Scan(&rec.PaymentReference, &rec.UserID, &rec.SKU, &rec.CreditsGranted, &rec.AppliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PurchaseRecord{}, domain.ErrPurchaseNotFound
	}
	if err != nil {
		return domain.PurchaseRecord{}, fmt.Errorf("purchase query failed: %w", err)
	}
	return rec, nil
}

// ListEntries retrieves journal entries for a specific account.
func (s *PostgresStore) ListEntries(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id::text, user_id, delta, balance_after, kind, reference, created_at
		 FROM credit_entries WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
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
