// Package store persists credit balances, purchase guards and the credit journal.
//
// Every backend honours the same contract: all balance mutations for one user are
// linearizable, a balance is never observable below zero, and a payment reference is applied
// at most once.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/creditgate/internal/domain"
)

// BalanceStore is the durable source of truth for credits.
type BalanceStore interface {
	// Get returns the account, creating it with the initial grant when absent.
	Get(ctx context.Context, userID string) (domain.Account, error)
	// Lookup returns the account without creating it (domain.ErrAccountNotFound).
	Lookup(ctx context.Context, userID string) (domain.Account, error)
	// TryDecrement removes n credits iff the balance covers them and returns the new balance.
	// It fails with domain.ErrInsufficientCredits and leaves the balance untouched otherwise.
	TryDecrement(ctx context.Context, userID string, n int64) (int64, error)
	// Increment adds n credits, creating the account if needed, and returns the new balance.
	Increment(ctx context.Context, userID string, n int64, kind domain.EntryKind, reference string) (int64, error)
	// ApplyPurchase records rec and credits its grant in one atomic unit. When the payment
	// reference is already recorded nothing changes and applied is false.
	ApplyPurchase(ctx context.Context, rec domain.PurchaseRecord) (applied bool, balance int64, err error)
	GetPurchase(ctx context.Context, paymentReference string) (domain.PurchaseRecord, error)
	// ListEntries returns the newest entries first.
	ListEntries(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error)
	Close() error
}

// Options shared by every backend.
type Options struct {
	// InitialGrant is credited exactly once, when an account is created.
	InitialGrant int64
	// Now is overridable for tests.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

const defaultEntryLimit = 50

func entryLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultEntryLimit
	}
	return limit
}

func newEntry(userID string, delta, balanceAfter int64, kind domain.EntryKind, reference string, at time.Time) domain.CreditEntry {
	return domain.CreditEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Delta:        delta,
		BalanceAfter: balanceAfter,
		Kind:         kind,
		Reference:    reference,
		CreatedAt:    at,
	}
}

func validateAmount(n int64) error {
	if n <= 0 {
		return domain.InvalidRequest("credit amount must be positive")
	}
	return nil
}

func validatePurchase(rec domain.PurchaseRecord) error {
	switch {
	case rec.PaymentReference == "":
		return domain.InvalidRequest("payment reference is required")
	case rec.UserID == "":
		return domain.InvalidRequest("user id is required")
	}
	return validateAmount(rec.CreditsGranted)
}
