// Package ledger applies the spend and top-up rules on top of a BalanceStore.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
	"github.com/punchamoorthee/creditgate/internal/store"
)

const DefaultCommitTimeout = 5 * time.Second

type Ledger struct {
	store         store.BalanceStore
	policy        entitlement.Policy
	commitTimeout time.Duration
}

func New(s store.BalanceStore, policy entitlement.Policy, commitTimeout time.Duration) *Ledger {
	if commitTimeout <= 0 {
		commitTimeout = DefaultCommitTimeout
	}
	return &Ledger{store: s, policy: policy, commitTimeout: commitTimeout}
}

func (l *Ledger) Policy() entitlement.Policy { return l.policy }

// Balance returns the account, creating it on first sight.
func (l *Ledger) Balance(ctx context.Context, userID string) (domain.Account, error) {
	return l.store.Get(ctx, userID)
}

// Peek returns the account without creating it.
func (l *Ledger) Peek(ctx context.Context, userID string) (domain.Account, error) {
	return l.store.Lookup(ctx, userID)
}

// CommitSpend charges one diagnosis. It must only be called once the diagnosis has been
// generated. The commit runs detached from ctx's cancellation so a client that disconnects
// after generation is still charged.
//
// domain.ErrInsufficientCredits is returned as is: the caller lost a race for the last
// credit. Any other failure is wrapped in *domain.LedgerCommitWarning.
func (l *Ledger) CommitSpend(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.commitTimeout)
	defer cancel()

	cost := l.policy.SpendCost
	remaining, err := l.store.TryDecrement(ctx, userID, cost)
	if err == nil {
		return remaining, nil
	}
	if errors.Is(err, domain.ErrInsufficientCredits) {
		return 0, err
	}
	return 0, &domain.LedgerCommitWarning{UserID: userID, Cost: cost, Err: err}
}

// Grant credits an operator adjustment.
func (l *Ledger) Grant(ctx context.Context, userID string, n int64, reference string) (int64, error) {
	if userID == "" {
		return 0, domain.InvalidRequest("user id is required")
	}
	balance, err := l.store.Increment(ctx, userID, n, domain.EntryAdjustment, reference)
	if err != nil {
		return 0, fmt.Errorf("grant %d to %s: %w", n, userID, err)
	}
	log.Printf("granted %d credits to %s (ref=%q), balance now %d", n, userID, reference, balance)
	return balance, nil
}

// ApplyPurchase records the purchase and credits its pack exactly once per payment reference.
func (l *Ledger) ApplyPurchase(ctx context.Context, rec domain.PurchaseRecord) (bool, int64, error) {
	return l.store.ApplyPurchase(ctx, rec)
}

func (l *Ledger) Purchase(ctx context.Context, paymentReference string) (domain.PurchaseRecord, error) {
	return l.store.GetPurchase(ctx, paymentReference)
}

func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	return l.store.ListEntries(ctx, userID, limit)
}
