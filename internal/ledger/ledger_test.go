package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
	"github.com/punchamoorthee/creditgate/internal/store"
)

// failingStore wraps a real store and fails TryDecrement with a configurable error.
type failingStore struct {
	store.BalanceStore
	DecrementErr error
	sawCanceled  bool
}

func (f *failingStore) TryDecrement(ctx context.Context, userID string, n int64) (int64, error) {
	if ctx.Err() != nil {
		f.sawCanceled = true
	}
	if f.DecrementErr != nil {
		return 0, f.DecrementErr
	}
	return f.BalanceStore.TryDecrement(ctx, userID, n)
}

func newTestLedger(t *testing.T, s store.BalanceStore) *Ledger {
	t.Helper()
	return New(s, entitlement.DefaultPolicy(), time.Second)
}

func TestCommitSpend(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.Options{InitialGrant: 2})
	l := newTestLedger(t, s)

	if _, err := l.Balance(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	remaining, err := l.CommitSpend(ctx, "u1")
	if err != nil {
		t.Fatalf("CommitSpend: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
}

func TestCommitSpendInsufficient(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.Options{InitialGrant: 0})
	l := newTestLedger(t, s)
	if _, err := l.Balance(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	_, err := l.CommitSpend(ctx, "u1")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	var warn *domain.LedgerCommitWarning
	if errors.As(err, &warn) {
		t.Error("a lost race is not a commit warning")
	}
}

func TestCommitSpendStoreFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{
		BalanceStore: store.NewMemoryStore(store.Options{InitialGrant: 1}),
		DecrementErr: errors.New("connection refused"),
	}
	l := newTestLedger(t, fs)

	_, err := l.CommitSpend(ctx, "u1")
	var warn *domain.LedgerCommitWarning
	if !errors.As(err, &warn) {
		t.Fatalf("err = %v, want LedgerCommitWarning", err)
	}
	if warn.UserID != "u1" || warn.Cost != 1 {
		t.Errorf("warning = %+v", warn)
	}
}

func TestCommitSpendSurvivesCallerCancellation(t *testing.T) {
	s := store.NewMemoryStore(store.Options{InitialGrant: 1})
	fs := &failingStore{BalanceStore: s}
	l := newTestLedger(t, fs)

	if _, err := l.Balance(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	remaining, err := l.CommitSpend(ctx, "u1")
	if err != nil {
		t.Fatalf("CommitSpend after cancel: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if fs.sawCanceled {
		t.Error("store saw a canceled context")
	}
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, store.NewMemoryStore(store.Options{InitialGrant: 1}))

	balance, err := l.Grant(ctx, "u1", 3, "support ticket 41")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if balance != 4 {
		t.Errorf("balance = %d, want 4", balance)
	}

	if _, err := l.Grant(ctx, "", 3, ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("empty user err = %v", err)
	}
	if _, err := l.Grant(ctx, "u1", 0, ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("zero grant err = %v", err)
	}

	entries, err := l.History(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Kind != domain.EntryAdjustment || entries[0].Reference != "support ticket 41" {
		t.Errorf("history = %+v", entries)
	}
}
