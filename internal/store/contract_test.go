package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/punchamoorthee/creditgate/internal/domain"
)

// newStoreFunc builds an empty store with the given initial grant. userPrefix isolates test
// data for backends that cannot be wiped between tests.
type newStoreFunc func(t *testing.T, grant int64) BalanceStore

var userSeq atomic.Int64

func uniqueUser(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("user-%d-%d", userSeq.Add(1), testRunID)
}

func runBalanceStoreContract(t *testing.T, newStore newStoreFunc) {
	ctx := context.Background()

	t.Run("get creates account with initial grant", func(t *testing.T) {
		s := newStore(t, 1)
		uid := uniqueUser(t)

		if _, err := s.Lookup(ctx, uid); !errors.Is(err, domain.ErrAccountNotFound) {
			t.Fatalf("Lookup before Get: err = %v, want ErrAccountNotFound", err)
		}
		acc, err := s.Get(ctx, uid)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if acc.Credits != 1 || acc.FreeTierUsed {
			t.Errorf("new account = %+v, want 1 credit and unused free tier", acc)
		}

		again, err := s.Get(ctx, uid)
		if err != nil {
			t.Fatalf("second Get: %v", err)
		}
		if again.Credits != 1 {
			t.Errorf("grant applied twice: credits = %d", again.Credits)
		}
	})

	t.Run("decrement never goes negative", func(t *testing.T) {
		s := newStore(t, 2)
		uid := uniqueUser(t)
		if _, err := s.Get(ctx, uid); err != nil {
			t.Fatalf("Get: %v", err)
		}

		for i, want := range []int64{1, 0} {
			got, err := s.TryDecrement(ctx, uid, 1)
			if err != nil {
				t.Fatalf("decrement %d: %v", i, err)
			}
			if got != want {
				t.Errorf("decrement %d: remaining = %d, want %d", i, got, want)
			}
		}

		if _, err := s.TryDecrement(ctx, uid, 1); !errors.Is(err, domain.ErrInsufficientCredits) {
			t.Fatalf("decrement at zero: err = %v, want ErrInsufficientCredits", err)
		}
		acc, err := s.Lookup(ctx, uid)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if acc.Credits != 0 {
			t.Errorf("credits = %d after failed decrement, want 0", acc.Credits)
		}
		if !acc.FreeTierUsed {
			t.Error("free tier should be marked used after a spend")
		}
	})

	t.Run("decrement larger than balance leaves it untouched", func(t *testing.T) {
		s := newStore(t, 3)
		uid := uniqueUser(t)
		if _, err := s.Get(ctx, uid); err != nil {
			t.Fatalf("Get: %v", err)
		}
		if _, err := s.TryDecrement(ctx, uid, 4); !errors.Is(err, domain.ErrInsufficientCredits) {
			t.Fatalf("err = %v, want ErrInsufficientCredits", err)
		}
		acc, _ := s.Lookup(ctx, uid)
		if acc.Credits != 3 {
			t.Errorf("credits = %d, want 3", acc.Credits)
		}
	})

	t.Run("decrement unknown account", func(t *testing.T) {
		s := newStore(t, 1)
		if _, err := s.TryDecrement(ctx, uniqueUser(t), 1); !errors.Is(err, domain.ErrAccountNotFound) {
			t.Fatalf("err = %v, want ErrAccountNotFound", err)
		}
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		s := newStore(t, 1)
		uid := uniqueUser(t)
		if _, err := s.TryDecrement(ctx, uid, 0); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("TryDecrement(0) err = %v", err)
		}
		if _, err := s.Increment(ctx, uid, -3, domain.EntryAdjustment, ""); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("Increment(-3) err = %v", err)
		}
	})

	t.Run("concurrent decrements on one credit", func(t *testing.T) {
		s := newStore(t, 1)
		uid := uniqueUser(t)
		if _, err := s.Get(ctx, uid); err != nil {
			t.Fatalf("Get: %v", err)
		}

		const workers = 8
		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			refused   atomic.Int32
		)
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				_, err := s.TryDecrement(ctx, uid, 1)
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, domain.ErrInsufficientCredits):
					refused.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if succeeded.Load() != 1 || refused.Load() != workers-1 {
			t.Errorf("succeeded=%d refused=%d, want 1 and %d", succeeded.Load(), refused.Load(), workers-1)
		}
		acc, _ := s.Lookup(ctx, uid)
		if acc.Credits != 0 {
			t.Errorf("credits = %d, want 0", acc.Credits)
		}
	})

	t.Run("increment creates account", func(t *testing.T) {
		s := newStore(t, 1)
		uid := uniqueUser(t)
		got, err := s.Increment(ctx, uid, 5, domain.EntryAdjustment, "support")
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if got != 6 {
			t.Errorf("balance = %d, want grant 1 + 5", got)
		}
	})

	t.Run("purchase applies once", func(t *testing.T) {
		s := newStore(t, 0)
		uid := uniqueUser(t)
		rec := domain.PurchaseRecord{PaymentReference: "pay-" + uid, UserID: uid, SKU: "pack-10", CreditsGranted: 10}

		applied, balance, err := s.ApplyPurchase(ctx, rec)
		if err != nil || !applied || balance != 10 {
			t.Fatalf("first apply: applied=%v balance=%d err=%v", applied, balance, err)
		}
		applied, balance, err = s.ApplyPurchase(ctx, rec)
		if err != nil || applied || balance != 10 {
			t.Fatalf("replay: applied=%v balance=%d err=%v", applied, balance, err)
		}

		got, err := s.GetPurchase(ctx, rec.PaymentReference)
		if err != nil {
			t.Fatalf("GetPurchase: %v", err)
		}
		if got.UserID != uid || got.CreditsGranted != 10 || got.AppliedAt.IsZero() {
			t.Errorf("purchase record = %+v", got)
		}
		if _, err := s.GetPurchase(ctx, "missing-"+uid); !errors.Is(err, domain.ErrPurchaseNotFound) {
			t.Errorf("missing purchase err = %v", err)
		}
	})

	t.Run("concurrent purchase deliveries", func(t *testing.T) {
		s := newStore(t, 0)
		uid := uniqueUser(t)
		rec := domain.PurchaseRecord{PaymentReference: "dup-" + uid, UserID: uid, SKU: "pack-10", CreditsGranted: 10}

		const deliveries = 6
		var (
			wg      sync.WaitGroup
			applied atomic.Int32
		)
		wg.Add(deliveries)
		for i := 0; i < deliveries; i++ {
			go func() {
				defer wg.Done()
				ok, _, err := s.ApplyPurchase(ctx, rec)
				if err != nil {
					t.Errorf("ApplyPurchase: %v", err)
					return
				}
				if ok {
					applied.Add(1)
				}
			}()
		}
		wg.Wait()

		if applied.Load() != 1 {
			t.Errorf("applied %d times, want 1", applied.Load())
		}
		acc, _ := s.Lookup(ctx, uid)
		if acc.Credits != 10 {
			t.Errorf("credits = %d, want 10", acc.Credits)
		}
	})

	t.Run("same reference for two users applies once", func(t *testing.T) {
		s := newStore(t, 0)
		owner, other := uniqueUser(t), uniqueUser(t)
		ref := "shared-" + owner

		applied, balance, err := s.ApplyPurchase(ctx, domain.PurchaseRecord{PaymentReference: ref, UserID: owner, SKU: "pack-10", CreditsGranted: 10})
		if err != nil || !applied || balance != 10 {
			t.Fatalf("first apply: applied=%v balance=%d err=%v", applied, balance, err)
		}
		applied, balance, err = s.ApplyPurchase(ctx, domain.PurchaseRecord{PaymentReference: ref, UserID: other, SKU: "pack-10", CreditsGranted: 10})
		if err != nil || applied || balance != 0 {
			t.Fatalf("apply for second user: applied=%v balance=%d err=%v", applied, balance, err)
		}

		got, err := s.GetPurchase(ctx, ref)
		if err != nil {
			t.Fatalf("GetPurchase: %v", err)
		}
		if got.UserID != owner {
			t.Errorf("purchase belongs to %s, want %s", got.UserID, owner)
		}
		if acc, err := s.Lookup(ctx, other); err == nil && acc.Credits != 0 {
			t.Errorf("second user credited: %d", acc.Credits)
		}
	})

	t.Run("concurrent deliveries naming different users", func(t *testing.T) {
		s := newStore(t, 0)
		users := []string{uniqueUser(t), uniqueUser(t), uniqueUser(t)}
		ref := "race-" + users[0]

		var (
			wg      sync.WaitGroup
			applied atomic.Int32
		)
		wg.Add(len(users))
		for _, uid := range users {
			go func(uid string) {
				defer wg.Done()
				ok, _, err := s.ApplyPurchase(ctx, domain.PurchaseRecord{PaymentReference: ref, UserID: uid, SKU: "pack-10", CreditsGranted: 10})
				if err != nil {
					t.Errorf("ApplyPurchase(%s): %v", uid, err)
					return
				}
				if ok {
					applied.Add(1)
				}
			}(uid)
		}
		wg.Wait()

		if applied.Load() != 1 {
			t.Fatalf("applied %d times, want 1", applied.Load())
		}
		var total int64
		for _, uid := range users {
			if acc, err := s.Lookup(ctx, uid); err == nil {
				total += acc.Credits
			}
		}
		if total != 10 {
			t.Errorf("credits across users = %d, want 10", total)
		}
	})

	t.Run("entries newest first", func(t *testing.T) {
		s := newStore(t, 1)
		uid := uniqueUser(t)
		if _, err := s.Get(ctx, uid); err != nil {
			t.Fatalf("Get: %v", err)
		}
		if _, err := s.TryDecrement(ctx, uid, 1); err != nil {
			t.Fatalf("TryDecrement: %v", err)
		}
		if _, _, err := s.ApplyPurchase(ctx, domain.PurchaseRecord{PaymentReference: "e-" + uid, UserID: uid, SKU: "pack-10", CreditsGranted: 10}); err != nil {
			t.Fatalf("ApplyPurchase: %v", err)
		}

		entries, err := s.ListEntries(ctx, uid, 10)
		if err != nil {
			t.Fatalf("ListEntries: %v", err)
		}
		wantKinds := []domain.EntryKind{domain.EntryPurchase, domain.EntrySpend, domain.EntryGrant}
		if len(entries) != len(wantKinds) {
			t.Fatalf("got %d entries, want %d: %+v", len(entries), len(wantKinds), entries)
		}
		for i, k := range wantKinds {
			if entries[i].Kind != k {
				t.Errorf("entry %d kind = %s, want %s", i, entries[i].Kind, k)
			}
		}
		if entries[0].BalanceAfter != 10 || entries[1].BalanceAfter != 0 {
			t.Errorf("balance_after trail wrong: %+v", entries)
		}

		limited, err := s.ListEntries(ctx, uid, 1)
		if err != nil || len(limited) != 1 {
			t.Errorf("limit 1: got %d entries err=%v", len(limited), err)
		}
	})
}
