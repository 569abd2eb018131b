package store

import (
	"context"
	"sync"

	"github.com/punchamoorthee/creditgate/internal/domain"
)

// MemoryStore keeps balances in process. Each account has its own lock so users never
// contend with each other.
type MemoryStore struct {
	opts Options

	mu       sync.RWMutex
	accounts map[string]*accountCell

	purchaseMu sync.Mutex
	purchases  map[string]domain.PurchaseRecord
}

type accountCell struct {
	mu      sync.Mutex
	account domain.Account
	entries []domain.CreditEntry
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:      opts,
		accounts:  make(map[string]*accountCell),
		purchases: make(map[string]domain.PurchaseRecord),
	}
}

func (s *MemoryStore) cell(userID string, create bool) *accountCell {
	s.mu.RLock()
	c, ok := s.accounts[userID]
	s.mu.RUnlock()
	if ok || !create {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.accounts[userID]; ok {
		return c
	}
	now := s.opts.now()
	c = &accountCell{account: domain.Account{
		UserID:    userID,
		Credits:   s.opts.InitialGrant,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	if s.opts.InitialGrant > 0 {
		c.entries = append(c.entries, newEntry(userID, s.opts.InitialGrant, s.opts.InitialGrant, domain.EntryGrant, "", now))
	}
	s.accounts[userID] = c
	return c
}

func (s *MemoryStore) Get(_ context.Context, userID string) (domain.Account, error) {
	c := s.cell(userID, true)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account, nil
}

func (s *MemoryStore) Lookup(_ context.Context, userID string) (domain.Account, error) {
	c := s.cell(userID, false)
	if c == nil {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account, nil
}

func (s *MemoryStore) TryDecrement(_ context.Context, userID string, n int64) (int64, error) {
	if err := validateAmount(n); err != nil {
		return 0, err
	}
	c := s.cell(userID, false)
	if c == nil {
		return 0, domain.ErrAccountNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account.Credits < n {
		return c.account.Credits, domain.ErrInsufficientCredits
	}
	now := s.opts.now()
	c.account.Credits -= n
	c.account.FreeTierUsed = true
	c.account.UpdatedAt = now
	c.entries = append(c.entries, newEntry(userID, -n, c.account.Credits, domain.EntrySpend, "", now))
	return c.account.Credits, nil
}

func (s *MemoryStore) Increment(_ context.Context, userID string, n int64, kind domain.EntryKind, reference string) (int64, error) {
	if err := validateAmount(n); err != nil {
		return 0, err
	}
	c := s.cell(userID, true)
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.credit(c, n, kind, reference), nil
}

func (s *MemoryStore) credit(c *accountCell, n int64, kind domain.EntryKind, reference string) int64 {
	now := s.opts.now()
	c.account.Credits += n
	c.account.UpdatedAt = now
	c.entries = append(c.entries, newEntry(c.account.UserID, n, c.account.Credits, kind, reference, now))
	return c.account.Credits
}

func (s *MemoryStore) ApplyPurchase(_ context.Context, rec domain.PurchaseRecord) (bool, int64, error) {
	if err := validatePurchase(rec); err != nil {
		return false, 0, err
	}
	c := s.cell(rec.UserID, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	s.purchaseMu.Lock()
	if _, exists := s.purchases[rec.PaymentReference]; exists {
		s.purchaseMu.Unlock()
		return false, c.account.Credits, nil
	}
	rec.AppliedAt = s.opts.now()
	s.purchases[rec.PaymentReference] = rec
	s.purchaseMu.Unlock()

	return true, s.credit(c, rec.CreditsGranted, domain.EntryPurchase, rec.PaymentReference), nil
}

func (s *MemoryStore) GetPurchase(_ context.Context, paymentReference string) (domain.PurchaseRecord, error) {
	s.purchaseMu.Lock()
	defer s.purchaseMu.Unlock()
	rec, ok := s.purchases[paymentReference]
	if !ok {
		return domain.PurchaseRecord{}, domain.ErrPurchaseNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	c := s.cell(userID, false)
	if c == nil {
		return []domain.CreditEntry{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	if l := entryLimit(limit); n > l {
		n = l
	}
	out := make([]domain.CreditEntry, 0, n)
	for i := len(c.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, c.entries[i])
	}
	return out, nil
}

// Len reports how many accounts exist.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

func (s *MemoryStore) Close() error { return nil }
