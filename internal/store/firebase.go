package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"firebase.google.com/go/v4/db"
	"github.com/punchamoorthee/creditgate/internal/domain"
)

// FirebaseStore keeps one node per user under accounts/{uid}. Every balance change is a
// Realtime Database transaction on that node, which the server applies as a compare-and-set
// on the node's ETag and retries on contention.
//
// purchases/{ref} is claimed transactionally before the credit, so a payment reference
// belongs to exactly one user. Applied references are also kept inside the user node so the
// per-user guard and the increment commit together.
// Journal entries are pushed to entries/{uid} after the commit and are best effort.
type FirebaseStore struct {
	client *db.Client
	opts   Options
}

type accountNode struct {
	Credits      int64                   `json:"credits"`
	FreeTierUsed bool                    `json:"free_tier_used"`
	CreatedAt    int64                   `json:"created_at"`
	UpdatedAt    int64                   `json:"updated_at"`
	Purchases    map[string]purchaseNode `json:"purchases,omitempty"`
}

type purchaseNode struct {
	UserID         string `json:"user_id"`
	SKU            string `json:"sku"`
	CreditsGranted int64  `json:"credits_granted"`
	AppliedAt      int64  `json:"applied_at"`
}

type entryNode struct {
	ID           string `json:"id"`
	Delta        int64  `json:"delta"`
	BalanceAfter int64  `json:"balance_after"`
	Kind         string `json:"kind"`
	Reference    string `json:"reference,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

var errTxAbort = errors.New("transaction aborted")

func NewFirebaseStore(client *db.Client, opts Options) *FirebaseStore {
	return &FirebaseStore{client: client, opts: opts}
}

func (s *FirebaseStore) Close() error { return nil }

// validKey rejects characters the Realtime Database forbids in keys.
func validKey(k string) error {
	if k == "" || strings.ContainsAny(k, ".$#[]/") {
		return domain.InvalidRequest(fmt.Sprintf("invalid key %q", k))
	}
	return nil
}

func (s *FirebaseStore) accountRef(userID string) *db.Ref {
	return s.client.NewRef("accounts/" + userID)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (n *accountNode) toDomain(userID string) domain.Account {
	return domain.Account{
		UserID:       userID,
		Credits:      n.Credits,
		FreeTierUsed: n.FreeTierUsed,
		CreatedAt:    fromMillis(n.CreatedAt),
		UpdatedAt:    fromMillis(n.UpdatedAt),
	}
}

func (s *FirebaseStore) newNode() *accountNode {
	now := millis(s.opts.now())
	return &accountNode{Credits: s.opts.InitialGrant, CreatedAt: now, UpdatedAt: now}
}

func (s *FirebaseStore) Lookup(ctx context.Context, userID string) (domain.Account, error) {
	if err := validKey(userID); err != nil {
		return domain.Account{}, err
	}
	var node *accountNode
	if err := s.accountRef(userID).Get(ctx, &node); err != nil {
		return domain.Account{}, fmt.Errorf("account read failed: %w", err)
	}
	if node == nil {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return node.toDomain(userID), nil
}

func (s *FirebaseStore) Get(ctx context.Context, userID string) (domain.Account, error) {
	acc, err := s.Lookup(ctx, userID)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return acc, err
	}

	var (
		created bool
		result  accountNode
	)
	err = s.accountRef(userID).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var node *accountNode
		if err := tn.Unmarshal(&node); err != nil {
			return nil, err
		}
		created = node == nil
		if created {
			node = s.newNode()
		}
		result = *node
		return node, nil
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("account create failed: %w", err)
	}
	if created && s.opts.InitialGrant > 0 {
		s.pushEntry(ctx, newEntry(userID, s.opts.InitialGrant, result.Credits, domain.EntryGrant, "", fromMillis(result.CreatedAt)))
	}
	return result.toDomain(userID), nil
}

func (s *FirebaseStore) TryDecrement(ctx context.Context, userID string, n int64) (int64, error) {
	if err := validateAmount(n); err != nil {
		return 0, err
	}
	if err := validKey(userID); err != nil {
		return 0, err
	}

	var (
		outcome   error
		remaining int64
		now       time.Time
	)
	err := s.accountRef(userID).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		outcome = nil
		var node *accountNode
		if err := tn.Unmarshal(&node); err != nil {
			return nil, err
		}
		switch {
		case node == nil:
			outcome = domain.ErrAccountNotFound
			return nil, errTxAbort
		case node.Credits < n:
			outcome = domain.ErrInsufficientCredits
			return nil, errTxAbort
		}
		now = s.opts.now()
		node.Credits -= n
		node.FreeTierUsed = true
		node.UpdatedAt = millis(now)
		remaining = node.Credits
		return node, nil
	})
	if outcome != nil {
		return 0, outcome
	}
	if err != nil {
		return 0, fmt.Errorf("decrement failed: %w", err)
	}
	s.pushEntry(ctx, newEntry(userID, -n, remaining, domain.EntrySpend, "", now))
	return remaining, nil
}

func (s *FirebaseStore) Increment(ctx context.Context, userID string, n int64, kind domain.EntryKind, reference string) (int64, error) {
	if err := validateAmount(n); err != nil {
		return 0, err
	}
	if err := validKey(userID); err != nil {
		return 0, err
	}

	var (
		created bool
		balance int64
		now     time.Time
	)
	err := s.accountRef(userID).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var node *accountNode
		if err := tn.Unmarshal(&node); err != nil {
			return nil, err
		}
		created = node == nil
		if created {
			node = s.newNode()
		}
		now = s.opts.now()
		node.Credits += n
		node.UpdatedAt = millis(now)
		balance = node.Credits
		return node, nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment failed: %w", err)
	}
	if created && s.opts.InitialGrant > 0 {
		s.pushEntry(ctx, newEntry(userID, s.opts.InitialGrant, s.opts.InitialGrant, domain.EntryGrant, "", now))
	}
	s.pushEntry(ctx, newEntry(userID, n, balance, kind, reference, now))
	return balance, nil
}

// ApplyPurchase claims purchases/{ref} in its own transaction before touching the user node.
// The claim is what makes a reference global: once it names a user, confirmations for anyone
// else are replays. The in-node guard keeps a retry by the claiming user idempotent when an
// earlier attempt claimed the reference but failed before crediting.
func (s *FirebaseStore) ApplyPurchase(ctx context.Context, rec domain.PurchaseRecord) (bool, int64, error) {
	if err := validatePurchase(rec); err != nil {
		return false, 0, err
	}
	if err := validKey(rec.UserID); err != nil {
		return false, 0, err
	}
	if err := validKey(rec.PaymentReference); err != nil {
		return false, 0, err
	}

	owner, err := s.claimPurchase(ctx, rec)
	if err != nil {
		return false, 0, err
	}
	if owner != rec.UserID {
		log.Printf("purchase %s already applied to %s, ignoring confirmation for %s", rec.PaymentReference, owner, rec.UserID)
		acc, err := s.Lookup(ctx, rec.UserID)
		if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
			return false, 0, err
		}
		return false, acc.Credits, nil
	}

	var (
		created  bool
		replayed bool
		balance  int64
		now      time.Time
	)
	err = s.accountRef(rec.UserID).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		replayed = false
		var node *accountNode
		if err := tn.Unmarshal(&node); err != nil {
			return nil, err
		}
		created = node == nil
		if created {
			node = s.newNode()
		}
		if _, ok := node.Purchases[rec.PaymentReference]; ok {
			replayed = true
			balance = node.Credits
			return nil, errTxAbort
		}
		now = s.opts.now()
		if node.Purchases == nil {
			node.Purchases = make(map[string]purchaseNode)
		}
		node.Purchases[rec.PaymentReference] = purchaseNode{
			UserID:         rec.UserID,
			SKU:            rec.SKU,
			CreditsGranted: rec.CreditsGranted,
			AppliedAt:      millis(now),
		}
		node.Credits += rec.CreditsGranted
		node.UpdatedAt = millis(now)
		balance = node.Credits
		return node, nil
	})
	if replayed {
		return false, balance, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("purchase apply failed: %w", err)
	}

	if created && s.opts.InitialGrant > 0 {
		s.pushEntry(ctx, newEntry(rec.UserID, s.opts.InitialGrant, s.opts.InitialGrant, domain.EntryGrant, "", now))
	}
	s.pushEntry(ctx, newEntry(rec.UserID, rec.CreditsGranted, balance, domain.EntryPurchase, rec.PaymentReference, now))
	return true, balance, nil
}

// claimPurchase writes purchases/{ref} unless it exists and returns the user it names.
func (s *FirebaseStore) claimPurchase(ctx context.Context, rec domain.PurchaseRecord) (string, error) {
	var owner string
	err := s.client.NewRef("purchases/"+rec.PaymentReference).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var node *purchaseNode
		if err := tn.Unmarshal(&node); err != nil {
			return nil, err
		}
		if node != nil {
			owner = node.UserID
			return nil, errTxAbort
		}
		owner = rec.UserID
		return purchaseNode{
			UserID:         rec.UserID,
			SKU:            rec.SKU,
			CreditsGranted: rec.CreditsGranted,
			AppliedAt:      millis(s.opts.now()),
		}, nil
	})
	if err != nil && !errors.Is(err, errTxAbort) {
		return "", fmt.Errorf("purchase claim failed: %w", err)
	}
	return owner, nil
}

func (s *FirebaseStore) GetPurchase(ctx context.Context, paymentReference string) (domain.PurchaseRecord, error) {
	if err := validKey(paymentReference); err != nil {
		return domain.PurchaseRecord{}, err
	}
	var node *purchaseNode
	if err := s.client.NewRef("purchases/"+paymentReference).Get(ctx, &node); err != nil {
		return domain.PurchaseRecord{}, fmt.Errorf("purchase read failed: %w", err)
	}
	if node == nil {
		return domain.PurchaseRecord{}, domain.ErrPurchaseNotFound
	}
	return domain.PurchaseRecord{
		PaymentReference: paymentReference,
		UserID:           node.UserID,
		SKU:              node.SKU,
		CreditsGranted:   node.CreditsGranted,
		AppliedAt:        fromMillis(node.AppliedAt),
	}, nil
}

func (s *FirebaseStore) pushEntry(ctx context.Context, e domain.CreditEntry) {
	node := entryNode{
		ID:           e.ID,
		Delta:        e.Delta,
		BalanceAfter: e.BalanceAfter,
		Kind:         string(e.Kind),
		Reference:    e.Reference,
		CreatedAt:    millis(e.CreatedAt),
	}
	if _, err := s.client.NewRef("entries/"+e.UserID).Push(ctx, node); err != nil {
		log.Printf("journal entry for %s (%s %d) not written: %v", e.UserID, e.Kind, e.Delta, err)
	}
}

// ListEntries relies on push keys sorting chronologically.
func (s *FirebaseStore) ListEntries(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	if err := validKey(userID); err != nil {
		return nil, err
	}
	nodes, err := s.client.NewRef("entries/"+userID).OrderByKey().LimitToLast(entryLimit(limit)).GetOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("entries read failed: %w", err)
	}

	entries := make([]domain.CreditEntry, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		var n entryNode
		if err := nodes[i].Unmarshal(&n); err != nil {
			return nil, fmt.Errorf("entry decode failed: %w", err)
		}
		entries = append(entries, domain.CreditEntry{
			ID:           n.ID,
			UserID:       userID,
			Delta:        n.Delta,
			BalanceAfter: n.BalanceAfter,
			Kind:         domain.EntryKind(n.Kind),
			Reference:    n.Reference,
			CreatedAt:    fromMillis(n.CreatedAt),
		})
	}
	return entries, nil
}
