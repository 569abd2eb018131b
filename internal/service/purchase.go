package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/ledger"
)

// PurchaseResult describes what a confirmation did to the ledger.
type PurchaseResult struct {
	Record domain.PurchaseRecord
	// Replayed is true when the payment reference had already been applied.
	Replayed bool
	Balance  int64
}

// PurchaseReconciler turns payment confirmations into exactly one credit increment per
// payment reference. It is safe to call concurrently with duplicate confirmations.
type PurchaseReconciler struct {
	ledger *ledger.Ledger
	now    func() time.Time
}

func NewPurchaseReconciler(l *ledger.Ledger) *PurchaseReconciler {
	return &PurchaseReconciler{ledger: l, now: time.Now}
}

func (r *PurchaseReconciler) Reconcile(ctx context.Context, conf domain.PaymentConfirmation) (*PurchaseResult, error) {
	if conf.PaymentReference == "" || conf.UserID == "" {
		purchasesTotal.WithLabelValues("rejected").Inc()
		return nil, domain.InvalidRequest("payment reference and user id are required")
	}

	pack, ok := r.ledger.Policy().Pack(conf.SKU)
	if !ok {
		purchasesTotal.WithLabelValues("rejected").Inc()
		log.Printf("purchase %s for %s rejected: unknown sku %q", conf.PaymentReference, conf.UserID, conf.SKU)
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSKU, conf.SKU)
	}

	rec := domain.PurchaseRecord{
		PaymentReference: conf.PaymentReference,
		UserID:           conf.UserID,
		SKU:              pack.SKU,
		CreditsGranted:   pack.Credits,
		AppliedAt:        r.now().UTC(),
	}
	applied, balance, err := r.ledger.ApplyPurchase(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("apply purchase %s: %w", conf.PaymentReference, err)
	}

	if !applied {
		purchasesTotal.WithLabelValues("replayed").Inc()
		existing, err := r.ledger.Purchase(ctx, conf.PaymentReference)
		if err == nil {
			rec = existing
		} else if !errors.Is(err, domain.ErrPurchaseNotFound) {
			log.Printf("purchase %s replayed, record lookup failed: %v", conf.PaymentReference, err)
		}
		if rec.UserID != conf.UserID {
			log.Printf("purchase %s replayed for %s but was applied to %s", conf.PaymentReference, conf.UserID, rec.UserID)
		}
		return &PurchaseResult{Record: rec, Replayed: true, Balance: balance}, nil
	}

	purchasesTotal.WithLabelValues("applied").Inc()
	log.Printf("purchase %s applied: +%d credits to %s (balance %d)", rec.PaymentReference, rec.CreditsGranted, rec.UserID, balance)
	return &PurchaseResult{Record: rec, Balance: balance}, nil
}
