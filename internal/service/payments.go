package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/payment/mercadopago"
)

// PaymentSource reads payments from the payment provider.
type PaymentSource interface {
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
	SearchApproved(ctx context.Context, since time.Time) ([]mercadopago.Payment, error)
}

type PaymentOutcome string

const (
	OutcomeApplied  PaymentOutcome = "applied"
	OutcomeReplayed PaymentOutcome = "replayed"
	// OutcomeIgnored is final: redelivering the same payment will not change it.
	OutcomeIgnored PaymentOutcome = "ignored"
)

// PaymentSync feeds provider payments into the reconciler. Webhooks, the poller and
// ledgerctl all go through it.
type PaymentSync struct {
	source     PaymentSource
	reconciler *PurchaseReconciler
	now        func() time.Time
}

func NewPaymentSync(src PaymentSource, r *PurchaseReconciler) *PaymentSync {
	return &PaymentSync{source: src, reconciler: r, now: time.Now}
}

// ProcessPayment fetches a payment and reconciles it if approved. Permanent problems (unknown
// payment, not approved, no buyer, underpaid, unknown sku) yield OutcomeIgnored together with the reason.
// Any other error is transient and the call may be retried.
func (s *PaymentSync) ProcessPayment(ctx context.Context, paymentID string) (PaymentOutcome, error) {
	p, err := s.source.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, mercadopago.ErrPaymentNotFound) {
			return OutcomeIgnored, err
		}
		return "", err
	}
	return s.apply(ctx, *p)
}

func (s *PaymentSync) apply(ctx context.Context, p mercadopago.Payment) (PaymentOutcome, error) {
	conf, err := p.Confirmation()
	if err != nil {
		return OutcomeIgnored, err
	}
	// Unknown SKUs are left to the reconciler, which rejects them.
	if pack, ok := s.reconciler.ledger.Policy().Pack(conf.SKU); ok {
		if err := p.Covers(pack); err != nil {
			log.Printf("payment %s ignored: %v", conf.PaymentReference, err)
			return OutcomeIgnored, err
		}
	}
	return s.Apply(ctx, conf)
}

// Apply reconciles a confirmation that did not come from a provider lookup (manual replay).
func (s *PaymentSync) Apply(ctx context.Context, conf domain.PaymentConfirmation) (PaymentOutcome, error) {
	res, err := s.reconciler.Reconcile(ctx, conf)
	switch {
	case errors.Is(err, domain.ErrUnknownSKU), errors.Is(err, domain.ErrInvalidRequest):
		return OutcomeIgnored, err
	case err != nil:
		return "", err
	case res.Replayed:
		return OutcomeReplayed, nil
	default:
		return OutcomeApplied, nil
	}
}

// PollStats summarises one polling pass.
type PollStats struct {
	Seen     int
	Applied  int
	Replayed int
	Ignored  int
	Failed   int
}

func (st PollStats) String() string {
	return fmt.Sprintf("seen=%d applied=%d replayed=%d ignored=%d failed=%d",
		st.Seen, st.Applied, st.Replayed, st.Ignored, st.Failed)
}

// Poll reconciles every payment approved within lookback. It catches confirmations whose
// webhook never arrived. Failed payments are retried on the next pass.
func (s *PaymentSync) Poll(ctx context.Context, lookback time.Duration) (PollStats, error) {
	var st PollStats
	payments, err := s.source.SearchApproved(ctx, s.now().Add(-lookback))
	if err != nil {
		return st, fmt.Errorf("search approved payments: %w", err)
	}

	var errs []error
	for _, p := range payments {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		st.Seen++
		outcome, err := s.apply(ctx, p)
		switch outcome {
		case OutcomeApplied:
			st.Applied++
		case OutcomeReplayed:
			st.Replayed++
		case OutcomeIgnored:
			st.Ignored++
			log.Printf("poll: payment %d ignored: %v", p.ID, err)
		default:
			st.Failed++
			errs = append(errs, fmt.Errorf("payment %d: %w", p.ID, err))
		}
	}
	return st, errors.Join(errs...)
}
