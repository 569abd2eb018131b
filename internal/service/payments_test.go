package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/payment/mercadopago"
)

type fakePaymentSource struct {
	payments  map[string]mercadopago.Payment
	GetErr    error
	SearchErr error
	since     time.Time
}

func (f *fakePaymentSource) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mercadopago.ErrPaymentNotFound, id)
	}
	return &p, nil
}

func (f *fakePaymentSource) SearchApproved(_ context.Context, since time.Time) ([]mercadopago.Payment, error) {
	f.since = since
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var out []mercadopago.Payment
	for _, p := range f.payments {
		if p.Status == mercadopago.StatusApproved {
			out = append(out, p)
		}
	}
	return out, nil
}

// approved builds a payment of the default pack's price.
func approved(id int64, uid, sku string) mercadopago.Payment {
	return mercadopago.Payment{
		ID:                id,
		Status:            "approved",
		Metadata:          map[string]any{"uid": uid, "sku": sku},
		TransactionAmount: decimal.RequireFromString("7.99"),
		CurrencyID:        "BRL",
	}
}

func newTestSync(payments ...mercadopago.Payment) (*PaymentSync, *fakePaymentSource) {
	src := &fakePaymentSource{payments: map[string]mercadopago.Payment{}}
	for _, p := range payments {
		src.payments[p.Reference()] = p
	}
	r, _ := newTestReconciler(0)
	return NewPaymentSync(src, r), src
}

func TestProcessPayment(t *testing.T) {
	ps, _ := newTestSync(
		approved(1, "u1", "pack-10"),
		mercadopago.Payment{ID: 2, Status: "pending", Metadata: map[string]any{"uid": "u1"}},
		approved(3, "u1", "pack-unknown"),
	)
	ctx := context.Background()

	steps := []struct {
		id      string
		want    PaymentOutcome
		wantErr error
	}{
		{"1", OutcomeApplied, nil},
		{"1", OutcomeReplayed, nil},
		{"2", OutcomeIgnored, mercadopago.ErrNotApproved},
		{"3", OutcomeIgnored, domain.ErrUnknownSKU},
		{"404", OutcomeIgnored, mercadopago.ErrPaymentNotFound},
	}
	for _, st := range steps {
		got, err := ps.ProcessPayment(ctx, st.id)
		if got != st.want {
			t.Errorf("payment %s: outcome = %q, want %q (err %v)", st.id, got, st.want, err)
		}
		if st.wantErr == nil && err != nil || st.wantErr != nil && !errors.Is(err, st.wantErr) {
			t.Errorf("payment %s: err = %v, want %v", st.id, err, st.wantErr)
		}
	}
}

func TestProcessPaymentUnderpaid(t *testing.T) {
	cheap := approved(20, "u1", "pack-10")
	cheap.TransactionAmount = decimal.RequireFromString("0.99")
	dollars := approved(21, "u1", "pack-10")
	dollars.CurrencyID = "USD"
	ps, _ := newTestSync(cheap, dollars)

	for _, id := range []string{"20", "21"} {
		outcome, err := ps.ProcessPayment(context.Background(), id)
		if outcome != OutcomeIgnored || !errors.Is(err, mercadopago.ErrAmountMismatch) {
			t.Errorf("payment %s: outcome=%q err=%v, want ignored amount mismatch", id, outcome, err)
		}
	}
	if acct, err := ps.reconciler.ledger.Peek(context.Background(), "u1"); err == nil && acct.Credits != 0 {
		t.Errorf("credits = %d, want 0", acct.Credits)
	}
}

func TestProcessPaymentTransientFailure(t *testing.T) {
	ps, src := newTestSync(approved(1, "u1", "pack-10"))
	src.GetErr = domain.NewProviderError("mercadopago", errors.New("502"))

	outcome, err := ps.ProcessPayment(context.Background(), "1")
	if outcome != "" || !errors.Is(err, domain.ErrProvider) {
		t.Errorf("outcome=%q err=%v, want transient provider error", outcome, err)
	}
}

func TestPoll(t *testing.T) {
	ps, src := newTestSync(
		approved(10, "a", "pack-10"),
		approved(11, "b", ""),
		approved(12, "c", "pack-unknown"),
		mercadopago.Payment{ID: 13, Status: "approved"},
	)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ps.now = func() time.Time { return now }

	st, err := ps.Poll(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.Seen != 4 || st.Applied != 2 || st.Ignored != 2 || st.Failed != 0 {
		t.Errorf("stats = %s", st)
	}
	if !src.since.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("since = %v", src.since)
	}

	st, err = ps.Poll(context.Background(), 24*time.Hour)
	if err != nil || st.Replayed != 2 || st.Applied != 0 {
		t.Errorf("second pass: stats = %s, err = %v", st, err)
	}
}

func TestPollSearchFailure(t *testing.T) {
	ps, src := newTestSync()
	src.SearchErr = errors.New("timeout")
	if _, err := ps.Poll(context.Background(), time.Hour); err == nil {
		t.Error("expected search failure")
	}
}
