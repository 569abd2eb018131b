package service

import (
	"context"
	"errors"
	"testing"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
	"github.com/punchamoorthee/creditgate/internal/identity"
)

type fakeCheckout struct {
	CreateCheckoutFunc func(ctx context.Context, userID string, pack entitlement.Pack) (string, error)
	calls              int
}

func (f *fakeCheckout) CreateCheckout(ctx context.Context, userID string, pack entitlement.Pack) (string, error) {
	f.calls++
	return f.CreateCheckoutFunc(ctx, userID, pack)
}

func TestCheckout(t *testing.T) {
	var gotUser string
	var gotPack entitlement.Pack
	p := &fakeCheckout{CreateCheckoutFunc: func(_ context.Context, uid string, pack entitlement.Pack) (string, error) {
		gotUser, gotPack = uid, pack
		return "https://mp.example/checkout/1", nil
	}}
	svc := NewCheckoutService(identity.DevVerifier{}, p, entitlement.DefaultPolicy())

	url, err := svc.Checkout(context.Background(), bearer("buyer"), "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if url != "https://mp.example/checkout/1" || gotUser != "buyer" || gotPack.SKU != "pack-10" {
		t.Errorf("url=%q user=%q pack=%+v", url, gotUser, gotPack)
	}
}

func TestCheckoutErrors(t *testing.T) {
	tests := []struct {
		name    string
		auth    string
		sku     string
		provErr error
		want    error
		called  bool
	}{
		{name: "no bearer", auth: "", want: domain.ErrUnauthenticated},
		{name: "bad token", auth: "Bearer nope", want: domain.ErrUnauthenticated},
		{name: "unknown sku", auth: bearer("u"), sku: "pack-1000", want: domain.ErrUnknownSKU},
		{
			name:    "provider down",
			auth:    bearer("u"),
			provErr: domain.NewProviderError("mercadopago", errors.New("503")),
			want:    domain.ErrProvider,
			called:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeCheckout{CreateCheckoutFunc: func(context.Context, string, entitlement.Pack) (string, error) {
				return "", tt.provErr
			}}
			svc := NewCheckoutService(identity.DevVerifier{}, p, entitlement.DefaultPolicy())

			_, err := svc.Checkout(context.Background(), tt.auth, tt.sku)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if (p.calls > 0) != tt.called {
				t.Errorf("provider calls = %d", p.calls)
			}
		})
	}
}
