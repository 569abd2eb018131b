package service

import (
	"context"
	"fmt"
	"log"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
	"github.com/punchamoorthee/creditgate/internal/identity"
)

// CheckoutProvider creates a hosted checkout for a pack and returns its URL.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, userID string, pack entitlement.Pack) (string, error)
}

type CheckoutService struct {
	verifier identity.Verifier
	provider CheckoutProvider
	policy   entitlement.Policy
}

func NewCheckoutService(v identity.Verifier, p CheckoutProvider, policy entitlement.Policy) *CheckoutService {
	return &CheckoutService{verifier: v, provider: p, policy: policy}
}

// Checkout requires an authenticated caller. An empty sku selects the default pack.
func (s *CheckoutService) Checkout(ctx context.Context, authorization, sku string) (string, error) {
	id, err := identity.Require(ctx, s.verifier, authorization)
	if err != nil {
		return "", err
	}

	pack, ok := s.policy.Pack(sku)
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownSKU, sku)
	}

	url, err := s.provider.CreateCheckout(ctx, id.UserID, pack)
	if err != nil {
		log.Printf("checkout for %s (%s) failed: %v", id.UserID, pack.SKU, err)
		return "", err
	}
	return url, nil
}
