package main

import (
	"context"
	"errors"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
)

// unconfiguredCheckout stands in for MercadoPago when no access token is set.
type unconfiguredCheckout struct{}

func (unconfiguredCheckout) CreateCheckout(context.Context, string, entitlement.Pack) (string, error) {
	return "", domain.NewProviderError("mercadopago", errors.New("MP_ACCESS_TOKEN not set"))
}
