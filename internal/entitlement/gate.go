// Package entitlement decides how much of a diagnosis a caller is entitled to.
//
// Every rule that decides tiers, the initial grant and the credit packs is held in a single
// Policy value so deployments cannot drift apart.
package entitlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is the outcome of the gate for one request.
type Tier string

const (
	TierAnonymous Tier = "ANONYMOUS"
	TierNoCredit  Tier = "NO_CREDIT"
	TierFull      Tier = "FULL"
)

// Full reports whether the tier receives the paid fields.
func (t Tier) Full() bool { return t == TierFull }

// Decide maps identity and balance to a tier. FULL requires the balance to cover cost; a
// cost below 1 is treated as 1. It has no side effects.
func Decide(authenticated bool, credits, cost int64) Tier {
	if cost < 1 {
		cost = 1
	}
	switch {
	case !authenticated:
		return TierAnonymous
	case credits < cost:
		return TierNoCredit
	default:
		return TierFull
	}
}

// Pack is a purchasable bundle of credits.
type Pack struct {
	SKU       string          `json:"sku"`
	Title     string          `json:"title"`
	Credits   int64           `json:"credits"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
}

// Policy is the single source of entitlement configuration.
type Policy struct {
	// InitialGrant is credited once, when an account is first seen.
	InitialGrant int64
	// SpendCost is charged for every FULL diagnosis.
	SpendCost  int64
	DefaultSKU string
	Packs      map[string]Pack
}

// DefaultPolicy grants one free credit and sells a ten-credit pack.
func DefaultPolicy() Policy {
	return Policy{
		InitialGrant: 1,
		SpendCost:    1,
		DefaultSKU:   "pack-10",
		Packs: map[string]Pack{
			"pack-10": {
				SKU:       "pack-10",
				Title:     "Pack 10 Créditos Hucks IA",
				Credits:   10,
				UnitPrice: decimal.RequireFromString("7.99"),
				Currency:  "BRL",
			},
		},
	}
}

// Decide applies the package-level gate with this policy's spend cost.
func (p Policy) Decide(authenticated bool, credits int64) Tier {
	return Decide(authenticated, credits, p.SpendCost)
}

// Pack resolves a SKU; an empty SKU resolves to DefaultSKU.
func (p Policy) Pack(sku string) (Pack, bool) {
	if sku == "" {
		sku = p.DefaultSKU
	}
	pack, ok := p.Packs[sku]
	return pack, ok
}

// Validate rejects policies that could let a balance go negative or grant nothing.
func (p Policy) Validate() error {
	if p.InitialGrant < 0 {
		return fmt.Errorf("initial grant must be >= 0, got %d", p.InitialGrant)
	}
	if p.SpendCost <= 0 {
		return fmt.Errorf("spend cost must be > 0, got %d", p.SpendCost)
	}
	if len(p.Packs) == 0 {
		return fmt.Errorf("at least one pack is required")
	}
	for sku, pack := range p.Packs {
		if pack.SKU != sku {
			return fmt.Errorf("pack %q declares sku %q", sku, pack.SKU)
		}
		if pack.Credits <= 0 {
			return fmt.Errorf("pack %q must grant credits", sku)
		}
		if !pack.UnitPrice.IsPositive() {
			return fmt.Errorf("pack %q must have a positive price, got %s", sku, pack.UnitPrice)
		}
	}
	if _, ok := p.Packs[p.DefaultSKU]; !ok {
		return fmt.Errorf("default sku %q is not a known pack", p.DefaultSKU)
	}
	return nil
}
