package domain

import (
	"time"
)

// Account is a user's spendable credit balance.
// Credits must never be observed below zero.
type Account struct {
	UserID       string    `json:"user_id"`
	Credits      int64     `json:"credits"`
	FreeTierUsed bool      `json:"free_tier_used"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PurchaseRecord guards a payment reference against being applied twice.
type PurchaseRecord struct {
	PaymentReference string    `json:"payment_reference"`
	UserID           string    `json:"user_id"`
	SKU              string    `json:"sku"`
	CreditsGranted   int64     `json:"credits_granted"`
	AppliedAt        time.Time `json:"applied_at"`
}

// EntryKind labels why a balance moved.
type EntryKind string

const (
	EntryGrant      EntryKind = "grant"
	EntrySpend      EntryKind = "spend"
	EntryPurchase   EntryKind = "purchase"
	EntryAdjustment EntryKind = "adjustment"
)

// CreditEntry is one balance movement. BalanceAfter is the balance once Delta was applied.
type CreditEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Delta        int64     `json:"delta"`
	BalanceAfter int64     `json:"balance_after"`
	Kind         EntryKind `json:"kind"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PaymentConfirmation is what a payment provider tells us about one completed payment.
type PaymentConfirmation struct {
	PaymentReference string `json:"payment_reference"`
	UserID           string `json:"user_id"`
	SKU              string `json:"sku"`
}
