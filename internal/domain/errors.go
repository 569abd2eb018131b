package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAccountNotFound     = errors.New("account not found")
	ErrDuplicatePurchase   = errors.New("payment reference already applied")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrUnknownSKU          = errors.New("unknown sku")
	ErrProvider            = errors.New("provider failure")
)

// ProviderError wraps a failure of an external provider (diagnosis or payments).
// It matches ErrProvider under errors.Is.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// NewProviderError is shorthand for &ProviderError{...}.
func NewProviderError(provider string, err error) error {
	return &ProviderError{Provider: provider, Err: err}
}

// LedgerCommitWarning reports that content was delivered but the spend did not persist.
// It is never returned to the end user as a failure.
type LedgerCommitWarning struct {
	UserID string
	Cost   int64
	Err    error
}

func (w *LedgerCommitWarning) Error() string {
	return fmt.Sprintf("ledger commit for %s (cost %d) did not persist: %v", w.UserID, w.Cost, w.Err)
}

func (w *LedgerCommitWarning) Unwrap() error { return w.Err }

// InvalidRequest builds an ErrInvalidRequest with a reason.
func InvalidRequest(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}
