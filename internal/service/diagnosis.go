package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
	"github.com/punchamoorthee/creditgate/internal/identity"
	"github.com/punchamoorthee/creditgate/internal/ledger"
	"github.com/punchamoorthee/creditgate/internal/models"
)

const (
	DefaultDiagnosisTimeout = 30 * time.Second
	DefaultMaxProductLength = 2000
)

// Diagnoser generates a raw diagnosis payload for a product at a tier.
type Diagnoser interface {
	Diagnose(ctx context.Context, product string, tier entitlement.Tier) ([]byte, error)
}

type DiagnosisOptions struct {
	Timeout          time.Duration
	MaxProductLength int
}

type DiagnosisService struct {
	ledger   *ledger.Ledger
	verifier identity.Verifier
	provider Diagnoser
	opts     DiagnosisOptions
}

// DiagnosisOutcome is what the caller is given for one request.
type DiagnosisOutcome struct {
	Result           *models.DiagnosisResult
	CreditsRemaining int64
	Tier             entitlement.Tier
	// LedgerWarning is set when full content was delivered but the spend did not persist.
	LedgerWarning bool
}

func NewDiagnosisService(l *ledger.Ledger, v identity.Verifier, p Diagnoser, opts DiagnosisOptions) *DiagnosisService {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDiagnosisTimeout
	}
	if opts.MaxProductLength <= 0 {
		opts.MaxProductLength = DefaultMaxProductLength
	}
	return &DiagnosisService{ledger: l, verifier: v, provider: p, opts: opts}
}

// Diagnose gates, generates and charges one diagnosis. The spend is committed only after the
// provider returned a valid payload; anonymous callers never touch the ledger.
func (s *DiagnosisService) Diagnose(ctx context.Context, authorization, product string) (*DiagnosisOutcome, error) {
	product = strings.TrimSpace(product)
	if product == "" {
		return nil, domain.InvalidRequest("Produto não informado")
	}
	if utf8.RuneCountInString(product) > s.opts.MaxProductLength {
		return nil, domain.InvalidRequest(fmt.Sprintf("Produto excede %d caracteres", s.opts.MaxProductLength))
	}

	// 1. Identity
	id := identity.Resolve(ctx, s.verifier, authorization)
	if id.Reason != nil {
		log.Printf("diagnosis: continuing anonymously: %v", id.Reason)
	}

	// 2. Balance & gate
	var credits int64
	if id.Authenticated() {
		acct, err := s.ledger.Balance(ctx, id.UserID)
		if err != nil {
			return nil, fmt.Errorf("read balance for %s: %w", id.UserID, err)
		}
		credits = acct.Credits
	}
	tier := s.ledger.Policy().Decide(id.Authenticated(), credits)

	// 3. Generate
	result, err := s.generate(ctx, product, tier)
	if err != nil {
		diagnosesTotal.WithLabelValues(string(tier), "provider_error").Inc()
		return nil, err
	}

	out := &DiagnosisOutcome{Result: result, CreditsRemaining: credits, Tier: tier}
	if !tier.Full() {
		diagnosesTotal.WithLabelValues(string(tier), "ok").Inc()
		return out, nil
	}

	// 4. Charge
	remaining, err := s.ledger.CommitSpend(ctx, id.UserID)
	var warn *domain.LedgerCommitWarning
	switch {
	case err == nil:
		out.CreditsRemaining = remaining
		diagnosesTotal.WithLabelValues(string(tier), "ok").Inc()
	case errors.Is(err, domain.ErrInsufficientCredits):
		// Another request spent the last credit between gate and commit.
		out.Result = result.Reduced()
		out.Tier = entitlement.TierNoCredit
		out.CreditsRemaining = s.currentCredits(ctx, id.UserID)
		diagnosesTotal.WithLabelValues(string(out.Tier), "downgraded").Inc()
	case errors.As(err, &warn):
		out.LedgerWarning = true
		ledgerCommitWarnings.Inc()
		diagnosesTotal.WithLabelValues(string(tier), "ledger_warning").Inc()
		log.Printf("ledger_warning: %v", warn)
	default:
		return nil, err
	}
	return out, nil
}

func (s *DiagnosisService) generate(ctx context.Context, product string, tier entitlement.Tier) (*models.DiagnosisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	raw, err := s.provider.Diagnose(ctx, product, tier)
	if err != nil {
		if !errors.Is(err, domain.ErrProvider) {
			err = domain.NewProviderError("diagnosis", err)
		}
		return nil, err
	}
	result, err := models.ParseDiagnosis(raw, tier.Full())
	if err != nil {
		return nil, domain.NewProviderError("diagnosis", fmt.Errorf("rejected payload: %w", err))
	}
	return result, nil
}

func (s *DiagnosisService) currentCredits(ctx context.Context, userID string) int64 {
	acct, err := s.ledger.Peek(context.WithoutCancel(ctx), userID)
	if err != nil {
		return 0
	}
	return acct.Credits
}
