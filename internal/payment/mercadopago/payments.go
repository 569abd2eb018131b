package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
)

var (
	ErrPaymentNotFound = errors.New("mercadopago: payment not found")
	ErrNotApproved     = errors.New("mercadopago: payment not approved")
	ErrUnattributed    = errors.New("mercadopago: payment has no buyer uid")
	ErrAmountMismatch  = errors.New("mercadopago: payment does not cover the pack")
)

const StatusApproved = "approved"

const searchPageSize = 50

type Payment struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	Metadata          map[string]any  `json:"metadata"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
}

// Reference is the idempotency key under which the payment is applied.
func (p Payment) Reference() string {
	return strconv.FormatInt(p.ID, 10)
}

// Confirmation turns an approved payment into a ledger confirmation. The buyer comes from
// metadata, falling back to the external reference. An empty SKU means the default pack.
func (p Payment) Confirmation() (domain.PaymentConfirmation, error) {
	if p.Status != StatusApproved {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: payment %d is %q", ErrNotApproved, p.ID, p.Status)
	}

	uid := metadataString(p.Metadata, "uid")
	sku := metadataString(p.Metadata, "sku")
	if refUID, refSKU, ok := ParseExternalReference(p.ExternalReference); ok {
		if uid == "" {
			uid = refUID
		}
		if sku == "" {
			sku = refSKU
		}
	}
	if uid == "" {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: payment %d", ErrUnattributed, p.ID)
	}
	return domain.PaymentConfirmation{PaymentReference: p.Reference(), UserID: uid, SKU: sku}, nil
}

// Covers checks the payment paid at least the pack's price in the pack's currency.
func (p Payment) Covers(pack entitlement.Pack) error {
	if !strings.EqualFold(p.CurrencyID, pack.Currency) || p.TransactionAmount.LessThan(pack.UnitPrice) {
		return fmt.Errorf("%w: payment %d paid %s %s for %s (%s %s)", ErrAmountMismatch,
			p.ID, p.TransactionAmount, p.CurrencyID, pack.SKU, pack.UnitPrice, pack.Currency)
	}
	return nil
}

func metadataString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// GetPayment fetches one payment. A missing payment is ErrPaymentNotFound rather than a
// provider failure, so test notifications with fake ids can be acknowledged.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if id == "" {
		return nil, ErrPaymentNotFound
	}
	var p Payment
	err := c.do(ctx, http.MethodGet, "/v1/payments/"+escapePath(id), nil, &p)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	if err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

type searchResponse struct {
	Results []Payment `json:"results"`
	Paging  struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"paging"`
}

// SearchApproved lists payments approved since the given time, following pagination.
func (c *Client) SearchApproved(ctx context.Context, since time.Time) ([]Payment, error) {
	var out []Payment
	for offset := 0; ; {
		q := url.Values{}
		q.Set("status", StatusApproved)
		q.Set("sort", "date_created")
		q.Set("criteria", "desc")
		q.Set("range", "date_created")
		q.Set("begin_date", since.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
		q.Set("end_date", "NOW")
		q.Set("limit", strconv.Itoa(searchPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page searchResponse
		if err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, &page); err != nil {
			return nil, wrap(err)
		}
		out = append(out, page.Results...)

		offset += len(page.Results)
		if len(page.Results) == 0 || offset >= page.Paging.Total {
			return out, nil
		}
	}
}
