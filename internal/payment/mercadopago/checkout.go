package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/punchamoorthee/creditgate/internal/entitlement"
)

type preferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type backURLs struct {
	Success string `json:"success"`
	Pending string `json:"pending"`
	Failure string `json:"failure"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	Metadata          map[string]string `json:"metadata"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	BackURLs          *backURLs         `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// ExternalReference encodes the buyer and pack as "<sku>:<uid>". Payments created from a
// preference echo it back, so a payment can be attributed even if metadata is lost.
func ExternalReference(userID, sku string) string {
	return sku + ":" + userID
}

// ParseExternalReference reverses ExternalReference.
func ParseExternalReference(ref string) (userID, sku string, ok bool) {
	sku, userID, ok = strings.Cut(ref, ":")
	if !ok || sku == "" || userID == "" {
		return "", "", false
	}
	return userID, sku, true
}

// CreateCheckout creates a Checkout Pro preference for one unit of pack, owned by userID,
// and returns the URL the buyer should be sent to.
func (c *Client) CreateCheckout(ctx context.Context, userID string, pack entitlement.Pack) (string, error) {
	req := preferenceRequest{
		Items: []preferenceItem{{
			ID:         pack.SKU,
			Title:      pack.Title,
			Quantity:   1,
			UnitPrice:  json.Number(pack.UnitPrice.String()),
			CurrencyID: pack.Currency,
		}},
		Metadata:          map[string]string{"uid": userID, "sku": pack.SKU},
		ExternalReference: ExternalReference(userID, pack.SKU),
		NotificationURL:   c.notificationURL,
	}
	if c.backURL != "" {
		req.BackURLs = &backURLs{Success: c.backURL, Pending: c.backURL, Failure: c.backURL}
		req.AutoReturn = "approved"
	}

	var resp preferenceResponse
	if err := c.do(ctx, "POST", "/checkout/preferences", req, &resp); err != nil {
		return "", wrap(err)
	}
	if resp.InitPoint == "" {
		return "", wrap(fmt.Errorf("preference %s has no init_point", resp.ID))
	}
	return resp.InitPoint, nil
}
