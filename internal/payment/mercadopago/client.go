// Package mercadopago talks to the MercadoPago REST API: Checkout Pro preferences for buying
// credit packs and payment lookups for reconciling them.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/creditgate/internal/domain"
)

const (
	defaultBaseURL = "https://api.mercadopago.com"
	maxRetries     = 3
	initialDelay   = 500 * time.Millisecond
	providerName   = "mercadopago"
)

type Options struct {
	AccessToken     string
	NotificationURL string
	// BackURL receives the buyer after checkout. auto_return is only requested when it is set.
	BackURL string
	BaseURL string
}

type Client struct {
	accessToken     string
	notificationURL string
	backURL         string
	baseURL         string
	initialDelay    time.Duration
	client          *http.Client
}

func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		accessToken:     opts.AccessToken,
		notificationURL: opts.NotificationURL,
		backURL:         opts.BackURL,
		baseURL:         base,
		initialDelay:    initialDelay,
		client:          &http.Client{Timeout: 20 * time.Second},
	}
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

// do sends one API call, retrying 429 and 5xx responses. POSTs carry a fixed
// X-Idempotency-Key so retries never create a second resource.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.accessToken == "" {
		return fmt.Errorf("MP_ACCESS_TOKEN not set")
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	idempotencyKey := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.initialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Idempotency-Key", idempotencyKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var apiErr apiError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
				lastErr = fmt.Errorf("MercadoPago API error (%d): %s", resp.StatusCode, apiErr.Message)
			} else {
				lastErr = fmt.Errorf("MercadoPago API error (%d): %s", resp.StatusCode, string(respBody))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return &statusError{code: resp.StatusCode, err: lastErr}
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func escapePath(s string) string { return url.PathEscape(s) }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return domain.NewProviderError(providerName, err)
}
