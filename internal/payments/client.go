// Package payments provides the card-payment gateway client used by the
// settlement bridge. The gateway follows a two-phase authorize/capture model:
// checkout holds funds, and the bridge captures or cancels after delivery.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EventType values delivered by gateway webhooks.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCanceled   = "payment.canceled"
)

// WebhookEvent is the gateway's at-least-once delivery payload.
type WebhookEvent struct {
	EventType        string `json:"event_type"`
	SessionID        string `json:"session_id"`
	AmountCapturable int64  `json:"amount_capturable"`
	WalletAddr       string `json:"wallet_address,omitempty"`
}

// Client is the gateway surface the bridge depends on.
type Client interface {
	// Authorize holds amount against the buyer and returns a session id.
	Authorize(ctx context.Context, buyerAccount string, amount int64, currency string) (string, error)
	// Capture withdraws previously authorized funds.
	Capture(ctx context.Context, sessionID string, amount int64) error
	// CancelAuthorization releases held funds without capturing.
	CancelAuthorization(ctx context.Context, sessionID string) error
}

// HTTPClient talks to the gateway's REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// HTTPConfig configures the gateway client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPClient creates a gateway client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Authorize holds funds and returns the gateway session id.
func (c *HTTPClient) Authorize(ctx context.Context, buyerAccount string, amount int64, currency string) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	err := c.post(ctx, "/v1/authorizations", map[string]interface{}{
		"buyer":    buyerAccount,
		"amount":   amount,
		"currency": currency,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// Capture withdraws authorized funds for a session.
func (c *HTTPClient) Capture(ctx context.Context, sessionID string, amount int64) error {
	return c.post(ctx, fmt.Sprintf("/v1/authorizations/%s/capture", sessionID), map[string]interface{}{
		"amount": amount,
	}, nil)
}

// CancelAuthorization releases held funds for a session.
func (c *HTTPClient) CancelAuthorization(ctx context.Context, sessionID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/authorizations/%s/cancel", sessionID), nil, nil)
}
