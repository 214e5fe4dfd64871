// Package square is a minimal client for the subset of the Square Connect
// API this application uses: OAuth token exchange, Terminal checkouts, and
// device listing.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shoplight/pos-backend/internal/models"
)

type Client struct {
	BaseURL string
	Version string
	HTTP    *http.Client
}

func NewClient(baseURL, version string) *Client {
	return &Client{
		BaseURL: baseURL,
		Version: version,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ErrorDetail is one entry of the errors list Square includes in failed
// responses.
type ErrorDetail struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

type APIError struct {
	StatusCode int
	Errors     []ErrorDetail
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("square api error: status %d", e.StatusCode)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, detail := range e.Errors {
		switch {
		case detail.Detail != "":
			parts = append(parts, detail.Detail)
		case detail.Code != "":
			parts = append(parts, detail.Code)
		default:
			parts = append(parts, "unknown error")
		}
	}
	return "square api error: " + strings.Join(parts, ", ")
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	MerchantID   string `json:"merchant_id"`
}

// ExpiresAtTime parses the RFC 3339 expiry, returning nil when absent or
// malformed.
func (t *TokenResponse) ExpiresAtTime() *time.Time {
	if t.ExpiresAt == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil {
		return nil
	}
	return &parsed
}

func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*TokenResponse, error) {
	body := map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
		"redirect_uri":  redirectURI,
	}
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth2/token", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	body := map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth2/token", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TerminalCheckout is the vendor-side view of one terminal payment attempt.
type TerminalCheckout struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	PaymentIDs   []string `json:"payment_ids"`
	DeviceID     string   `json:"device_id"`
	ErrorMessage string   `json:"error_message"`
}

// PaymentID returns the first payment recorded on the checkout.
func (t *TerminalCheckout) PaymentID() string {
	if len(t.PaymentIDs) == 0 {
		return ""
	}
	return t.PaymentIDs[0]
}

type CreateCheckoutRequest struct {
	IdempotencyKey string
	AmountCents    int64
	Currency       string
	DeviceID       string
}

type createCheckoutBody struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Checkout       checkoutPayload `json:"checkout"`
}

type checkoutPayload struct {
	AmountMoney   amountMoney   `json:"amount_money"`
	DeviceOptions deviceOptions `json:"device_options"`
}

type amountMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type deviceOptions struct {
	DeviceID          string `json:"device_id"`
	SkipReceiptScreen bool   `json:"skip_receipt_screen"`
}

type checkoutResponse struct {
	Checkout *terminalCheckoutPayload `json:"checkout"`
}

type terminalCheckoutPayload struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PaymentIDs    []string       `json:"payment_ids"`
	DeviceOptions *deviceOptions `json:"device_options"`
	ErrorMessage  string         `json:"error_message"`
}

func (p *terminalCheckoutPayload) toCheckout() *TerminalCheckout {
	out := &TerminalCheckout{
		ID:           p.ID,
		Status:       p.Status,
		PaymentIDs:   p.PaymentIDs,
		ErrorMessage: p.ErrorMessage,
	}
	if p.DeviceOptions != nil {
		out.DeviceID = p.DeviceOptions.DeviceID
	}
	return out
}

func (c *Client) CreateTerminalCheckout(ctx context.Context, accessToken string, req CreateCheckoutRequest) (*TerminalCheckout, error) {
	currency := req.Currency
	if currency == "" {
		currency = "CAD"
	}
	body := createCheckoutBody{
		IdempotencyKey: req.IdempotencyKey,
		Checkout: checkoutPayload{
			AmountMoney: amountMoney{Amount: req.AmountCents, Currency: currency},
			DeviceOptions: deviceOptions{
				DeviceID:          req.DeviceID,
				SkipReceiptScreen: true,
			},
		},
	}

	var out checkoutResponse
	if err := c.do(ctx, http.MethodPost, "/v2/terminals/checkouts", accessToken, body, &out); err != nil {
		return nil, err
	}
	if out.Checkout == nil || out.Checkout.ID == "" {
		return nil, fmt.Errorf("no checkout returned from square api")
	}
	return out.Checkout.toCheckout(), nil
}

func (c *Client) GetTerminalCheckout(ctx context.Context, accessToken, checkoutID string) (*TerminalCheckout, error) {
	var out checkoutResponse
	if err := c.do(ctx, http.MethodGet, "/v2/terminals/checkouts/"+checkoutID, accessToken, nil, &out); err != nil {
		return nil, err
	}
	if out.Checkout == nil || out.Checkout.ID == "" {
		return nil, fmt.Errorf("no checkout returned from square api")
	}
	return out.Checkout.toCheckout(), nil
}

type devicesResponse struct {
	Devices []struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		Attributes struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"attributes"`
	} `json:"devices"`
}

// ListDevices returns the merchant's terminal devices. Non-terminal device
// types are filtered out.
func (c *Client) ListDevices(ctx context.Context, accessToken string) ([]models.Device, error) {
	var out devicesResponse
	if err := c.do(ctx, http.MethodGet, "/v2/devices", accessToken, nil, &out); err != nil {
		return nil, err
	}

	devices := make([]models.Device, 0, len(out.Devices))
	for _, d := range out.Devices {
		if d.Attributes.Type != "TERMINAL" || d.ID == "" {
			continue
		}
		name := d.Attributes.Name
		if name == "" {
			name = "Unknown"
		}
		status := d.Status
		if status == "" {
			status = "UNKNOWN"
		}
		devices = append(devices, models.Device{ID: d.ID, Name: name, Status: status})
	}
	return devices, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Square-Version", c.Version)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Square reports failures both via status codes and an errors list in
	// otherwise-successful responses.
	var errBody struct {
		Errors []ErrorDetail `json:"errors"`
	}
	if err := json.Unmarshal(raw, &errBody); err == nil && len(errBody.Errors) > 0 {
		return &APIError{StatusCode: resp.StatusCode, Errors: errBody.Errors}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
