// Package payments implements the terminal checkout payment lifecycle:
// OAuth credential management, checkout creation, and status reconciliation
// between client polling and vendor webhooks.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/shoplight/pos-backend/internal/config"
	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shoplight/pos-backend/internal/square"
	"github.com/shoplight/pos-backend/internal/store"
)

const oauthScopes = "MERCHANT_PROFILE_READ PAYMENTS_READ PAYMENTS_WRITE DEVICES_READ"

// Store is the persistence surface the payment lifecycle needs.
type Store interface {
	UpsertCredential(ctx context.Context, cred *models.Credential) (*models.Credential, error)
	GetCredential(ctx context.Context, userID string) (*models.Credential, error)
	UpdateCredentialTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error
	DeleteCredential(ctx context.Context, userID string) error

	ComputeOrderTotal(ctx context.Context, userID string, lines []store.OrderLineRequest) (int64, error)
	CreateOrder(ctx context.Context, userID string, lines []store.OrderLineRequest) (*models.Order, error)
	AttachCheckout(ctx context.Context, userID string, orderID int64, checkoutID string) error

	CreateCheckout(ctx context.Context, checkoutID, userID string, amountCents int64) (*models.Checkout, error)
	GetCheckout(ctx context.Context, userID, checkoutID string) (*models.Checkout, error)
	ApplyCheckoutStatus(ctx context.Context, upd store.StatusUpdate) (*models.Checkout, error)
}

// VendorClient is the outbound Square API surface.
type VendorClient interface {
	ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*square.TokenResponse, error)
	RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*square.TokenResponse, error)
	CreateTerminalCheckout(ctx context.Context, accessToken string, req square.CreateCheckoutRequest) (*square.TerminalCheckout, error)
	GetTerminalCheckout(ctx context.Context, accessToken, checkoutID string) (*square.TerminalCheckout, error)
	ListDevices(ctx context.Context, accessToken string) ([]models.Device, error)
}

type Service struct {
	store   Store
	vendor  VendorClient
	devices square.DeviceSource
	cfg     config.SquareConfig
	siteURL string
	baseURL string
	state   *StateSigner
	now     func() time.Time
}

func NewService(st Store, vendor VendorClient, devices square.DeviceSource, cfg config.SquareConfig, siteURL, baseURL string, state *StateSigner) *Service {
	return &Service{
		store:   st,
		vendor:  vendor,
		devices: devices,
		cfg:     cfg,
		siteURL: siteURL,
		baseURL: baseURL,
		state:   state,
		now:     time.Now,
	}
}

func (s *Service) callbackURL() string {
	return s.baseURL + "/api/square/callback"
}

func (s *Service) notificationURL() string {
	return s.baseURL + "/api/square/webhook"
}

// ValidAccessToken returns the user's access token, refreshing it first when
// it is expired and a refresh token is available. Refresh failures degrade
// to the stored token: the downstream vendor call is the source of truth for
// auth validity, and a transient refresh failure must not block the
// user-visible action.
func (s *Service) ValidAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := s.store.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	if cred.Refreshable(s.now()) {
		refreshed, err := s.vendor.RefreshToken(ctx, s.cfg.ApplicationID, s.cfg.ApplicationSecret, cred.RefreshToken)
		if err != nil {
			log.Printf("payments: refresh token for user %s: %v", userID, err)
			return cred.AccessToken, nil
		}
		if err := s.store.UpdateCredentialTokens(ctx, userID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.ExpiresAtTime()); err != nil {
			log.Printf("payments: persist refreshed token for user %s: %v", userID, err)
		}
		return refreshed.AccessToken, nil
	}

	return cred.AccessToken, nil
}

// AuthURL builds the vendor authorize URL with a signed state token.
func (s *Service) AuthURL(userID string) (string, error) {
	if s.cfg.ApplicationID == "" {
		return "", fmt.Errorf("square application id is not configured")
	}

	state, err := s.state.Issue(userID)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}

	authURL, err := url.Parse(s.cfg.BaseURL() + "/oauth2/authorize")
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}

	q := authURL.Query()
	q.Set("client_id", s.cfg.ApplicationID)
	q.Set("scope", oauthScopes)
	if s.cfg.Production() {
		q.Set("session", "false")
	} else {
		q.Set("session", "true")
	}
	q.Set("redirect_uri", s.callbackURL())
	q.Set("state", state)
	authURL.RawQuery = q.Encode()

	return authURL.String(), nil
}

type IntegrationStatus struct {
	Connected   bool       `json:"connected"`
	MerchantID  string     `json:"merchant_id,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	IsExpired   bool       `json:"is_expired"`
}

// Status returns nil when no vendor account is connected.
func (s *Service) Status(ctx context.Context, userID string) (*IntegrationStatus, error) {
	cred, err := s.store.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotConnected) {
			return nil, nil
		}
		return nil, err
	}

	connectedAt := cred.ConnectedAt
	return &IntegrationStatus{
		Connected:   true,
		MerchantID:  cred.MerchantID,
		ConnectedAt: &connectedAt,
		IsExpired:   cred.Expired(s.now()),
	}, nil
}

func (s *Service) Disconnect(ctx context.Context, userID string) error {
	return s.store.DeleteCredential(ctx, userID)
}

func (s *Service) Devices(ctx context.Context, userID string) ([]models.Device, error) {
	accessToken, err := s.ValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.devices.Devices(ctx, accessToken)
}

// ProcessPayment recomputes the order total server-side, creates the vendor
// terminal checkout, and persists a PENDING checkout record. It returns the
// vendor-issued checkout id.
func (s *Service) ProcessPayment(ctx context.Context, userID string, lines []store.OrderLineRequest, deviceID string) (string, error) {
	if len(lines) == 0 {
		return "", database.ErrEmptyOrder
	}

	total, err := s.store.ComputeOrderTotal(ctx, userID, lines)
	if err != nil {
		return "", err
	}

	deviceID, err = s.devices.Resolve(deviceID)
	if err != nil {
		return "", err
	}

	accessToken, err := s.ValidAccessToken(ctx, userID)
	if err != nil {
		return "", err
	}

	checkout, err := s.vendor.CreateTerminalCheckout(ctx, accessToken, square.CreateCheckoutRequest{
		IdempotencyKey: s.idempotencyKey(userID),
		AmountCents:    total,
		DeviceID:       deviceID,
	})
	if err != nil {
		log.Printf("payments: create terminal checkout for user %s: %v", userID, err)
		return "", fmt.Errorf("failed to create terminal checkout: %w", err)
	}

	if _, err := s.store.CreateCheckout(ctx, checkout.ID, userID, total); err != nil {
		return "", err
	}

	return checkout.ID, nil
}

// CreateOrderWithCheckout records an order first, then starts the terminal
// checkout and links the two via the vendor checkout id. The two writes are
// sequential, not atomic: an order can exist without a checkout if the
// vendor call fails.
func (s *Service) CreateOrderWithCheckout(ctx context.Context, userID string, lines []store.OrderLineRequest, deviceID string) (*models.Order, string, error) {
	order, err := s.store.CreateOrder(ctx, userID, lines)
	if err != nil {
		return nil, "", err
	}

	checkoutID, err := s.ProcessPayment(ctx, userID, lines, deviceID)
	if err != nil {
		return order, "", err
	}

	if err := s.store.AttachCheckout(ctx, userID, order.ID, checkoutID); err != nil {
		return order, checkoutID, err
	}
	order.CheckoutID = checkoutID

	return order, checkoutID, nil
}

// CheckoutStatus is the read-only poll path. It reflects whatever the
// webhook or an explicit status fetch last wrote, and returns nil for
// records the user does not own.
func (s *Service) CheckoutStatus(ctx context.Context, userID, checkoutID string) (*models.Checkout, error) {
	checkout, err := s.store.GetCheckout(ctx, userID, checkoutID)
	if err != nil {
		if errors.Is(err, database.ErrCheckoutNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return checkout, nil
}

// RefreshCheckoutStatus asks the vendor for current checkout state and
// applies it through the same mutation path the webhook uses.
func (s *Service) RefreshCheckoutStatus(ctx context.Context, userID, checkoutID string) (*models.Checkout, error) {
	// Ownership check up front so one user cannot refresh another's record.
	if _, err := s.store.GetCheckout(ctx, userID, checkoutID); err != nil {
		return nil, err
	}

	accessToken, err := s.ValidAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	remote, err := s.vendor.GetTerminalCheckout(ctx, accessToken, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout status: %w", err)
	}

	status := models.CheckoutStatus(remote.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("unknown checkout status %q", remote.Status)
	}

	upd := store.StatusUpdate{
		CheckoutID:   checkoutID,
		Status:       status,
		PaymentID:    remote.PaymentID(),
		ErrorMessage: remote.ErrorMessage,
	}
	if status.Terminal() {
		now := s.now()
		upd.CompletedAt = &now
	}

	applied, err := s.store.ApplyCheckoutStatus(ctx, upd)
	if err != nil {
		if errors.Is(err, database.ErrStaleCheckoutStatus) {
			// A terminal status already won; return the stored record.
			return s.store.GetCheckout(ctx, userID, checkoutID)
		}
		return nil, err
	}
	return applied, nil
}

func (s *Service) idempotencyKey(userID string) string {
	return fmt.Sprintf("%d-%s", s.now().UnixMilli(), userID)
}
