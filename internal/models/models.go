package models

import (
	"time"
)

type Credential struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"user_id"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MerchantID   string     `json:"merchant_id,omitempty"`
	ConnectedAt  time.Time  `json:"connected_at"`
}

// Expired reports whether the access token is past its expiry. Credentials
// without an expiry never report as expired.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Refreshable requires both an expiry and a refresh token; otherwise the
// stored token is used as-is even when stale.
func (c *Credential) Refreshable(now time.Time) bool {
	return c.Expired(now) && c.RefreshToken != ""
}

type InventoryItem struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	SKU        string    `json:"sku"`
	Title      string    `json:"title"`
	PriceCents int64     `json:"price_cents"`
	Quantity   int       `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CheckoutStatus string

const (
	CheckoutPending    CheckoutStatus = "PENDING"
	CheckoutInProgress CheckoutStatus = "IN_PROGRESS"
	CheckoutCompleted  CheckoutStatus = "COMPLETED"
	CheckoutCanceled   CheckoutStatus = "CANCELED"
	CheckoutFailed     CheckoutStatus = "FAILED"
)

// Rank orders statuses so the status mutation path can reject regressions.
// All terminal statuses share the highest rank.
func (s CheckoutStatus) Rank() int {
	switch s {
	case CheckoutPending:
		return 0
	case CheckoutInProgress:
		return 1
	case CheckoutCompleted, CheckoutCanceled, CheckoutFailed:
		return 2
	}
	return -1
}

func (s CheckoutStatus) Terminal() bool {
	switch s {
	case CheckoutCompleted, CheckoutCanceled, CheckoutFailed:
		return true
	}
	return false
}

func (s CheckoutStatus) Valid() bool {
	return s.Rank() >= 0
}

type Checkout struct {
	ID           int64          `json:"id"`
	CheckoutID   string         `json:"checkout_id"`
	UserID       string         `json:"user_id"`
	AmountCents  int64          `json:"amount_cents"`
	Status       CheckoutStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	PaymentID    string         `json:"payment_id,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Order struct {
	ID            int64         `json:"id"`
	OrderNumber   string        `json:"order_number"`
	UserID        string        `json:"user_id"`
	TotalCents    int64         `json:"total_cents"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	CheckoutID    string        `json:"checkout_id,omitempty"`
	PaymentID     string        `json:"payment_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	Lines         []OrderLine   `json:"lines,omitempty"`
}

type OrderLine struct {
	ID             int64     `json:"id"`
	OrderID        int64     `json:"order_id"`
	ItemID         int64     `json:"item_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	SubtotalCents  int64     `json:"subtotal_cents"`
	CreatedAt      time.Time `json:"created_at"`
}

type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}
