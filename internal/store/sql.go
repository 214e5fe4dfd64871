package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shopspring/decimal"
)

// SQL bundles the package-level store functions behind a single receiver so
// services can depend on a narrow interface instead of *sql.DB.
type SQL struct {
	DB *sql.DB
}

func NewSQL(db *sql.DB) *SQL {
	return &SQL{DB: db}
}

func (s *SQL) UpsertCredential(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	return UpsertCredential(ctx, s.DB, cred)
}

func (s *SQL) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	return GetCredential(ctx, s.DB, userID)
}

func (s *SQL) UpdateCredentialTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	return UpdateCredentialTokens(ctx, s.DB, userID, accessToken, refreshToken, expiresAt)
}

func (s *SQL) DeleteCredential(ctx context.Context, userID string) error {
	return DeleteCredential(ctx, s.DB, userID)
}

func (s *SQL) CreateItem(ctx context.Context, userID, title string, price decimal.Decimal, quantity int) (*models.InventoryItem, error) {
	return CreateItem(ctx, s.DB, userID, title, price, quantity)
}

func (s *SQL) GetItem(ctx context.Context, userID string, id int64) (*models.InventoryItem, error) {
	return GetItem(ctx, s.DB, userID, id)
}

func (s *SQL) ComputeOrderTotal(ctx context.Context, userID string, lines []OrderLineRequest) (int64, error) {
	total, _, err := ComputeOrderTotal(ctx, s.DB, userID, lines)
	return total, err
}

func (s *SQL) CreateOrder(ctx context.Context, userID string, lines []OrderLineRequest) (*models.Order, error) {
	return CreateOrder(ctx, s.DB, userID, lines)
}

func (s *SQL) AttachCheckout(ctx context.Context, userID string, orderID int64, checkoutID string) error {
	return AttachCheckout(ctx, s.DB, userID, orderID, checkoutID)
}

func (s *SQL) GetOrder(ctx context.Context, userID string, id int64) (*models.Order, error) {
	return GetOrder(ctx, s.DB, userID, id)
}

func (s *SQL) CreateCheckout(ctx context.Context, checkoutID, userID string, amountCents int64) (*models.Checkout, error) {
	return CreateCheckout(ctx, s.DB, checkoutID, userID, amountCents)
}

func (s *SQL) GetCheckout(ctx context.Context, userID, checkoutID string) (*models.Checkout, error) {
	return GetCheckout(ctx, s.DB, userID, checkoutID)
}

func (s *SQL) ApplyCheckoutStatus(ctx context.Context, upd StatusUpdate) (*models.Checkout, error) {
	return ApplyCheckoutStatus(ctx, s.DB, upd)
}
