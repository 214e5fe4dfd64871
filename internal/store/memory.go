package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shopspring/decimal"
)

// Memory is an in-process store with the same semantics as the SQL store,
// including the monotonic checkout status guard. Used by unit tests that do
// not need a database.
type Memory struct {
	mu          sync.Mutex
	nextID      int64
	credentials map[string]*models.Credential
	items       map[int64]*models.InventoryItem
	orders      map[int64]*models.Order
	checkouts   map[string]*models.Checkout
}

func NewMemory() *Memory {
	return &Memory{
		credentials: make(map[string]*models.Credential),
		items:       make(map[int64]*models.InventoryItem),
		orders:      make(map[int64]*models.Order),
		checkouts:   make(map[string]*models.Checkout),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) UpsertCredential(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.credentials[cred.UserID]
	if !ok {
		stored = &models.Credential{ID: m.id(), UserID: cred.UserID}
		m.credentials[cred.UserID] = stored
	}
	stored.AccessToken = cred.AccessToken
	stored.RefreshToken = cred.RefreshToken
	stored.ExpiresAt = cred.ExpiresAt
	stored.MerchantID = cred.MerchantID
	stored.ConnectedAt = cred.ConnectedAt

	out := *stored
	return &out, nil
}

func (m *Memory) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[userID]
	if !ok {
		return nil, database.ErrNotConnected
	}
	out := *cred
	return &out, nil
}

func (m *Memory) UpdateCredentialTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.credentials[userID]
	if !ok {
		return database.ErrNotConnected
	}
	cred.AccessToken = accessToken
	if refreshToken != "" {
		cred.RefreshToken = refreshToken
	}
	cred.ExpiresAt = expiresAt
	return nil
}

func (m *Memory) DeleteCredential(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.credentials, userID)
	return nil
}

func (m *Memory) CreateItem(ctx context.Context, userID, title string, price decimal.Decimal, quantity int) (*models.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	item := &models.InventoryItem{
		ID:         m.id(),
		UserID:     userID,
		SKU:        GenerateSKU(),
		Title:      title,
		PriceCents: PriceToCents(price),
		Quantity:   quantity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.items[item.ID] = item

	out := *item
	return &out, nil
}

func (m *Memory) GetItem(ctx context.Context, userID string, id int64) (*models.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.UserID != userID {
		return nil, database.ErrItemNotFound
	}
	out := *item
	return &out, nil
}

func (m *Memory) computeTotalLocked(userID string, lines []OrderLineRequest) (int64, map[int64]int64, error) {
	if len(lines) == 0 {
		return 0, nil, database.ErrEmptyOrder
	}

	var total int64
	unitPrices := make(map[int64]int64, len(lines))
	for _, line := range lines {
		item, ok := m.items[line.ItemID]
		if !ok || item.UserID != userID {
			return 0, nil, database.ErrItemNotFound
		}
		unitPrices[line.ItemID] = item.PriceCents
		total += item.PriceCents * int64(line.Quantity)
	}

	if total <= 0 {
		return 0, nil, database.ErrInvalidTotal
	}
	return total, unitPrices, nil
}

func (m *Memory) ComputeOrderTotal(ctx context.Context, userID string, lines []OrderLineRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, _, err := m.computeTotalLocked(userID, lines)
	return total, err
}

func (m *Memory) CreateOrder(ctx context.Context, userID string, lines []OrderLineRequest) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, unitPrices, err := m.computeTotalLocked(userID, lines)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:            m.id(),
		OrderNumber:   "ORD-" + uuid.NewString(),
		UserID:        userID,
		TotalCents:    total,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     now,
	}
	for _, line := range lines {
		unitPrice := unitPrices[line.ItemID]
		order.Lines = append(order.Lines, models.OrderLine{
			ID:             m.id(),
			OrderID:        order.ID,
			ItemID:         line.ItemID,
			Quantity:       line.Quantity,
			UnitPriceCents: unitPrice,
			SubtotalCents:  unitPrice * int64(line.Quantity),
			CreatedAt:      now,
		})
	}
	m.orders[order.ID] = order

	out := *order
	return &out, nil
}

func (m *Memory) AttachCheckout(ctx context.Context, userID string, orderID int64, checkoutID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok || order.UserID != userID {
		return database.ErrOrderNotFound
	}
	order.CheckoutID = checkoutID
	order.PaymentStatus = models.PaymentPending
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, userID string, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok || order.UserID != userID {
		return nil, database.ErrOrderNotFound
	}
	out := *order
	return &out, nil
}

func (m *Memory) CreateCheckout(ctx context.Context, checkoutID, userID string, amountCents int64) (*models.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	checkout := &models.Checkout{
		ID:          m.id(),
		CheckoutID:  checkoutID,
		UserID:      userID,
		AmountCents: amountCents,
		Status:      models.CheckoutPending,
		CreatedAt:   time.Now().UTC(),
	}
	m.checkouts[checkoutID] = checkout

	out := *checkout
	return &out, nil
}

func (m *Memory) GetCheckout(ctx context.Context, userID, checkoutID string) (*models.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	checkout, ok := m.checkouts[checkoutID]
	if !ok || checkout.UserID != userID {
		return nil, database.ErrCheckoutNotFound
	}
	out := *checkout
	return &out, nil
}

func (m *Memory) ApplyCheckoutStatus(ctx context.Context, upd StatusUpdate) (*models.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	checkout, ok := m.checkouts[upd.CheckoutID]
	if !ok {
		return nil, database.ErrCheckoutNotFound
	}

	if checkout.Status == upd.Status {
		out := *checkout
		return &out, nil
	}
	if checkout.Status.Terminal() || upd.Status.Rank() < checkout.Status.Rank() {
		return nil, database.ErrStaleCheckoutStatus
	}

	checkout.Status = upd.Status
	checkout.CompletedAt = upd.CompletedAt
	if upd.PaymentID != "" {
		checkout.PaymentID = upd.PaymentID
	}
	if upd.ErrorMessage != "" {
		checkout.ErrorMessage = upd.ErrorMessage
	}

	for _, order := range m.orders {
		if order.CheckoutID != upd.CheckoutID || order.UserID != checkout.UserID {
			continue
		}
		switch checkout.Status {
		case models.CheckoutCompleted:
			order.PaymentStatus = models.PaymentCompleted
		case models.CheckoutCanceled, models.CheckoutFailed:
			order.PaymentStatus = models.PaymentFailed
		default:
			order.PaymentStatus = models.PaymentPending
		}
		if checkout.PaymentID != "" {
			order.PaymentID = checkout.PaymentID
		}
	}

	out := *checkout
	return &out, nil
}
