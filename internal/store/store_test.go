package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
)

func TestPriceToCents(t *testing.T) {
	tests := []struct {
		name  string
		price string
		cents int64
	}{
		{"whole dollars", "20", 2000},
		{"typical price", "19.99", 1999},
		{"sub-cent rounds", "19.995", 2000},
		{"zero", "0", 0},
		{"single cent", "0.01", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := decimal.NewFromString(tt.price)
			if err != nil {
				t.Fatalf("Parse price: %v", err)
			}
			if got := PriceToCents(price); got != tt.cents {
				t.Errorf("PriceToCents(%s) = %d, want %d", tt.price, got, tt.cents)
			}
		})
	}
}

func TestCentsToPrice(t *testing.T) {
	if got := CentsToPrice(1999); got.String() != "19.99" {
		t.Errorf("CentsToPrice(1999) = %s, want 19.99", got)
	}
}

func TestGenerateSKU(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sku := GenerateSKU()
		if len(sku) != 8 {
			t.Fatalf("Expected 8-char SKU, got %q", sku)
		}
		if seen[sku] {
			t.Fatalf("Duplicate SKU generated: %q", sku)
		}
		seen[sku] = true
	}
}

func TestCursorRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), ID: 42}

	decoded, err := DecodeCursor(EncodeCursor(cursor))
	if err != nil {
		t.Fatalf("DecodeCursor failed: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.ID != cursor.ID {
		t.Errorf("Round trip mismatch: %+v vs %+v", decoded, cursor)
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	cursor, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor failed: %v", err)
	}
	if cursor.ID != int64(1<<63-1) {
		t.Errorf("Expected max id sentinel for empty cursor, got %d", cursor.ID)
	}
}

func TestDecodeCursorGarbage(t *testing.T) {
	if _, err := DecodeCursor("!!not base64!!"); err == nil {
		t.Error("Expected error for malformed cursor")
	}
}

func TestApplyCheckoutStatusMonotonic(t *testing.T) {
	tests := []struct {
		name    string
		current models.CheckoutStatus
		next    models.CheckoutStatus
		wantErr error
	}{
		{"pending to in_progress", models.CheckoutPending, models.CheckoutInProgress, nil},
		{"pending to completed", models.CheckoutPending, models.CheckoutCompleted, nil},
		{"in_progress to canceled", models.CheckoutInProgress, models.CheckoutCanceled, nil},
		{"replay same status", models.CheckoutInProgress, models.CheckoutInProgress, nil},
		{"in_progress back to pending", models.CheckoutInProgress, models.CheckoutPending, database.ErrStaleCheckoutStatus},
		{"completed to canceled", models.CheckoutCompleted, models.CheckoutCanceled, database.ErrStaleCheckoutStatus},
		{"canceled to completed", models.CheckoutCanceled, models.CheckoutCompleted, database.ErrStaleCheckoutStatus},
		{"failed back to in_progress", models.CheckoutFailed, models.CheckoutInProgress, database.ErrStaleCheckoutStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := NewMemory()
			if _, err := mem.CreateCheckout(ctx, "chk_1", "user_1", 1000); err != nil {
				t.Fatalf("CreateCheckout failed: %v", err)
			}

			if tt.current != models.CheckoutPending {
				now := time.Now()
				upd := StatusUpdate{CheckoutID: "chk_1", Status: tt.current}
				if tt.current.Terminal() {
					upd.CompletedAt = &now
				}
				if _, err := mem.ApplyCheckoutStatus(ctx, upd); err != nil {
					t.Fatalf("Seed status %s failed: %v", tt.current, err)
				}
			}

			now := time.Now()
			upd := StatusUpdate{CheckoutID: "chk_1", Status: tt.next}
			if tt.next.Terminal() {
				upd.CompletedAt = &now
			}
			_, err := mem.ApplyCheckoutStatus(ctx, upd)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ApplyCheckoutStatus(%s -> %s) error = %v, want %v", tt.current, tt.next, err, tt.wantErr)
			}

			record, err := mem.GetCheckout(ctx, "user_1", "chk_1")
			if err != nil {
				t.Fatalf("GetCheckout failed: %v", err)
			}
			want := tt.next
			if tt.wantErr != nil {
				want = tt.current
			}
			if record.Status != want {
				t.Errorf("Expected stored status %s, got %s", want, record.Status)
			}
		})
	}
}

func TestApplyCheckoutStatusUnknownCheckout(t *testing.T) {
	mem := NewMemory()
	_, err := mem.ApplyCheckoutStatus(context.Background(), StatusUpdate{CheckoutID: "missing", Status: models.CheckoutCompleted})
	if !errors.Is(err, database.ErrCheckoutNotFound) {
		t.Fatalf("Expected ErrCheckoutNotFound, got %v", err)
	}
}

func TestApplyCheckoutStatusKeepsPaymentFields(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	if _, err := mem.CreateCheckout(ctx, "chk_1", "user_1", 1000); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	now := time.Now()
	if _, err := mem.ApplyCheckoutStatus(ctx, StatusUpdate{
		CheckoutID:  "chk_1",
		Status:      models.CheckoutCompleted,
		CompletedAt: &now,
		PaymentID:   "pay_1",
	}); err != nil {
		t.Fatalf("ApplyCheckoutStatus failed: %v", err)
	}

	record, err := mem.GetCheckout(ctx, "user_1", "chk_1")
	if err != nil {
		t.Fatalf("GetCheckout failed: %v", err)
	}
	if record.PaymentID != "pay_1" {
		t.Errorf("Expected payment id pay_1, got %q", record.PaymentID)
	}
}

func TestComputeOrderTotalMemory(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	itemA, err := mem.CreateItem(ctx, "user_1", "Coffee", decimal.NewFromFloat(4.50), 100)
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	itemB, err := mem.CreateItem(ctx, "user_1", "Bagel", decimal.NewFromFloat(2.25), 50)
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	total, err := mem.ComputeOrderTotal(ctx, "user_1", []OrderLineRequest{
		{ItemID: itemA.ID, Quantity: 2},
		{ItemID: itemB.ID, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("ComputeOrderTotal failed: %v", err)
	}
	if total != 2*450+225 {
		t.Errorf("Expected total %d, got %d", 2*450+225, total)
	}

	if _, err := mem.ComputeOrderTotal(ctx, "user_1", nil); !errors.Is(err, database.ErrEmptyOrder) {
		t.Errorf("Expected ErrEmptyOrder, got %v", err)
	}
	if _, err := mem.ComputeOrderTotal(ctx, "other_user", []OrderLineRequest{{ItemID: itemA.ID, Quantity: 1}}); !errors.Is(err, database.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound for foreign item, got %v", err)
	}
}
