package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shoplight/pos-backend/internal/store"
)

func TestCheckoutLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := "user_1"

	item, err := store.CreateItem(ctx, db, userID, "Latte", decimal.NewFromFloat(19.99), 10)
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}

	order, err := store.CreateOrder(ctx, db, userID, []store.OrderLineRequest{
		{ItemID: item.ID, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.TotalCents != 3998 {
		t.Fatalf("Expected order total 3998, got %d", order.TotalCents)
	}

	checkout, err := store.CreateCheckout(ctx, db, "chk_1", userID, order.TotalCents)
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}
	if checkout.Status != models.CheckoutPending {
		t.Fatalf("Expected PENDING, got %s", checkout.Status)
	}

	if err := store.AttachCheckout(ctx, db, userID, order.ID, "chk_1"); err != nil {
		t.Fatalf("AttachCheckout failed: %v", err)
	}

	if _, err := store.ApplyCheckoutStatus(ctx, db, store.StatusUpdate{
		CheckoutID: "chk_1",
		Status:     models.CheckoutInProgress,
	}); err != nil {
		t.Fatalf("Apply IN_PROGRESS failed: %v", err)
	}

	now := time.Now()
	updated, err := store.ApplyCheckoutStatus(ctx, db, store.StatusUpdate{
		CheckoutID:  "chk_1",
		Status:      models.CheckoutCompleted,
		CompletedAt: &now,
		PaymentID:   "pay_1",
	})
	if err != nil {
		t.Fatalf("Apply COMPLETED failed: %v", err)
	}
	if updated.Status != models.CheckoutCompleted || updated.CompletedAt == nil {
		t.Fatalf("Expected completed record with timestamp, got %+v", updated)
	}

	// The linked order follows the checkout in the same transaction.
	stored, err := store.GetOrder(ctx, db, userID, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if stored.PaymentStatus != models.PaymentCompleted {
		t.Errorf("Expected order payment completed, got %s", stored.PaymentStatus)
	}
	if stored.PaymentID != "pay_1" {
		t.Errorf("Expected order payment id pay_1, got %q", stored.PaymentID)
	}
}

func TestCheckoutStatusMonotonicInDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.CreateCheckout(ctx, db, "chk_1", "user_1", 1000); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	now := time.Now()
	if _, err := store.ApplyCheckoutStatus(ctx, db, store.StatusUpdate{
		CheckoutID:  "chk_1",
		Status:      models.CheckoutCanceled,
		CompletedAt: &now,
	}); err != nil {
		t.Fatalf("Apply CANCELED failed: %v", err)
	}

	// A late COMPLETED delivery is rejected.
	_, err := store.ApplyCheckoutStatus(ctx, db, store.StatusUpdate{
		CheckoutID:  "chk_1",
		Status:      models.CheckoutCompleted,
		CompletedAt: &now,
		PaymentID:   "pay_late",
	})
	if !errors.Is(err, database.ErrStaleCheckoutStatus) {
		t.Fatalf("Expected ErrStaleCheckoutStatus, got %v", err)
	}

	record, err := store.GetCheckout(ctx, db, "user_1", "chk_1")
	if err != nil {
		t.Fatalf("GetCheckout failed: %v", err)
	}
	if record.Status != models.CheckoutCanceled {
		t.Errorf("Expected CANCELED to stick, got %s", record.Status)
	}
	if record.PaymentID != "" {
		t.Errorf("Expected no payment id after rejected write, got %q", record.PaymentID)
	}
}

func TestCheckoutReplayKeepsCompletedAt(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.CreateCheckout(ctx, db, "chk_1", "user_1", 1000); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	first := time.Now()
	applied, err := store.ApplyCheckoutStatus(ctx, db, store.StatusUpdate{
		CheckoutID:  "chk_1",
		Status:      models.CheckoutCompleted,
		CompletedAt: &first,
		PaymentID:   "pay_1",
	})
	if err != nil {
		t.Fatalf("Apply COMPLETED failed: %v", err)
	}

	later := first.Add(time.Minute)
	replayed, err := store.ApplyCheckoutStatus(ctx, db, store.StatusUpdate{
		CheckoutID:  "chk_1",
		Status:      models.CheckoutCompleted,
		CompletedAt: &later,
		PaymentID:   "pay_1",
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if !replayed.CompletedAt.Equal(*applied.CompletedAt) {
		t.Errorf("Expected completed_at unchanged on replay: %v vs %v", applied.CompletedAt, replayed.CompletedAt)
	}
}

func TestGetCheckoutScopedToOwner(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.CreateCheckout(ctx, db, "chk_1", "user_1", 1000); err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}

	if _, err := store.GetCheckout(ctx, db, "user_2", "chk_1"); !errors.Is(err, database.ErrCheckoutNotFound) {
		t.Fatalf("Expected not-found for another user, got %v", err)
	}
}

func TestListCheckoutsCursor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		checkoutID := "chk_" + string(rune('a'+i))
		if _, err := store.CreateCheckout(ctx, db, checkoutID, "user_1", int64(100*(i+1))); err != nil {
			t.Fatalf("CreateCheckout failed: %v", err)
		}
	}

	page, err := store.ListCheckoutsCursor(ctx, db, "user_1", "", 2)
	if err != nil {
		t.Fatalf("ListCheckoutsCursor failed: %v", err)
	}
	if !page.HasMore || page.NextCursor == "" {
		t.Fatalf("Expected more pages, got %+v", page)
	}

	items := page.Items.([]models.Checkout)
	if len(items) != 2 {
		t.Fatalf("Expected 2 checkouts, got %d", len(items))
	}

	var total int
	cursor := ""
	for {
		page, err := store.ListCheckoutsCursor(ctx, db, "user_1", cursor, 2)
		if err != nil {
			t.Fatalf("ListCheckoutsCursor failed: %v", err)
		}
		total += len(page.Items.([]models.Checkout))
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	if total != 5 {
		t.Errorf("Expected 5 checkouts across pages, got %d", total)
	}
}
