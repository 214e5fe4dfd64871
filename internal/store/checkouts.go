package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
)

// CreateCheckout records a freshly accepted terminal checkout as PENDING.
// Records are an audit trail and are never deleted.
func CreateCheckout(ctx context.Context, db *sql.DB, checkoutID, userID string, amountCents int64) (*models.Checkout, error) {
	checkout := &models.Checkout{}

	query := `
		INSERT INTO terminal_checkouts (checkout_id, user_id, amount_cents, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, checkout_id, user_id, amount_cents, status, created_at, completed_at, payment_id, error_message`

	err := db.QueryRowContext(ctx, query, checkoutID, userID, amountCents, models.CheckoutPending).Scan(
		&checkout.ID,
		&checkout.CheckoutID,
		&checkout.UserID,
		&checkout.AmountCents,
		&checkout.Status,
		&checkout.CreatedAt,
		&checkout.CompletedAt,
		&checkout.PaymentID,
		&checkout.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}

	return checkout, nil
}

// GetCheckout returns a checkout record scoped to its owner. Lookups for
// another user's record report not-found rather than forbidden so record
// existence is not leaked across users.
func GetCheckout(ctx context.Context, db *sql.DB, userID, checkoutID string) (*models.Checkout, error) {
	checkout := &models.Checkout{}

	query := `
		SELECT id, checkout_id, user_id, amount_cents, status, created_at, completed_at, payment_id, error_message
		FROM terminal_checkouts
		WHERE checkout_id = $1 AND user_id = $2`

	err := db.QueryRowContext(ctx, query, checkoutID, userID).Scan(
		&checkout.ID,
		&checkout.CheckoutID,
		&checkout.UserID,
		&checkout.AmountCents,
		&checkout.Status,
		&checkout.CreatedAt,
		&checkout.CompletedAt,
		&checkout.PaymentID,
		&checkout.ErrorMessage,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCheckoutNotFound
		}
		return nil, fmt.Errorf("get checkout: %w", err)
	}

	return checkout, nil
}

// StatusUpdate is a single observation of vendor-side checkout state, from
// either the webhook or an explicit vendor status fetch.
type StatusUpdate struct {
	CheckoutID   string
	Status       models.CheckoutStatus
	CompletedAt  *time.Time
	PaymentID    string
	ErrorMessage string
}

// ApplyCheckoutStatus is the single mutation path for checkout status. It
// enforces monotonic progression: equal-status replays are no-ops, a write
// that would lower the status rank or move a terminal record anywhere fails
// with ErrStaleCheckoutStatus. The linked order's payment status follows the
// checkout inside the same transaction.
func ApplyCheckoutStatus(ctx context.Context, db *sql.DB, upd StatusUpdate) (*models.Checkout, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("invalid checkout status %q", upd.Status)
	}

	var checkout *models.Checkout

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		current := &models.Checkout{}
		err := tx.QueryRowContext(ctx, `
			SELECT id, checkout_id, user_id, amount_cents, status, created_at, completed_at, payment_id, error_message
			FROM terminal_checkouts
			WHERE checkout_id = $1
			FOR UPDATE`,
			upd.CheckoutID).Scan(
			&current.ID,
			&current.CheckoutID,
			&current.UserID,
			&current.AmountCents,
			&current.Status,
			&current.CreatedAt,
			&current.CompletedAt,
			&current.PaymentID,
			&current.ErrorMessage,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrCheckoutNotFound
			}
			return fmt.Errorf("lock checkout: %w", err)
		}

		if current.Status == upd.Status {
			// Replay of an already-applied status. Keep the stored
			// completed_at so a duplicate delivery cannot move the timestamp.
			checkout = current
			return nil
		}

		if current.Status.Terminal() || upd.Status.Rank() < current.Status.Rank() {
			return database.ErrStaleCheckoutStatus
		}

		updated := &models.Checkout{}
		err = tx.QueryRowContext(ctx, `
			UPDATE terminal_checkouts
			SET status = $2,
			    completed_at = $3,
			    payment_id = CASE WHEN $4 <> '' THEN $4 ELSE payment_id END,
			    error_message = CASE WHEN $5 <> '' THEN $5 ELSE error_message END
			WHERE checkout_id = $1
			RETURNING id, checkout_id, user_id, amount_cents, status, created_at, completed_at, payment_id, error_message`,
			upd.CheckoutID, upd.Status, upd.CompletedAt, upd.PaymentID, upd.ErrorMessage).Scan(
			&updated.ID,
			&updated.CheckoutID,
			&updated.UserID,
			&updated.AmountCents,
			&updated.Status,
			&updated.CreatedAt,
			&updated.CompletedAt,
			&updated.PaymentID,
			&updated.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("update checkout status: %w", err)
		}

		if err := syncOrderPayment(ctx, tx, updated); err != nil {
			return err
		}

		checkout = updated
		return nil
	})

	if err != nil {
		return nil, err
	}

	return checkout, nil
}

// syncOrderPayment mirrors checkout progress onto the order that references
// this checkout, when one exists.
func syncOrderPayment(ctx context.Context, tx *sql.Tx, checkout *models.Checkout) error {
	var paymentStatus models.PaymentStatus
	switch checkout.Status {
	case models.CheckoutCompleted:
		paymentStatus = models.PaymentCompleted
	case models.CheckoutCanceled, models.CheckoutFailed:
		paymentStatus = models.PaymentFailed
	default:
		paymentStatus = models.PaymentPending
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2,
		    payment_id = CASE WHEN $3 <> '' THEN $3 ELSE payment_id END
		WHERE checkout_id = $1 AND user_id = $4`,
		checkout.CheckoutID, paymentStatus, checkout.PaymentID, checkout.UserID)
	if err != nil {
		return fmt.Errorf("sync order payment: %w", err)
	}
	return nil
}

func ListCheckoutsCursor(ctx context.Context, db *sql.DB, userID string, cursor string, limit int) (*CursorPage, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}

	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, checkout_id, user_id, amount_cents, status, created_at, completed_at, payment_id, error_message
		FROM terminal_checkouts
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list checkouts: %w", err)
	}
	defer rows.Close()

	var checkouts []models.Checkout
	for rows.Next() {
		var checkout models.Checkout
		err := rows.Scan(
			&checkout.ID,
			&checkout.CheckoutID,
			&checkout.UserID,
			&checkout.AmountCents,
			&checkout.Status,
			&checkout.CreatedAt,
			&checkout.CompletedAt,
			&checkout.PaymentID,
			&checkout.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan checkout: %w", err)
		}
		checkouts = append(checkouts, checkout)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(checkouts) > limit
	if hasMore {
		checkouts = checkouts[:limit]
	}

	var nextCursor string
	if hasMore && len(checkouts) > 0 {
		last := checkouts[len(checkouts)-1]
		nextCursor = EncodeCursor(Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      checkouts,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
