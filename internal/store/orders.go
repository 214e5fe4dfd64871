package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
)

type OrderLineRequest struct {
	ItemID   int64
	Quantity int
}

func generateOrderNumber() string {
	return "ORD-" + uuid.NewString()
}

// ComputeOrderTotal recomputes the authoritative total in integer cents from
// current inventory prices. Client-submitted totals are never trusted for
// money movement. Items must exist and belong to the user.
func ComputeOrderTotal(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, userID string, lines []OrderLineRequest) (int64, map[int64]int64, error) {
	if len(lines) == 0 {
		return 0, nil, database.ErrEmptyOrder
	}

	var total int64
	unitPrices := make(map[int64]int64, len(lines))

	for _, line := range lines {
		var priceCents int64
		err := q.QueryRowContext(ctx, `
			SELECT price_cents
			FROM inventory_items
			WHERE id = $1 AND user_id = $2`,
			line.ItemID, userID).Scan(&priceCents)
		if err != nil {
			if err == sql.ErrNoRows {
				return 0, nil, database.ErrItemNotFound
			}
			return 0, nil, fmt.Errorf("price item %d: %w", line.ItemID, err)
		}

		unitPrices[line.ItemID] = priceCents
		total += priceCents * int64(line.Quantity)
	}

	if total <= 0 {
		return 0, nil, database.ErrInvalidTotal
	}

	return total, unitPrices, nil
}

// CreateOrder persists an order with its lines, recomputing the total from
// current item prices inside the transaction.
func CreateOrder(ctx context.Context, db *sql.DB, userID string, lines []OrderLineRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		total, unitPrices, err := ComputeOrderTotal(ctx, tx, userID, lines)
		if err != nil {
			return err
		}

		orderNumber := generateOrderNumber()
		var orderID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO orders (order_number, user_id, total_cents, payment_status, created_at)
			VALUES ($1, $2, $3, $4, NOW())
			RETURNING id`,
			orderNumber, userID, total, models.PaymentPending).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, line := range lines {
			unitPrice := unitPrices[line.ItemID]
			subtotal := unitPrice * int64(line.Quantity)

			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_lines (order_id, item_id, quantity, unit_price_cents, subtotal_cents, created_at)
				VALUES ($1, $2, $3, $4, $5, NOW())`,
				orderID, line.ItemID, line.Quantity, unitPrice, subtotal)
			if err != nil {
				return fmt.Errorf("create order line: %w", err)
			}
		}

		order = &models.Order{ID: orderID}
		err = tx.QueryRowContext(ctx, `
			SELECT order_number, user_id, total_cents, payment_status, checkout_id, payment_id, created_at
			FROM orders WHERE id = $1`,
			orderID).Scan(
			&order.OrderNumber,
			&order.UserID,
			&order.TotalCents,
			&order.PaymentStatus,
			&order.CheckoutID,
			&order.PaymentID,
			&order.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

// AttachCheckout links an order to the vendor checkout collecting its
// payment.
func AttachCheckout(ctx context.Context, db *sql.DB, userID string, orderID int64, checkoutID string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE orders
		SET checkout_id = $3, payment_status = $4
		WHERE id = $1 AND user_id = $2`,
		orderID, userID, checkoutID, models.PaymentPending)
	if err != nil {
		return fmt.Errorf("attach checkout: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

func GetOrder(ctx context.Context, db *sql.DB, userID string, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, order_number, user_id, total_cents, payment_status, checkout_id, payment_id, created_at
		FROM orders
		WHERE id = $1 AND user_id = $2`

	err := db.QueryRowContext(ctx, query, id, userID).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.TotalCents,
		&order.PaymentStatus,
		&order.CheckoutID,
		&order.PaymentID,
		&order.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, item_id, quantity, unit_price_cents, subtotal_cents, created_at
		FROM order_lines
		WHERE order_id = $1`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	var orderLines []models.OrderLine
	for rows.Next() {
		var line models.OrderLine
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.ItemID,
			&line.Quantity,
			&line.UnitPriceCents,
			&line.SubtotalCents,
			&line.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		orderLines = append(orderLines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	order.Lines = orderLines

	return order, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID string, cursor string, limit int) (*CursorPage, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}

	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, order_number, user_id, total_cents, payment_status, checkout_id, payment_id, created_at
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.UserID,
			&order.TotalCents,
			&order.PaymentStatus,
			&order.CheckoutID,
			&order.PaymentID,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
