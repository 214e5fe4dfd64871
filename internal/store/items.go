package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
	"github.com/shopspring/decimal"
)

const skuLength = 8

// GenerateSKU returns a short random stock keeping unit.
func GenerateSKU() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:skuLength])
}

// PriceToCents converts a dollar amount from the API boundary into integer
// minor units. Persisted amounts are always cents; decimals never reach the
// database.
func PriceToCents(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CentsToPrice converts integer minor units back into a dollar amount for
// display.
func CentsToPrice(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

func CreateItem(ctx context.Context, db *sql.DB, userID, title string, price decimal.Decimal, quantity int) (*models.InventoryItem, error) {
	item := &models.InventoryItem{}

	query := `
		INSERT INTO inventory_items (user_id, sku, title, price_cents, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, user_id, sku, title, price_cents, quantity, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, userID, GenerateSKU(), title, PriceToCents(price), quantity).Scan(
		&item.ID,
		&item.UserID,
		&item.SKU,
		&item.Title,
		&item.PriceCents,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	return item, nil
}

func GetItem(ctx context.Context, db *sql.DB, userID string, id int64) (*models.InventoryItem, error) {
	item := &models.InventoryItem{}

	query := `
		SELECT id, user_id, sku, title, price_cents, quantity, created_at, updated_at
		FROM inventory_items
		WHERE id = $1 AND user_id = $2`

	err := db.QueryRowContext(ctx, query, id, userID).Scan(
		&item.ID,
		&item.UserID,
		&item.SKU,
		&item.Title,
		&item.PriceCents,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}

	return item, nil
}

func GetItemBySKU(ctx context.Context, db *sql.DB, userID, sku string) (*models.InventoryItem, error) {
	item := &models.InventoryItem{}

	query := `
		SELECT id, user_id, sku, title, price_cents, quantity, created_at, updated_at
		FROM inventory_items
		WHERE user_id = $1 AND sku = $2`

	err := db.QueryRowContext(ctx, query, userID, sku).Scan(
		&item.ID,
		&item.UserID,
		&item.SKU,
		&item.Title,
		&item.PriceCents,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrItemNotFound
		}
		return nil, fmt.Errorf("get item by sku: %w", err)
	}

	return item, nil
}

func ListItems(ctx context.Context, db *sql.DB, userID string, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_items WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, user_id, sku, title, price_cents, quantity, created_at, updated_at
		FROM inventory_items
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []models.InventoryItem
	for rows.Next() {
		var item models.InventoryItem
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.SKU,
			&item.Title,
			&item.PriceCents,
			&item.Quantity,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}
