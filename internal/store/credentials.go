package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shoplight/pos-backend/internal/database"
	"github.com/shoplight/pos-backend/internal/models"
)

// UpsertCredential creates the credential row for a user or overwrites its
// fields if one already exists. At most one credential per user.
func UpsertCredential(ctx context.Context, db *sql.DB, cred *models.Credential) (*models.Credential, error) {
	out := &models.Credential{}

	query := `
		INSERT INTO square_credentials (user_id, access_token, refresh_token, expires_at, merchant_id, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			merchant_id = EXCLUDED.merchant_id,
			connected_at = EXCLUDED.connected_at
		RETURNING id, user_id, access_token, refresh_token, expires_at, merchant_id, connected_at`

	err := db.QueryRowContext(ctx, query,
		cred.UserID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, cred.MerchantID, cred.ConnectedAt,
	).Scan(
		&out.ID,
		&out.UserID,
		&out.AccessToken,
		&out.RefreshToken,
		&out.ExpiresAt,
		&out.MerchantID,
		&out.ConnectedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert credential: %w", err)
	}

	return out, nil
}

func GetCredential(ctx context.Context, db *sql.DB, userID string) (*models.Credential, error) {
	cred := &models.Credential{}

	query := `
		SELECT id, user_id, access_token, refresh_token, expires_at, merchant_id, connected_at
		FROM square_credentials
		WHERE user_id = $1`

	err := db.QueryRowContext(ctx, query, userID).Scan(
		&cred.ID,
		&cred.UserID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.ExpiresAt,
		&cred.MerchantID,
		&cred.ConnectedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrNotConnected
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}

	return cred, nil
}

// UpdateCredentialTokens persists a refreshed access token. The refresh
// token is kept when the vendor response omitted a new one.
func UpdateCredentialTokens(ctx context.Context, db *sql.DB, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE square_credentials
		SET access_token = $2,
		    refresh_token = CASE WHEN $3 <> '' THEN $3 ELSE refresh_token END,
		    expires_at = $4
		WHERE user_id = $1`,
		userID, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update credential tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrNotConnected
	}

	return nil
}

func DeleteCredential(ctx context.Context, db *sql.DB, userID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM square_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
