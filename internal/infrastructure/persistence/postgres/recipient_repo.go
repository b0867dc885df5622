package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// RecipientRepository resolves account addresses from the recipients table.
// Accounts without a row resolve to a bare context; address-based channels then
// fail permanently while push channels still deliver.
type RecipientRepository struct {
	conn *Connection
}

var _ notification.RecipientResolver = (*RecipientRepository)(nil)

// NewRecipientRepository creates a new RecipientRepository.
func NewRecipientRepository(conn *Connection) *RecipientRepository {
	return &RecipientRepository{conn: conn}
}

// Resolve implements notification.RecipientResolver.
func (r *RecipientRepository) Resolve(ctx context.Context, accountID shared.AccountID) (notification.RecipientContext, error) {
	rc := notification.RecipientContext{AccountID: accountID}
	err := r.conn.QueryRow(ctx,
		`SELECT email, phone, locale, timezone FROM recipients WHERE account_id = $1`,
		string(accountID),
	).Scan(&rc.Email, &rc.Phone, &rc.Locale, &rc.Timezone)
	if err != nil {
		if IsNoRows(err) {
			return rc, nil
		}
		return notification.RecipientContext{}, fmt.Errorf("failed to query recipient: %w", err)
	}
	return rc, nil
}

// Upsert stores the account's addresses.
func (r *RecipientRepository) Upsert(ctx context.Context, rc notification.RecipientContext) error {
	if !rc.AccountID.IsValid() {
		return notification.ErrInvalidAccountID
	}
	locale := rc.Locale
	if locale == "" {
		locale = "en"
	}
	timezone := rc.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO recipients (account_id, email, phone, locale, timezone, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			locale = EXCLUDED.locale,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at
	`, string(rc.AccountID), rc.Email, rc.Phone, locale, timezone, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert recipient: %w", err)
	}
	return nil
}
