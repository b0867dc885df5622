package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// PreferenceRepository implements notification.PreferenceRepository.
// The whole preference snapshot is stored as JSONB next to its version.
type PreferenceRepository struct {
	conn  *Connection
	clock timeutil.Clock
}

var _ notification.PreferenceRepository = (*PreferenceRepository)(nil)

// NewPreferenceRepository creates a new PreferenceRepository. A nil clock means the system clock.
func NewPreferenceRepository(conn *Connection, clock timeutil.Clock) *PreferenceRepository {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &PreferenceRepository{conn: conn, clock: clock}
}

// GetOrCreateDefault returns stored preferences, inserting the defaults on first access.
// Concurrent first accesses converge on a single stored row.
func (r *PreferenceRepository) GetOrCreateDefault(ctx context.Context, accountID shared.AccountID) (*notification.Preference, error) {
	if !accountID.IsValid() {
		return nil, notification.ErrInvalidAccountID
	}

	p, err := r.find(ctx, accountID)
	if err == nil {
		return p, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	defaults := notification.DefaultPreference(accountID, r.clock.Now()).Snapshot()
	settings, err := json.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preferences: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO notification_preferences (account_id, settings, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO NOTHING
	`, string(accountID), settings, defaults.Version, defaults.CreatedAt, defaults.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create default preferences: %w", err)
	}

	return r.find(ctx, accountID)
}

// Save writes p if the stored version still equals the version p was loaded at.
func (r *PreferenceRepository) Save(ctx context.Context, p *notification.Preference) error {
	snapshot := p.Snapshot()
	settings, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if p.IsNew() {
		_, err := r.conn.Exec(ctx, `
			INSERT INTO notification_preferences (account_id, settings, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, string(p.AccountID()), settings, snapshot.Version, snapshot.CreatedAt, snapshot.UpdatedAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.ErrStaleAggregate
			}
			return fmt.Errorf("failed to insert preferences: %w", err)
		}
		p.MarkPersisted()
		return nil
	}

	result, err := r.conn.Exec(ctx, `
		UPDATE notification_preferences
		SET settings = $1, version = $2, updated_at = $3
		WHERE account_id = $4 AND version = $5
	`, settings, snapshot.Version, snapshot.UpdatedAt, string(p.AccountID()), p.PersistedVersion())
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, findErr := r.find(ctx, p.AccountID()); shared.IsNotFound(findErr) {
			return shared.ErrPreferenceNotFound
		}
		return shared.ErrStaleAggregate
	}

	p.MarkPersisted()
	return nil
}

func (r *PreferenceRepository) find(ctx context.Context, accountID shared.AccountID) (*notification.Preference, error) {
	var (
		settings []byte
		version  int64
	)
	err := r.conn.QueryRow(ctx,
		`SELECT settings, version FROM notification_preferences WHERE account_id = $1`,
		string(accountID),
	).Scan(&settings, &version)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}

	var snapshot notification.PreferenceSnapshot
	if err := json.Unmarshal(settings, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	snapshot.Version = version
	return notification.ReconstitutePreference(snapshot)
}
