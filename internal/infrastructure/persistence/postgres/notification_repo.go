package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// NotificationRepository implements notification.NotificationRepository.
// A notification and its receipts are written in one transaction; updates are
// guarded by the version the aggregate was loaded at.
type NotificationRepository struct {
	conn *Connection
}

var _ notification.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(conn *Connection) *NotificationRepository {
	return &NotificationRepository{conn: conn}
}

const notificationColumns = `
	id, account_id, type, title, body, icon_url, image_url, priority, channels,
	scheduled_at, expires_at, status, sent_at, read_at, dismissed_at, metadata,
	version, created_at, updated_at`

const receiptColumns = `
	id, notification_id, channel, status, sent_at, delivered_at, failure_reason,
	retry_count, metadata, created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// Save
// ─────────────────────────────────────────────────────────────────────────────

// Save inserts a new aggregate or updates a loaded one.
func (r *NotificationRepository) Save(ctx context.Context, n *notification.Notification) error {
	s := n.Snapshot()
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal notification metadata: %w", err)
	}

	err = r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if n.IsNew() {
			if err := insertNotification(ctx, tx, s, metadata); err != nil {
				return err
			}
		} else if err := updateNotification(ctx, tx, s, metadata, n.PersistedVersion()); err != nil {
			return err
		}
		return upsertReceipts(ctx, tx, s.Receipts)
	})
	if err != nil {
		return err
	}

	n.MarkPersisted()
	return nil
}

func insertNotification(ctx context.Context, tx pgx.Tx, s notification.Snapshot, metadata []byte) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := tx.Exec(ctx, query,
		string(s.ID),
		string(s.AccountID),
		string(s.Type),
		s.Title,
		s.Body,
		s.IconURL,
		s.ImageURL,
		int16(s.Priority),
		channelStrings(s.Channels),
		s.ScheduledAt,
		s.ExpiresAt,
		string(s.Status),
		s.SentAt,
		s.ReadAt,
		s.DismissedAt,
		metadata,
		s.Version,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("notification", "Save", shared.ErrAlreadyExists, "notification already exists", err)
		}
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func updateNotification(ctx context.Context, tx pgx.Tx, s notification.Snapshot, metadata []byte, loadedVersion int64) error {
	query := `
		UPDATE notifications SET
			status = $1,
			sent_at = $2,
			read_at = $3,
			dismissed_at = $4,
			metadata = $5,
			version = $6,
			updated_at = $7
		WHERE id = $8 AND version = $9
	`
	result, err := tx.Exec(ctx, query,
		string(s.Status),
		s.SentAt,
		s.ReadAt,
		s.DismissedAt,
		metadata,
		s.Version,
		s.UpdatedAt,
		string(s.ID),
		loadedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)`, string(s.ID)).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check notification existence: %w", err)
	}
	if !exists {
		return shared.ErrNotificationNotFound
	}
	return shared.ErrStaleAggregate
}

func upsertReceipts(ctx context.Context, tx pgx.Tx, receipts []notification.ReceiptSnapshot) error {
	if len(receipts) == 0 {
		return nil
	}

	query := `
		INSERT INTO delivery_receipts (` + receiptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (notification_id, channel) DO UPDATE SET
			status = EXCLUDED.status,
			sent_at = EXCLUDED.sent_at,
			delivered_at = EXCLUDED.delivered_at,
			failure_reason = EXCLUDED.failure_reason,
			retry_count = EXCLUDED.retry_count,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, rs := range receipts {
		metadata, err := json.Marshal(rs.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal receipt metadata: %w", err)
		}
		batch.Queue(query,
			string(rs.ID),
			string(rs.NotificationID),
			string(rs.Channel),
			string(rs.Status),
			rs.SentAt,
			rs.DeliveredAt,
			rs.FailureReason,
			rs.RetryCount,
			metadata,
			rs.CreatedAt,
			rs.UpdatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range receipts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert delivery receipt: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

// FindByID returns the notification with its receipts.
func (r *NotificationRepository) FindByID(ctx context.Context, id notification.NotificationID) (*notification.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	items, err := r.query(ctx, query, string(id))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, shared.ErrNotificationNotFound
	}
	return items[0], nil
}

// FindPending returns due pending notifications, oldest first.
func (r *NotificationRepository) FindPending(ctx context.Context, before time.Time, limit int) ([]*notification.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending'
		  AND (scheduled_at IS NULL OR scheduled_at <= $1)
		  AND (expires_at IS NULL OR expires_at > $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	return r.query(ctx, query, before, normalizeLimit(limit))
}

// FindExpired returns pending notifications whose expiry has passed.
func (r *NotificationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*notification.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	return r.query(ctx, query, now, normalizeLimit(limit))
}

// FindByAccount returns a page of the account's notifications, newest first.
func (r *NotificationRepository) FindByAccount(ctx context.Context, accountID shared.AccountID, page shared.Pagination) ([]*notification.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3
	`
	return r.query(ctx, query, string(accountID), page.Limit(), page.Offset())
}

// CountUnread counts sent notifications that were not read.
func (r *NotificationRepository) CountUnread(ctx context.Context, accountID shared.AccountID) (int, error) {
	var count int
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE account_id = $1 AND status = 'sent'`,
		string(accountID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// DeleteFinalizedBefore removes final notifications last updated before cutoff.
// Receipts go with them through the foreign key cascade.
func (r *NotificationRepository) DeleteFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.conn.Exec(ctx,
		`DELETE FROM notifications WHERE status <> 'pending' AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func (r *NotificationRepository) query(ctx context.Context, query string, args ...any) ([]*notification.Notification, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	snapshots, err := pgx.CollectRows(rows, scanNotification)
	if err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	if len(snapshots) == 0 {
		return []*notification.Notification{}, nil
	}

	ids := make([]string, len(snapshots))
	for i, s := range snapshots {
		ids[i] = string(s.ID)
	}
	receipts, err := r.loadReceipts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*notification.Notification, 0, len(snapshots))
	for _, s := range snapshots {
		s.Receipts = receipts[s.ID]
		n, err := notification.Reconstitute(s)
		if err != nil {
			return nil, fmt.Errorf("failed to restore notification %s: %w", s.ID, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *NotificationRepository) loadReceipts(ctx context.Context, ids []string) (map[notification.NotificationID][]notification.ReceiptSnapshot, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+receiptColumns+` FROM delivery_receipts WHERE notification_id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery receipts: %w", err)
	}
	receipts, err := pgx.CollectRows(rows, scanReceipt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan delivery receipts: %w", err)
	}

	byNotification := make(map[notification.NotificationID][]notification.ReceiptSnapshot, len(ids))
	for _, rs := range receipts {
		byNotification[rs.NotificationID] = append(byNotification[rs.NotificationID], rs)
	}
	return byNotification, nil
}

func scanNotification(row pgx.CollectableRow) (notification.Snapshot, error) {
	var (
		s                           notification.Snapshot
		id, accountID, kind, status string
		priority                    int16
		channels                    []string
		metadata                    []byte
	)
	err := row.Scan(
		&id, &accountID, &kind, &s.Title, &s.Body, &s.IconURL, &s.ImageURL, &priority, &channels,
		&s.ScheduledAt, &s.ExpiresAt, &status, &s.SentAt, &s.ReadAt, &s.DismissedAt, &metadata,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return s, err
	}

	s.ID = notification.NotificationID(id)
	s.AccountID = shared.AccountID(accountID)
	s.Type = notification.NotificationType(kind)
	s.Status = notification.Status(status)
	s.Priority = notification.Priority(priority)
	s.Channels = make([]notification.Channel, len(channels))
	for i, ch := range channels {
		s.Channels[i] = notification.Channel(ch)
	}
	if err := unmarshalMetadata(metadata, &s.Metadata); err != nil {
		return s, err
	}
	return s, nil
}

func scanReceipt(row pgx.CollectableRow) (notification.ReceiptSnapshot, error) {
	var (
		rs                                  notification.ReceiptSnapshot
		id, notificationID, channel, status string
		metadata                            []byte
	)
	err := row.Scan(
		&id, &notificationID, &channel, &status, &rs.SentAt, &rs.DeliveredAt, &rs.FailureReason,
		&rs.RetryCount, &metadata, &rs.CreatedAt, &rs.UpdatedAt,
	)
	if err != nil {
		return rs, err
	}

	rs.ID = notification.ReceiptID(id)
	rs.NotificationID = notification.NotificationID(notificationID)
	rs.Channel = notification.Channel(channel)
	rs.Status = notification.ReceiptStatus(status)
	if err := unmarshalMetadata(metadata, &rs.Metadata); err != nil {
		return rs, err
	}
	return rs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helper Functions
// ─────────────────────────────────────────────────────────────────────────────

func unmarshalMetadata(data []byte, out *map[string]string) error {
	*out = make(map[string]string)
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}

func channelStrings(channels []notification.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}
