package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: NOTIFICATIONS AND RECEIPTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS notifications (
    id VARCHAR(64) PRIMARY KEY,
    account_id VARCHAR(64) NOT NULL,
    type VARCHAR(40) NOT NULL,
    title VARCHAR(200) NOT NULL,
    body TEXT NOT NULL,
    icon_url TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    priority SMALLINT NOT NULL,
    channels TEXT[] NOT NULL,
    scheduled_at TIMESTAMP WITH TIME ZONE,
    expires_at TIMESTAMP WITH TIME ZONE,
    status VARCHAR(20) NOT NULL,
    sent_at TIMESTAMP WITH TIME ZONE,
    read_at TIMESTAMP WITH TIME ZONE,
    dismissed_at TIMESTAMP WITH TIME ZONE,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    version BIGINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_status CHECK (status IN ('pending', 'sent', 'read', 'dismissed', 'expired', 'failed')),
    CONSTRAINT valid_priority CHECK (priority BETWEEN 1 AND 4),
    CONSTRAINT sent_at_required CHECK (status IN ('pending', 'expired', 'failed') OR sent_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_notifications_account_created ON notifications(account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(scheduled_at, created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_notifications_expiry ON notifications(expires_at) WHERE status = 'pending' AND expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(account_id) WHERE status = 'sent';
CREATE INDEX IF NOT EXISTS idx_notifications_final_updated ON notifications(updated_at) WHERE status <> 'pending';

CREATE TABLE IF NOT EXISTS delivery_receipts (
    id VARCHAR(64) PRIMARY KEY,
    notification_id VARCHAR(64) NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
    channel VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL,
    sent_at TIMESTAMP WITH TIME ZONE,
    delivered_at TIMESTAMP WITH TIME ZONE,
    failure_reason TEXT NOT NULL DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    UNIQUE(notification_id, channel),
    CONSTRAINT valid_receipt_status CHECK (status IN ('pending', 'sent', 'delivered', 'failed', 'retrying')),
    CONSTRAINT valid_retry_count CHECK (retry_count >= 0),
    CONSTRAINT delivered_after_sent CHECK (delivered_at IS NULL OR (sent_at IS NOT NULL AND delivered_at >= sent_at))
);

CREATE INDEX IF NOT EXISTS idx_delivery_receipts_notification ON delivery_receipts(notification_id);
CREATE INDEX IF NOT EXISTS idx_delivery_receipts_channel_delivered ON delivery_receipts(channel, delivered_at DESC) WHERE status = 'delivered';
`

const migration001Down = `
DROP TABLE IF EXISTS delivery_receipts;
DROP TABLE IF EXISTS notifications;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS notification_preferences (
    account_id VARCHAR(64) PRIMARY KEY,
    settings JSONB NOT NULL,
    version BIGINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

const migration002Down = `
DROP TABLE IF EXISTS notification_preferences;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: RECIPIENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS recipients (
    account_id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(320) NOT NULL DEFAULT '',
    phone VARCHAR(32) NOT NULL DEFAULT '',
    locale VARCHAR(16) NOT NULL DEFAULT 'en',
    timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const migration003Down = `
DROP TABLE IF EXISTS recipients;
`

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_notifications",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_notification_preferences",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_recipients",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}
