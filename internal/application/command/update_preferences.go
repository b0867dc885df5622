package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/logger"
	"github.com/alem-hub/notification-engine/pkg/retry"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE PREFERENCES COMMAND
// Обновляет настройки уведомлений получателя: глобальный флаг, типы,
// категории, каналы (окна тишины, лимиты), хранение и часовой пояс.
// ══════════════════════════════════════════════════════════════════════════════

// UpdatePreferencesCommand contains the data to update preferences.
type UpdatePreferencesCommand struct {
	// AccountID is the owner of the preferences.
	AccountID shared.AccountID

	// Preferences contains the new preference values.
	// Only non-nil values will be updated.
	Preferences PreferenceUpdates

	// ExpectedVersion, when non-zero, must match the stored version.
	ExpectedVersion int64
}

// PreferenceUpdates contains optional preference updates.
// nil values mean "don't change".
type PreferenceUpdates struct {
	// Enabled - master switch for all notifications.
	Enabled *bool

	// Types toggles individual notification types.
	Types map[notification.NotificationType]bool

	// Categories toggles whole categories.
	Categories map[notification.Category]bool

	// Channels updates per-channel settings.
	Channels map[notification.Channel]ChannelUpdate

	// MaxNotifications and AutoArchiveDays control retention.
	MaxNotifications *int
	AutoArchiveDays  *int

	// Timezone is an IANA zone name used for quiet hours.
	Timezone *string
}

// ChannelUpdate contains optional updates for one channel.
type ChannelUpdate struct {
	Enabled *bool

	// AllowedTypes replaces the allowed types; an empty slice allows all.
	AllowedTypes *[]notification.NotificationType

	QuietHours *QuietHoursUpdate

	// RateLimit sets the channel limit; MaxCount 0 removes it.
	RateLimit *RateLimitUpdate
}

// QuietHoursUpdate describes a quiet window in "HH:mm" local time.
type QuietHoursUpdate struct {
	Enabled bool
	Start   string
	End     string
}

// RateLimitUpdate describes a channel rate limit.
type RateLimitUpdate struct {
	MaxCount int
	Period   time.Duration
}

// Validate validates the command.
func (c UpdatePreferencesCommand) Validate() error {
	if !c.AccountID.IsValid() {
		return errors.New("update_preferences: account_id is required")
	}

	u := c.Preferences
	for t := range u.Types {
		if !t.IsValid() {
			return fmt.Errorf("update_preferences: unknown type %q", t)
		}
	}
	for cat := range u.Categories {
		if !cat.IsValid() {
			return fmt.Errorf("update_preferences: unknown category %q", cat)
		}
	}
	for ch, cu := range u.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("update_preferences: unknown channel %q", ch)
		}
		if cu.RateLimit != nil && cu.RateLimit.MaxCount < 0 {
			return errors.New("update_preferences: rate limit must not be negative")
		}
	}
	if u.MaxNotifications != nil && *u.MaxNotifications <= 0 {
		return errors.New("update_preferences: max_notifications must be positive")
	}
	if u.AutoArchiveDays != nil && *u.AutoArchiveDays <= 0 {
		return errors.New("update_preferences: auto_archive_days must be positive")
	}

	return nil
}

// UpdatePreferencesResult contains the result of updating preferences.
type UpdatePreferencesResult struct {
	// AccountID is the owner of the preferences.
	AccountID shared.AccountID

	// Preferences contains the final preference values.
	Preferences notification.PreferenceSnapshot

	// ChangedFields lists which fields were changed.
	ChangedFields []string

	// UpdatedAt is when the preferences were updated.
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UpdatePreferencesHandler handles the UpdatePreferencesCommand.
type UpdatePreferencesHandler struct {
	repo   notification.PreferenceRepository
	clock  timeutil.Clock
	logger *zap.Logger
}

// NewUpdatePreferencesHandler creates a new UpdatePreferencesHandler.
// repo may be the cached repository; Save evicts the cached copy.
func NewUpdatePreferencesHandler(
	repo notification.PreferenceRepository,
	clock timeutil.Clock,
	log *zap.Logger,
) *UpdatePreferencesHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UpdatePreferencesHandler{
		repo:   repo,
		clock:  clock,
		logger: log.With(logger.Component("update_preferences")),
	}
}

// Handle executes the update preferences command.
func (h *UpdatePreferencesHandler) Handle(
	ctx context.Context,
	cmd UpdatePreferencesCommand,
) (*UpdatePreferencesResult, error) {
	// Validate command
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("preference", "Update", shared.ErrValidation, err.Error(), err)
	}

	var result *UpdatePreferencesResult
	err := retry.ConflictRetrier(shared.IsOptimisticLock).Do(ctx, func(ctx context.Context) error {
		pref, err := h.repo.GetOrCreateDefault(ctx, cmd.AccountID)
		if err != nil {
			return retry.Permanent(fmt.Errorf("update_preferences: load: %w", err))
		}
		// Клиент видел другую версию: не перетираем чужие изменения.
		if cmd.ExpectedVersion != 0 && pref.Version() != cmd.ExpectedVersion {
			return retry.Permanent(shared.ErrStaleAggregate)
		}

		now := h.clock.Now()
		changed, err := applyPreferenceUpdates(pref, cmd.Preferences, now)
		if err != nil {
			return retry.Permanent(err)
		}
		if len(changed) > 0 {
			if err := h.repo.Save(ctx, pref); err != nil {
				return err
			}
		}

		result = &UpdatePreferencesResult{
			AccountID:     cmd.AccountID,
			Preferences:   pref.Snapshot(),
			ChangedFields: changed,
			UpdatedAt:     pref.UpdatedAt(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("preferences updated",
		logger.AccountID(cmd.AccountID.String()),
		zap.Strings("changed", result.ChangedFields),
		zap.Int64("version", result.Preferences.Version),
	)
	return result, nil
}

// applyPreferenceUpdates mutates pref and returns the names of changed fields.
func applyPreferenceUpdates(pref *notification.Preference, u PreferenceUpdates, now time.Time) ([]string, error) {
	var changed []string

	if u.Enabled != nil && *u.Enabled != pref.Enabled() {
		pref.SetEnabled(*u.Enabled, now)
		changed = append(changed, "enabled")
	}

	for _, t := range sortedKeys(u.Types) {
		if pref.IsTypeEnabled(t) == u.Types[t] {
			continue
		}
		if err := pref.SetTypeEnabled(t, u.Types[t], now); err != nil {
			return nil, err
		}
		changed = append(changed, "types."+t.String())
	}

	for _, c := range sortedKeys(u.Categories) {
		if pref.IsCategoryEnabled(c) == u.Categories[c] {
			continue
		}
		if err := pref.SetCategoryEnabled(c, u.Categories[c], now); err != nil {
			return nil, err
		}
		changed = append(changed, "categories."+string(c))
	}

	for _, ch := range sortedKeys(u.Channels) {
		cp, err := applyChannelUpdate(pref.Channel(ch), u.Channels[ch])
		if err != nil {
			return nil, err
		}
		if err := pref.SetChannel(ch, cp, now); err != nil {
			return nil, err
		}
		changed = append(changed, "channels."+ch.String())
	}

	if u.MaxNotifications != nil || u.AutoArchiveDays != nil {
		maxN, days := pref.MaxNotifications(), pref.AutoArchiveDays()
		if u.MaxNotifications != nil {
			maxN = *u.MaxNotifications
		}
		if u.AutoArchiveDays != nil {
			days = *u.AutoArchiveDays
		}
		if maxN != pref.MaxNotifications() || days != pref.AutoArchiveDays() {
			if err := pref.SetRetention(maxN, days, now); err != nil {
				return nil, err
			}
			changed = append(changed, "retention")
		}
	}

	if u.Timezone != nil && *u.Timezone != pref.Location().String() {
		if err := pref.SetTimezone(*u.Timezone, now); err != nil {
			return nil, err
		}
		changed = append(changed, "timezone")
	}

	return changed, nil
}

func applyChannelUpdate(cp notification.ChannelPreference, u ChannelUpdate) (notification.ChannelPreference, error) {
	if u.Enabled != nil {
		cp.Enabled = *u.Enabled
	}
	if u.AllowedTypes != nil {
		cp.AllowedTypes = append([]notification.NotificationType(nil), (*u.AllowedTypes)...)
	}
	if u.QuietHours != nil {
		qh, err := notification.NewQuietHours(u.QuietHours.Enabled, u.QuietHours.Start, u.QuietHours.End)
		if err != nil {
			return cp, err
		}
		cp.QuietHours = qh
	}
	if u.RateLimit != nil {
		if u.RateLimit.MaxCount == 0 {
			cp.RateLimit = nil
		} else {
			rl, err := notification.NewRateLimit(u.RateLimit.MaxCount, u.RateLimit.Period)
			if err != nil {
				return cp, err
			}
			cp.RateLimit = rl
		}
	}
	return cp, nil
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
