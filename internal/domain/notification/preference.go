package notification

import (
	"fmt"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUIET HOURS
// ══════════════════════════════════════════════════════════════════════════════

// QuietHours - окно тишины канала. Если Start > End, окно переходит через полночь.
type QuietHours struct {
	Enabled bool
	Start   shared.ClockTime
	End     shared.ClockTime
}

// NewQuietHours создаёт окно тишины из строк формата HH:mm.
func NewQuietHours(enabled bool, start, end string) (QuietHours, error) {
	if !enabled && start == "" && end == "" {
		return QuietHours{}, nil
	}
	s, err := shared.ParseClockTime(start)
	if err != nil {
		return QuietHours{}, err
	}
	e, err := shared.ParseClockTime(end)
	if err != nil {
		return QuietHours{}, err
	}
	return QuietHours{Enabled: enabled, Start: s, End: e}, nil
}

// Contains проверяет, попадает ли локальное время в окно тишины.
func (q QuietHours) Contains(local time.Time) bool {
	if !q.Enabled {
		return false
	}
	return shared.ClockTimeOf(local).InWindow(q.Start, q.End)
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMIT
// ══════════════════════════════════════════════════════════════════════════════

// RateLimit ограничивает количество доставок в канал за период.
type RateLimit struct {
	MaxCount int
	Period   time.Duration
}

// NewRateLimit создаёт ограничение частоты.
func NewRateLimit(maxCount int, period time.Duration) (*RateLimit, error) {
	if maxCount <= 0 {
		return nil, validationError("NewRateLimit", "max count must be positive")
	}
	if period <= 0 {
		return nil, validationError("NewRateLimit", "period must be positive")
	}
	return &RateLimit{MaxCount: maxCount, Period: period}, nil
}

// IsExceeded проверяет, превышен ли лимит при текущем количестве доставок.
func (rl *RateLimit) IsExceeded(currentCount int) bool {
	return rl != nil && currentCount >= rl.MaxCount
}

// DeliveryCounts - количество недавних доставок по каналам в пределах периода лимита.
// nil означает, что счётчики недоступны, и лимиты не применяются.
type DeliveryCounts map[Channel]int

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL PREFERENCE
// ══════════════════════════════════════════════════════════════════════════════

// ChannelPreference - настройки одного канала.
type ChannelPreference struct {
	Enabled bool

	// AllowedTypes - разрешённые типы; пустой список разрешает все.
	AllowedTypes []NotificationType

	QuietHours QuietHours
	RateLimit  *RateLimit
}

// Allows проверяет, разрешён ли тип уведомления в канале.
func (cp ChannelPreference) Allows(t NotificationType) bool {
	if len(cp.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range cp.AllowedTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

func (cp ChannelPreference) clone() ChannelPreference {
	c := cp
	c.AllowedTypes = append([]NotificationType(nil), cp.AllowedTypes...)
	if cp.RateLimit != nil {
		rl := *cp.RateLimit
		c.RateLimit = &rl
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// PREFERENCE (AGGREGATE ROOT)
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultMaxNotifications - сколько уведомлений хранится на получателя по умолчанию.
	DefaultMaxNotifications = 100

	// DefaultAutoArchiveDays - через сколько дней финальные уведомления архивируются.
	DefaultAutoArchiveDays = 30
)

// Preference - настройки уведомлений получателя. Один агрегат на аккаунт.
type Preference struct {
	accountID         shared.AccountID
	enabled           bool
	enabledTypes      map[NotificationType]bool
	enabledCategories map[Category]bool
	channels          map[Channel]ChannelPreference
	maxNotifications  int
	autoArchiveDays   int
	location          *time.Location

	version          int64
	persistedVersion int64
	createdAt        time.Time
	updatedAt        time.Time
}

// DefaultPreference возвращает настройки по умолчанию: всё включено, кроме SMS.
func DefaultPreference(accountID shared.AccountID, now time.Time) *Preference {
	types := make(map[NotificationType]bool)
	for _, t := range AllTypes() {
		types[t] = true
	}
	categories := make(map[Category]bool)
	for _, c := range AllCategories() {
		categories[c] = true
	}
	channels := make(map[Channel]ChannelPreference)
	for _, ch := range AllChannels() {
		channels[ch] = ChannelPreference{Enabled: ch != ChannelSMS}
	}
	return &Preference{
		accountID:         accountID,
		enabled:           true,
		enabledTypes:      types,
		enabledCategories: categories,
		channels:          channels,
		maxNotifications:  DefaultMaxNotifications,
		autoArchiveDays:   DefaultAutoArchiveDays,
		location:          time.UTC,
		version:           1,
		createdAt:         now,
		updatedAt:         now,
	}
}

func (p *Preference) AccountID() shared.AccountID { return p.accountID }
func (p *Preference) Enabled() bool               { return p.enabled }
func (p *Preference) MaxNotifications() int       { return p.maxNotifications }
func (p *Preference) AutoArchiveDays() int        { return p.autoArchiveDays }
func (p *Preference) Location() *time.Location    { return p.location }
func (p *Preference) Version() int64              { return p.version }
func (p *Preference) PersistedVersion() int64     { return p.persistedVersion }
func (p *Preference) IsNew() bool                 { return p.persistedVersion == 0 }
func (p *Preference) MarkPersisted()              { p.persistedVersion = p.version }
func (p *Preference) UpdatedAt() time.Time        { return p.updatedAt }

// Channel возвращает настройки канала. Неизвестный канал считается выключенным.
func (p *Preference) Channel(ch Channel) ChannelPreference {
	cp, ok := p.channels[ch]
	if !ok {
		return ChannelPreference{}
	}
	return cp.clone()
}

// IsTypeEnabled проверяет, включён ли тип уведомлений. Отсутствующий тип считается включённым.
func (p *Preference) IsTypeEnabled(t NotificationType) bool {
	enabled, ok := p.enabledTypes[t]
	return !ok || enabled
}

// IsCategoryEnabled проверяет, включена ли категория. Отсутствующая категория считается включённой.
func (p *Preference) IsCategoryEnabled(c Category) bool {
	enabled, ok := p.enabledCategories[c]
	return !ok || enabled
}

// IsInQuietHours проверяет, действует ли окно тишины канала в момент now
// (время переводится в часовой пояс получателя).
func (p *Preference) IsInQuietHours(ch Channel, now time.Time) bool {
	cp, ok := p.channels[ch]
	if !ok {
		return false
	}
	return cp.QuietHours.Contains(now.In(p.location))
}

// IsBlocked возвращает true, если получатель отключил уведомления этого типа целиком.
func (p *Preference) IsBlocked(t NotificationType) bool {
	return !p.enabled || !p.IsCategoryEnabled(t.Category()) || !p.IsTypeEnabled(t)
}

// ShouldSendNotification - итоговое решение по каналу: глобальный флаг, канал,
// категория, тип, окно тишины и лимит частоты.
func (p *Preference) ShouldSendNotification(category Category, t NotificationType, ch Channel, now time.Time, recent DeliveryCounts) bool {
	if !p.enabled {
		return false
	}
	cp, ok := p.channels[ch]
	if !ok || !cp.Enabled {
		return false
	}
	if !p.IsCategoryEnabled(category) || !p.IsTypeEnabled(t) || !cp.Allows(t) {
		return false
	}
	if cp.QuietHours.Contains(now.In(p.location)) {
		return false
	}
	if recent != nil && cp.RateLimit.IsExceeded(recent[ch]) {
		return false
	}
	return true
}

// AllowedChannels возвращает каналы, в которые сейчас можно доставить тип t,
// в каноническом порядке.
func (p *Preference) AllowedChannels(t NotificationType, now time.Time, recent DeliveryCounts) []Channel {
	allowed := make([]Channel, 0, len(p.channels))
	for _, ch := range AllChannels() {
		if p.ShouldSendNotification(t.Category(), t, ch, now, recent) {
			allowed = append(allowed, ch)
		}
	}
	return allowed
}

// RateLimitedChannels возвращает каналы, для которых задан лимит частоты.
func (p *Preference) RateLimitedChannels() map[Channel]RateLimit {
	out := make(map[Channel]RateLimit)
	for ch, cp := range p.channels {
		if cp.RateLimit != nil {
			out[ch] = *cp.RateLimit
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS
// ══════════════════════════════════════════════════════════════════════════════

// SetEnabled включает или выключает все уведомления.
func (p *Preference) SetEnabled(enabled bool, now time.Time) {
	p.enabled = enabled
	p.touch(now)
}

// SetTypeEnabled включает или выключает тип уведомлений.
func (p *Preference) SetTypeEnabled(t NotificationType, enabled bool, now time.Time) error {
	if !t.IsValid() {
		return ErrInvalidNotificationType
	}
	p.enabledTypes[t] = enabled
	p.touch(now)
	return nil
}

// SetCategoryEnabled включает или выключает категорию.
func (p *Preference) SetCategoryEnabled(c Category, enabled bool, now time.Time) error {
	if !c.IsValid() {
		return validationError("SetCategoryEnabled", fmt.Sprintf("unknown category %q", c))
	}
	p.enabledCategories[c] = enabled
	p.touch(now)
	return nil
}

// SetChannel заменяет настройки канала.
func (p *Preference) SetChannel(ch Channel, cp ChannelPreference, now time.Time) error {
	if !ch.IsValid() {
		return validationError("SetChannel", fmt.Sprintf("unknown channel %q", ch))
	}
	for _, t := range cp.AllowedTypes {
		if !t.IsValid() {
			return ErrInvalidNotificationType
		}
	}
	p.channels[ch] = cp.clone()
	p.touch(now)
	return nil
}

// SetRetention задаёт параметры хранения.
func (p *Preference) SetRetention(maxNotifications, autoArchiveDays int, now time.Time) error {
	if maxNotifications <= 0 || autoArchiveDays <= 0 {
		return validationError("SetRetention", "retention values must be positive")
	}
	p.maxNotifications = maxNotifications
	p.autoArchiveDays = autoArchiveDays
	p.touch(now)
	return nil
}

// SetTimezone задаёт часовой пояс получателя (IANA).
func (p *Preference) SetTimezone(name string, now time.Time) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return shared.WrapError("preference", "SetTimezone", shared.ErrInvalidInput, "unknown timezone", err)
	}
	p.location = loc
	p.touch(now)
	return nil
}

func (p *Preference) touch(now time.Time) {
	p.version++
	p.updatedAt = now
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// PreferenceSnapshot - сериализуемое представление настроек (JSON в хранилище и кэше).
type PreferenceSnapshot struct {
	AccountID         shared.AccountID                      `json:"account_id"`
	Enabled           bool                                  `json:"enabled"`
	EnabledTypes      map[NotificationType]bool             `json:"enabled_types"`
	EnabledCategories map[Category]bool                     `json:"enabled_categories"`
	Channels          map[Channel]ChannelPreferenceSnapshot `json:"channels"`
	MaxNotifications  int                                   `json:"max_notifications"`
	AutoArchiveDays   int                                   `json:"auto_archive_days"`
	Timezone          string                                `json:"timezone"`
	Version           int64                                 `json:"version"`
	CreatedAt         time.Time                             `json:"created_at"`
	UpdatedAt         time.Time                             `json:"updated_at"`
}

// ChannelPreferenceSnapshot - сериализуемые настройки канала.
type ChannelPreferenceSnapshot struct {
	Enabled           bool               `json:"enabled"`
	AllowedTypes      []NotificationType `json:"allowed_types,omitempty"`
	QuietHoursEnabled bool               `json:"quiet_hours_enabled"`
	QuietHoursStart   string             `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd     string             `json:"quiet_hours_end,omitempty"`
	RateLimitMax      int                `json:"rate_limit_max,omitempty"`
	RateLimitPeriod   time.Duration      `json:"rate_limit_period,omitempty"`
}

// Snapshot возвращает снимок настроек.
func (p *Preference) Snapshot() PreferenceSnapshot {
	types := make(map[NotificationType]bool, len(p.enabledTypes))
	for k, v := range p.enabledTypes {
		types[k] = v
	}
	categories := make(map[Category]bool, len(p.enabledCategories))
	for k, v := range p.enabledCategories {
		categories[k] = v
	}
	channels := make(map[Channel]ChannelPreferenceSnapshot, len(p.channels))
	for ch, cp := range p.channels {
		cs := ChannelPreferenceSnapshot{
			Enabled:           cp.Enabled,
			AllowedTypes:      append([]NotificationType(nil), cp.AllowedTypes...),
			QuietHoursEnabled: cp.QuietHours.Enabled,
			QuietHoursStart:   cp.QuietHours.Start.String(),
			QuietHoursEnd:     cp.QuietHours.End.String(),
		}
		if cp.RateLimit != nil {
			cs.RateLimitMax = cp.RateLimit.MaxCount
			cs.RateLimitPeriod = cp.RateLimit.Period
		}
		channels[ch] = cs
	}
	return PreferenceSnapshot{
		AccountID:         p.accountID,
		Enabled:           p.enabled,
		EnabledTypes:      types,
		EnabledCategories: categories,
		Channels:          channels,
		MaxNotifications:  p.maxNotifications,
		AutoArchiveDays:   p.autoArchiveDays,
		Timezone:          p.location.String(),
		Version:           p.version,
		CreatedAt:         p.createdAt,
		UpdatedAt:         p.updatedAt,
	}
}

// ReconstitutePreference восстанавливает настройки из снимка, проверяя формат HH:mm.
func ReconstitutePreference(s PreferenceSnapshot) (*Preference, error) {
	if !s.AccountID.IsValid() {
		return nil, ErrInvalidAccountID
	}
	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, shared.WrapError("preference", "Reconstitute", shared.ErrInvalidInput, "unknown timezone", err)
		}
		loc = l
	}

	channels := make(map[Channel]ChannelPreference, len(s.Channels))
	for ch, cs := range s.Channels {
		if !ch.IsValid() {
			return nil, validationError("ReconstitutePreference", fmt.Sprintf("unknown channel %q", ch))
		}
		qh, err := NewQuietHours(cs.QuietHoursEnabled, cs.QuietHoursStart, cs.QuietHoursEnd)
		if err != nil {
			return nil, err
		}
		cp := ChannelPreference{
			Enabled:      cs.Enabled,
			AllowedTypes: append([]NotificationType(nil), cs.AllowedTypes...),
			QuietHours:   qh,
		}
		if cs.RateLimitMax > 0 {
			rl, err := NewRateLimit(cs.RateLimitMax, cs.RateLimitPeriod)
			if err != nil {
				return nil, err
			}
			cp.RateLimit = rl
		}
		channels[ch] = cp
	}

	types := make(map[NotificationType]bool, len(s.EnabledTypes))
	for k, v := range s.EnabledTypes {
		types[k] = v
	}
	categories := make(map[Category]bool, len(s.EnabledCategories))
	for k, v := range s.EnabledCategories {
		categories[k] = v
	}

	maxNotifications := s.MaxNotifications
	if maxNotifications <= 0 {
		maxNotifications = DefaultMaxNotifications
	}
	autoArchiveDays := s.AutoArchiveDays
	if autoArchiveDays <= 0 {
		autoArchiveDays = DefaultAutoArchiveDays
	}

	return &Preference{
		accountID:         s.AccountID,
		enabled:           s.Enabled,
		enabledTypes:      types,
		enabledCategories: categories,
		channels:          channels,
		maxNotifications:  maxNotifications,
		autoArchiveDays:   autoArchiveDays,
		location:          loc,
		version:           s.Version,
		persistedVersion:  s.Version,
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
	}, nil
}
