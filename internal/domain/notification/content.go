package notification

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxTitleLength - максимальная длина заголовка в символах.
	MaxTitleLength = 200

	// MaxBodyLength - максимальная длина текста в символах.
	MaxBodyLength = 2000
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT
// ══════════════════════════════════════════════════════════════════════════════

// Content - неизменяемое содержимое уведомления.
type Content struct {
	title    string
	body     string
	iconURL  string
	imageURL string
}

// NewContent создаёт содержимое с проверкой длины заголовка и текста.
func NewContent(title, body, iconURL, imageURL string) (Content, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)

	if title == "" {
		return Content{}, validationError("NewContent", "title cannot be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return Content{}, validationError("NewContent", fmt.Sprintf("title exceeds %d characters", MaxTitleLength))
	}
	if body == "" {
		return Content{}, validationError("NewContent", "body cannot be empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return Content{}, validationError("NewContent", fmt.Sprintf("body exceeds %d characters", MaxBodyLength))
	}

	return Content{
		title:    title,
		body:     body,
		iconURL:  strings.TrimSpace(iconURL),
		imageURL: strings.TrimSpace(imageURL),
	}, nil
}

func (c Content) Title() string    { return c.title }
func (c Content) Body() string     { return c.body }
func (c Content) IconURL() string  { return c.iconURL }
func (c Content) ImageURL() string { return c.imageURL }

// IsZero возвращает true для пустого значения.
func (c Content) IsZero() bool {
	return c.title == "" && c.body == ""
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL SET
// ══════════════════════════════════════════════════════════════════════════════

// ChannelSet связывает выбранные каналы с приоритетом. Каналы уникальны
// и хранятся в каноническом порядке.
type ChannelSet struct {
	channels []Channel
	priority Priority
}

// NewChannelSet создаёт набор каналов. Пустой набор и дубликаты запрещены.
func NewChannelSet(channels []Channel, priority Priority) (ChannelSet, error) {
	if len(channels) == 0 {
		return ChannelSet{}, ErrNoChannels
	}
	if !priority.IsValid() {
		return ChannelSet{}, validationError("NewChannelSet", fmt.Sprintf("invalid priority %d", priority))
	}

	seen := make(map[Channel]struct{}, len(channels))
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if !ch.IsValid() {
			return ChannelSet{}, validationError("NewChannelSet", fmt.Sprintf("invalid channel %q", ch))
		}
		if _, dup := seen[ch]; dup {
			return ChannelSet{}, validationError("NewChannelSet", fmt.Sprintf("duplicate channel %s", ch))
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	SortChannels(out)

	return ChannelSet{channels: out, priority: priority}, nil
}

// Channels возвращает копию списка каналов.
func (s ChannelSet) Channels() []Channel {
	out := make([]Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Priority возвращает приоритет.
func (s ChannelSet) Priority() Priority { return s.priority }

// Len возвращает количество каналов.
func (s ChannelSet) Len() int { return len(s.channels) }

// IsEmpty возвращает true, если каналов нет.
func (s ChannelSet) IsEmpty() bool { return len(s.channels) == 0 }

// Contains проверяет наличие канала.
func (s ChannelSet) Contains(ch Channel) bool {
	for _, c := range s.channels {
		if c == ch {
			return true
		}
	}
	return false
}

// SortChannels сортирует каналы в каноническом порядке.
func SortChannels(channels []Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].order() < channels[j].order()
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE WINDOW
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleWindow - окно доставки: необязательные scheduledAt и expiresAt.
type ScheduleWindow struct {
	scheduledAt *time.Time
	expiresAt   *time.Time
}

// NewScheduleWindow создаёт окно доставки. expiresAt должен быть строго в будущем
// относительно now, а scheduledAt - раньше expiresAt.
func NewScheduleWindow(scheduledAt, expiresAt *time.Time, now time.Time) (ScheduleWindow, error) {
	if expiresAt != nil && !expiresAt.After(now) {
		return ScheduleWindow{}, validationError("NewScheduleWindow", "expiresAt must be in the future")
	}
	return RestoreScheduleWindow(scheduledAt, expiresAt)
}

// RestoreScheduleWindow восстанавливает окно без проверки относительно текущего времени.
func RestoreScheduleWindow(scheduledAt, expiresAt *time.Time) (ScheduleWindow, error) {
	if scheduledAt != nil && expiresAt != nil && !scheduledAt.Before(*expiresAt) {
		return ScheduleWindow{}, validationError("NewScheduleWindow", "scheduledAt must be before expiresAt")
	}
	return ScheduleWindow{scheduledAt: copyTime(scheduledAt), expiresAt: copyTime(expiresAt)}, nil
}

// ScheduledAt возвращает копию времени запланированной отправки.
func (w ScheduleWindow) ScheduledAt() *time.Time { return copyTime(w.scheduledAt) }

// ExpiresAt возвращает копию времени истечения.
func (w ScheduleWindow) ExpiresAt() *time.Time { return copyTime(w.expiresAt) }

// IsExpired возвращает true, если now >= expiresAt.
func (w ScheduleWindow) IsExpired(now time.Time) bool {
	return w.expiresAt != nil && !now.Before(*w.expiresAt)
}

// IsDue возвращает true, если запланированное время наступило (или не задано).
func (w ScheduleWindow) IsDue(now time.Time) bool {
	return w.scheduledAt == nil || !now.Before(*w.scheduledAt)
}
