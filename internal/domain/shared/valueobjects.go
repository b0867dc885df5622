// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// AccountID identifies the account holder that owns notifications and preferences.
type AccountID string

// IsValid checks that the account ID is not blank.
func (a AccountID) IsValid() bool {
	return strings.TrimSpace(string(a)) != ""
}

// String returns the string representation.
func (a AccountID) String() string {
	return string(a)
}

// NewAccountID creates a new AccountID with validation.
func NewAccountID(id string) (AccountID, error) {
	aid := AccountID(strings.TrimSpace(id))
	if !aid.IsValid() {
		return "", NewDomainError("shared", "NewAccountID", ErrInvalidID, "account ID cannot be empty")
	}
	return aid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// ClockTime Value Object
// ═══════════════════════════════════════════════════════════════════════════

// ClockTime is a wall-clock time of day with minute precision ("HH:mm", 24-hour).
type ClockTime struct {
	minutes int
}

var clockTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ParseClockTime parses an "HH:mm" string.
func ParseClockTime(value string) (ClockTime, error) {
	if !clockTimeRegex.MatchString(value) {
		return ClockTime{}, NewDomainError("shared", "ParseClockTime", ErrInvalidFormat,
			fmt.Sprintf("time %q must match HH:mm", value))
	}
	var h, m int
	if _, err := fmt.Sscanf(value, "%02d:%02d", &h, &m); err != nil {
		return ClockTime{}, WrapError("shared", "ParseClockTime", ErrInvalidFormat, "cannot parse time", err)
	}
	return ClockTime{minutes: h*60 + m}, nil
}

// MustParseClockTime is ParseClockTime that panics on malformed input.
// Intended for constants and tests.
func MustParseClockTime(value string) ClockTime {
	ct, err := ParseClockTime(value)
	if err != nil {
		panic(err)
	}
	return ct
}

// ClockTimeOf returns the time of day of t in t's location.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime{minutes: t.Hour()*60 + t.Minute()}
}

// Minutes returns minutes since midnight.
func (c ClockTime) Minutes() int {
	return c.minutes
}

// String returns the "HH:mm" form.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.minutes/60, c.minutes%60)
}

// Before reports whether c is earlier in the day than other.
func (c ClockTime) Before(other ClockTime) bool {
	return c.minutes < other.minutes
}

// InWindow reports whether c falls in the inclusive window [start, end].
// A window with start > end spans midnight.
func (c ClockTime) InWindow(start, end ClockTime) bool {
	if start.minutes <= end.minutes {
		return c.minutes >= start.minutes && c.minutes <= end.minutes
	}
	return c.minutes >= start.minutes || c.minutes <= end.minutes
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Pagination represents pagination parameters.
type Pagination struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Offset returns the offset for database queries.
func (p Pagination) Offset() int {
	if p.Page <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

// Limit returns the limit for database queries.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// NewPagination creates a new Pagination with defaults.
func NewPagination(page, pageSize int) Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}
