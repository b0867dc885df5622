package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronExpression is a parsed 5-field cron expression that implements Schedule.
// Format: minute hour day-of-month month day-of-week, plus the @daily style
// descriptors understood by robfig/cron.
// Examples:
//   - "*/5 * * * *"  - every 5 minutes
//   - "30 3 * * *"   - every day at 03:30
//   - "0 0 * * 0"    - every Sunday at midnight
//
// When both day-of-month and day-of-week are restricted, a day matching either
// field fires, as in crontab(5).
type CronExpression struct {
	raw      string
	schedule cron.Schedule
}

// Common cron expression presets.
const (
	EveryMinute      = "* * * * *"
	Every5Minutes    = "*/5 * * * *"
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
	EveryDay0330     = "30 3 * * *"
	EverySunday      = "0 0 * * 0"
)

// ParseCronExpression parses a cron expression string.
func ParseCronExpression(expr string) (*CronExpression, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return &CronExpression{raw: expr, schedule: schedule}, nil
}

// MustParseCronExpression parses a cron expression or panics.
// Use only for compile-time constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(err)
	}
	return ce
}

// String returns the original expression.
func (c *CronExpression) String() string {
	return c.raw
}

// Next returns the first matching minute strictly after the given time, in
// the location of after. A zero time means nothing matches within five years.
func (c *CronExpression) Next(after time.Time) time.Time {
	return c.schedule.Next(after)
}
