package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	ct, err := ParseClockTime("07:05")
	require.NoError(t, err)
	assert.Equal(t, 7*60+5, ct.Minutes())
	assert.Equal(t, "07:05", ct.String())

	for _, bad := range []string{"", "7:05", "24:00", "12:60", "12-30", "12:30:00"} {
		_, err := ParseClockTime(bad)
		assert.ErrorIs(t, err, ErrInvalidFormat, bad)
	}
}

func TestClockTime_InWindow(t *testing.T) {
	start := MustParseClockTime("22:00")
	end := MustParseClockTime("08:00")

	assert.True(t, MustParseClockTime("23:00").InWindow(start, end))
	assert.True(t, MustParseClockTime("00:00").InWindow(start, end))
	assert.True(t, MustParseClockTime("08:00").InWindow(start, end))
	assert.False(t, MustParseClockTime("12:00").InWindow(start, end))

	// same-day window
	assert.True(t, MustParseClockTime("13:00").InWindow(MustParseClockTime("12:00"), MustParseClockTime("14:00")))
	assert.False(t, MustParseClockTime("15:00").InWindow(MustParseClockTime("12:00"), MustParseClockTime("14:00")))

	assert.Equal(t, "23:59", ClockTimeOf(time.Date(2026, 1, 1, 23, 59, 59, 0, time.UTC)).String())
}

func TestNewAccountID(t *testing.T) {
	id, err := NewAccountID("  acc-1 ")
	require.NoError(t, err)
	assert.Equal(t, AccountID("acc-1"), id)

	_, err = NewAccountID("   ")
	assert.True(t, IsValidation(err))
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.Limit())
	assert.Equal(t, 0, p.Offset())

	p = NewPagination(3, 500)
	assert.Equal(t, MaxPageSize, p.Limit())
	assert.Equal(t, 2*MaxPageSize, p.Offset())
}

func TestDomainError_Matching(t *testing.T) {
	err := WrapError("notification", "Save", ErrOptimisticLock, "version changed", ErrStaleAggregate)

	assert.ErrorIs(t, err, ErrOptimisticLock)
	assert.ErrorIs(t, err, ErrStaleAggregate)
	assert.True(t, IsOptimisticLock(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "notification.Save")
}
