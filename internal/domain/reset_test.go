package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 30, 0, 0, time.UTC)
}

func TestEvaluateReset_Daily(t *testing.T) {
	tests := []struct {
		name      string
		lastReset string
		now       time.Time
		wantDue   bool
		wantDate  string
	}{
		{"never reset", "", date(2025, 3, 10), true, "2025-03-10"},
		{"reset yesterday", "2025-03-09", date(2025, 3, 10), true, "2025-03-10"},
		{"already reset today", "2025-03-10", date(2025, 3, 10), false, ""},
		{"reset last week", "2025-03-03", date(2025, 3, 10), true, "2025-03-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateReset(ResetCycleDaily, 1, tt.lastReset, tt.now)
			assert.Equal(t, tt.wantDue, got.Due)
			assert.Equal(t, tt.wantDate, got.NewDate)
		})
	}
}

func TestEvaluateReset_Weekly(t *testing.T) {
	// 2024-01-01 was a Monday.
	tests := []struct {
		name      string
		resetDay  int
		lastReset string
		now       time.Time
		wantDue   bool
		wantDate  string
	}{
		{"monday config, wednesday, stale", 1, "2023-12-28", date(2024, 1, 3), true, "2024-01-01"},
		{"monday config, wednesday, reset this week", 1, "2024-01-01", date(2024, 1, 3), false, ""},
		{"monday config, wednesday, reset after week start", 1, "2024-01-02", date(2024, 1, 3), false, ""},
		{"monday config, on the reset day itself", 1, "2023-12-25", date(2024, 1, 1), true, "2024-01-01"},
		{"never reset", 1, "", date(2024, 1, 3), true, "2024-01-01"},
		{"sunday config, wednesday", 7, "2023-12-24", date(2024, 1, 3), true, "2023-12-31"},
		{"sunday config, already current", 7, "2023-12-31", date(2024, 1, 3), false, ""},
		{"out-of-range day clamps to sunday", 9, "2023-12-24", date(2024, 1, 3), true, "2023-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateReset(ResetCycleWeekly, tt.resetDay, tt.lastReset, tt.now)
			assert.Equal(t, tt.wantDue, got.Due)
			assert.Equal(t, tt.wantDate, got.NewDate)
		})
	}
}

func TestEvaluateReset_Monthly(t *testing.T) {
	tests := []struct {
		name      string
		resetDay  int
		lastReset string
		now       time.Time
		wantDue   bool
		wantDate  string
	}{
		{"first of month, never reset", 1, "", date(2025, 3, 5), true, "2025-03-01"},
		{"first of month, reset last month", 1, "2025-02-01", date(2025, 3, 5), true, "2025-03-01"},
		{"first of month, already reset", 1, "2025-03-01", date(2025, 3, 5), false, ""},
		{"mid-month day not reached yet", 15, "2025-02-15", date(2025, 3, 10), false, ""},
		{"mid-month day reached", 15, "2025-02-15", date(2025, 3, 15), true, "2025-03-15"},
		{"day 31 clamps in february", 31, "2025-01-31", date(2025, 2, 28), true, "2025-02-28"},
		{"day 31 not yet due in february", 31, "2025-01-31", date(2025, 2, 27), false, ""},
		{"day 31 clamps in leap february", 31, "2024-01-31", date(2024, 2, 29), true, "2024-02-29"},
		{"day 31 in a 30-day month", 31, "2025-03-31", date(2025, 4, 30), true, "2025-04-30"},
		{"zero day clamps to first", 0, "2025-02-01", date(2025, 3, 2), true, "2025-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateReset(ResetCycleMonthly, tt.resetDay, tt.lastReset, tt.now)
			assert.Equal(t, tt.wantDue, got.Due)
			assert.Equal(t, tt.wantDate, got.NewDate)
		})
	}
}

func TestEvaluateReset_UnknownCycleFallsBackToMonthly(t *testing.T) {
	got := EvaluateReset(ResetCycle("quarterly"), 1, "2025-02-01", date(2025, 3, 5))
	assert.True(t, got.Due)
	assert.Equal(t, "2025-03-01", got.NewDate)
}

func TestEvaluateReset_Idempotent(t *testing.T) {
	// Applying the decision and re-evaluating must not trigger again.
	now := date(2025, 3, 10)
	first := EvaluateReset(ResetCycleMonthly, 1, "2025-02-01", now)
	assert.True(t, first.Due)

	second := EvaluateReset(ResetCycleMonthly, 1, first.NewDate, now)
	assert.False(t, second.Due)
}
