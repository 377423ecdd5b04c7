// Package domain contains core business types and interfaces.
//
// This file implements the quota reset scheduler. EvaluateReset is a pure
// function of the tenant's cycle configuration and the current instant, so
// it is unit-testable without any storage.
package domain

import (
	"fmt"
	"time"
)

// ResetCycle is the recurring period after which the consumption counter
// rolls over.
type ResetCycle string

const (
	ResetCycleDaily   ResetCycle = "daily"
	ResetCycleWeekly  ResetCycle = "weekly"
	ResetCycleMonthly ResetCycle = "monthly"
)

// ResetDateLayout is the calendar-date format used for quota_reset_date.
// Dates are compared as strings, which is safe for this layout.
const ResetDateLayout = "2006-01-02"

// ResetDecision reports whether a counter rollover is due and, if so, the
// new reset date to record.
type ResetDecision struct {
	Due     bool
	NewDate string
}

// EvaluateReset decides whether a tenant's consumption counter must be
// zeroed, given the stored reset date, the configured cycle and the
// current instant.
//
// Cycles:
//   - daily: due whenever the stored date is not today.
//   - weekly: resetDay is a weekday (1=Monday..7=Sunday); due when the
//     stored date predates the most recent occurrence of that weekday.
//   - monthly: resetDay is a day of month; the effective reset day is
//     clamped to the last day of the current month, so day 29-31 configs
//     behave in short months. Due only once today has reached the
//     effective day and the stored date is older than this month's reset
//     date.
//
// An empty lastReset (tenant has never rolled over) is always older than
// any computed date. Unknown cycles fall back to monthly, matching the
// stored default.
func EvaluateReset(cycle ResetCycle, resetDay int, lastReset string, now time.Time) ResetDecision {
	if resetDay < 1 {
		resetDay = 1
	}

	switch cycle {
	case ResetCycleDaily:
		today := now.Format(ResetDateLayout)
		if lastReset != today {
			return ResetDecision{Due: true, NewDate: today}
		}

	case ResetCycleWeekly:
		if resetDay > 7 {
			resetDay = 7
		}
		// time.Weekday counts 0=Sunday; the configured day counts 1=Monday..7=Sunday.
		current := (int(now.Weekday())+6)%7 + 1
		daysSince := (current - resetDay + 7) % 7
		weekStart := now.AddDate(0, 0, -daysSince).Format(ResetDateLayout)
		if lastReset == "" || lastReset < weekStart {
			return ResetDecision{Due: true, NewDate: weekStart}
		}

	default: // monthly
		lastDay := daysInMonth(now.Year(), now.Month())
		effective := resetDay
		if effective > lastDay {
			effective = lastDay
		}
		monthReset := fmt.Sprintf("%04d-%02d-%02d", now.Year(), int(now.Month()), effective)
		if (lastReset == "" || lastReset < monthReset) && now.Day() >= effective {
			return ResetDecision{Due: true, NewDate: monthReset}
		}
	}

	return ResetDecision{}
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
