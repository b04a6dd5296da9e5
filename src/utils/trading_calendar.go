package utils

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers whether a market is open, backed by scmhub/calendar.
type TradingCalendar struct {
	MIC      string
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// GetCalendar loads the calendar for a MIC code (ISO 10383). Unknown codes
// fall back to xnys, and if that fails too a Mon-Fri 09:30-16:00 New York
// session is assumed.
func GetCalendar(mic string) *TradingCalendar {
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic == "" {
		mic = "xnys"
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		mic = "xnys"
		cal = calendar.GetCalendar(mic)
	}
	if cal == nil {
		nyLoc, err := time.LoadLocation("America/New_York")
		if err != nil {
			nyLoc = time.UTC
		}
		return &TradingCalendar{MIC: mic, Fallback: true, Timezone: nyLoc}
	}

	return &TradingCalendar{MIC: mic, Calendar: cal, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}
	if tc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpenOnMinute checks if the market is open at t.
func (tc *TradingCalendar) IsOpenOnMinute(t time.Time) bool {
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}

	if tc.Fallback {
		if !tc.IsTradingDay(t) {
			return false
		}
		hour, minute := t.Hour(), t.Minute()
		return (hour > 9 || (hour == 9 && minute >= 30)) && hour < 16
	}

	return tc.Calendar.IsOpen(t)
}
