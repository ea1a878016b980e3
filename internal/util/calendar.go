package util

import (
	"time"

	"candlesync/internal/domain"
)

// TradingCalendar decides which daily periods are closed and safe to fetch.
// Every day is a UTC calendar day; a class may additionally require a
// settlement delay after midnight before the previous day counts as closed.
type TradingCalendar struct {
	settlement map[domain.Class]time.Duration
	now        func() time.Time
}

// NewTradingCalendar creates a TradingCalendar with the given per-class
// settlement delays. A nil map means no delay for any class.
func NewTradingCalendar(settlement map[domain.Class]time.Duration) *TradingCalendar {
	s := make(map[domain.Class]time.Duration, len(settlement))
	for k, v := range settlement {
		s[k] = v
	}
	return &TradingCalendar{settlement: s, now: time.Now}
}

// WithClock returns a copy of the calendar that reads the time from now.
func (tc *TradingCalendar) WithClock(now func() time.Time) *TradingCalendar {
	c := *tc
	c.now = now
	return &c
}

// Now returns the calendar's current time in UTC.
func (tc *TradingCalendar) Now() time.Time {
	return tc.now().UTC()
}

// Settlement returns the settlement delay configured for class.
func (tc *TradingCalendar) Settlement(class domain.Class) time.Duration {
	return tc.settlement[class]
}

// TodayStart returns UTC midnight of now's UTC day.
func TodayStart(now time.Time) time.Time {
	return domain.Day(now)
}

// Cutoff returns the latest instant whose daily period is closed for class.
// It is one second before today's UTC midnight, moved back one more day
// while the previous day is still inside its settlement delay.
func (tc *TradingCalendar) Cutoff(class domain.Class, now time.Time) time.Time {
	today := TodayStart(now)
	cutoff := today.Add(-time.Second)
	if d := tc.settlement[class]; d > 0 && now.UTC().Sub(today) < d {
		cutoff = cutoff.AddDate(0, 0, -1)
	}
	return cutoff
}

// CutoffDate returns Cutoff truncated to its UTC day.
func (tc *TradingCalendar) CutoffDate(class domain.Class, now time.Time) time.Time {
	return domain.Day(tc.Cutoff(class, now))
}
