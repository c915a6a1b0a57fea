// Package clock tracks simulated town time. The clock only moves forward, and
// only by explicit Tick calls from the engine loop.
package clock

import "time"

var weekdays = [...]string{"周日", "周一", "周二", "周三", "周四", "周五", "周六"}

type Clock struct {
	current time.Time
	days    int
}

// New starts a clock at the given simulated instant. Day count starts at 1.
func New(start time.Time) *Clock {
	return &Clock{current: start, days: 1}
}

// NewAt builds a clock from calendar components (minutes start at zero).
func NewAt(year int, month time.Month, day, hour int) *Clock {
	return New(time.Date(year, month, day, hour, 0, 0, 0, time.UTC))
}

// Tick advances the clock by the given number of simulated minutes.
func (c *Clock) Tick(minutes int) {
	before := c.current.YearDay()
	c.current = c.current.Add(time.Duration(minutes) * time.Minute)
	if c.current.YearDay() != before {
		c.days++
	}
}

// Now returns the current simulated instant.
func (c *Clock) Now() time.Time { return c.current }

// Day returns the 1-based day counter.
func (c *Clock) Day() int { return c.days }

// IsNight reports whether the local hour is in [22,24) or [0,6).
func (c *Clock) IsNight() bool {
	h := c.current.Hour()
	return h >= 22 || h < 6
}

// Timestamp renders the full "YYYY-MM-DD HH:MM" form used in event records.
func (c *Clock) Timestamp() string { return c.current.Format("2006-01-02 15:04") }

// TimeString renders the clock face ("HH:MM").
func (c *Clock) TimeString() string { return c.current.Format("15:04") }

// DateString renders the calendar date with the localized weekday, as shown in
// planning prompts.
func (c *Clock) DateString() string {
	return c.current.Format("2006年01月02日") + " " + weekdays[c.current.Weekday()]
}

// DisplayString renders the date, weekday and clock face together.
func (c *Clock) DisplayString() string {
	return c.current.Format("2006-01-02") + " " + weekdays[c.current.Weekday()] + " " + c.current.Format("15:04")
}

// CalendarDay renders just the calendar date ("YYYY-MM-DD"); used to gate
// once-per-day memory compaction.
func (c *Clock) CalendarDay() string { return c.current.Format("2006-01-02") }
