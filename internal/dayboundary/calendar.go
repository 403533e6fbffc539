package dayboundary

import (
	"time"

	"github.com/pders01/snapsync/internal/models"
)

// Calendar maps instants to calendar days in one location
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a calendar for loc. A nil loc means UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// UTC is the calendar the refresh loop runs on
func UTC() Calendar {
	return NewCalendar(time.UTC)
}

// Location returns the calendar's location
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Key returns the yyyy-mm-dd key of the day t falls on
func (c Calendar) Key(t time.Time) string {
	return models.DayStamp(t.In(c.Location()))
}

// StartOfDay returns midnight of the day t falls on
func (c Calendar) StartOfDay(t time.Time) time.Time {
	return c.At(t, 0, 0)
}

// NextMidnight returns the first midnight strictly after t
func (c Calendar) NextMidnight(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1)
}

// At returns hour:minute on the day t falls on
func (c Calendar) At(t time.Time, hour, minute int) time.Time {
	t = t.In(c.Location())
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, c.Location())
}

// Day returns the Day t falls on
func (c Calendar) Day(t time.Time) Day {
	return Day{Key: c.Key(t), Start: c.StartOfDay(t)}
}

// Day identifies one calendar day
type Day struct {
	Key   string
	Start time.Time
}
