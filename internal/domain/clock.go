package domain

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time in the exchange's local timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24 hour clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// TimeOfDayOf returns the wall-clock time of t in loc.
func TimeOfDayOf(t time.Time, loc *time.Location) TimeOfDay {
	if loc != nil {
		t = t.In(loc)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Before reports whether t is strictly earlier than o.
func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.Minutes() < o.Minutes()
}

// AtOrAfter reports whether t is o or later.
func (t TimeOfDay) AtOrAfter(o TimeOfDay) bool {
	return t.Minutes() >= o.Minutes()
}

// Within reports whether t is in the half-open window [start, end).
func (t TimeOfDay) Within(start, end TimeOfDay) bool {
	return t.AtOrAfter(start) && t.Before(end)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// SessionDate returns the exchange-local calendar date of t at midnight.
func SessionDate(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}

// SessionWeek returns the ISO year and week of t in loc.
func SessionWeek(t time.Time, loc *time.Location) (year, week int) {
	if loc != nil {
		t = t.In(loc)
	}
	return t.ISOWeek()
}
