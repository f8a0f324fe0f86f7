// Package schedule computes next-run instants for topic cadences and keeps
// the armed fires in a min-heap drained by a single wakeup loop.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone data for hosts without a zoneinfo database

	"github.com/JakeFAU/topicwatch/internal/topic"
)

// ErrInvalidClock signals a malformed HH:MM value.
var ErrInvalidClock = errors.New("invalid time of day")

// ErrInvalidTimezone signals an unknown IANA zone.
var ErrInvalidTimezone = errors.New("invalid timezone")

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseClock parses a 24-hour "HH:MM" value.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 || len(h) > 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return hour, minute, nil
}

// ParseWeekday resolves full or three-letter day names, ignoring case.
// Unknown names resolve to Monday and report ok=false.
func ParseWeekday(s string) (day time.Weekday, ok bool) {
	day, ok = weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return time.Monday, false
	}
	return day, true
}

// LoadLocation resolves an IANA zone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// NextDaily returns the next instant strictly after now at clock in loc:
// today when the time is still ahead, otherwise tomorrow.
func NextDaily(now time.Time, clock string, loc *time.Location) (time.Time, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next, nil
}

// NextWeekly returns the next instant strictly after now that falls on day
// at clock in loc. Unknown day names fall back to Monday.
func NextWeekly(now time.Time, day, clock string, loc *time.Location) (time.Time, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	target, _ := ParseWeekday(day)
	local := now.In(loc)
	ahead := (int(target) - int(local.Weekday()) + 7) % 7
	next := time.Date(local.Year(), local.Month(), local.Day()+ahead, hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+ahead+7, hour, minute, 0, 0, loc)
	}
	return next, nil
}

// Next computes the next fire of cadence c for the topic schedule s.
func Next(now time.Time, c topic.Cadence, s topic.Schedule) (time.Time, error) {
	switch c {
	case topic.CadenceDaily:
		loc, err := LoadLocation(s.Daily.Timezone)
		if err != nil {
			return time.Time{}, err
		}
		return NextDaily(now, s.Daily.Time, loc)
	case topic.CadenceWeekly:
		loc, err := LoadLocation(s.Weekly.Timezone)
		if err != nil {
			return time.Time{}, err
		}
		return NextWeekly(now, s.Weekly.Day, s.Weekly.Time, loc)
	default:
		return time.Time{}, fmt.Errorf("unknown cadence %q", c)
	}
}

// WeekStart returns Monday 00:00 of the week containing now, in loc.
func WeekStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	back := (int(local.Weekday()) + 6) % 7
	return time.Date(local.Year(), local.Month(), local.Day()-back, 0, 0, 0, 0, loc)
}

// Defaults fills unset schedule fields.
type Defaults struct {
	DailyTime  string
	WeeklyDay  string
	WeeklyTime string
	Timezone   string
}

// Apply fills empty fields of s from d and canonicalises the weekday name.
func (d Defaults) Apply(s topic.Schedule) topic.Schedule {
	if strings.TrimSpace(s.Daily.Time) == "" {
		s.Daily.Time = d.DailyTime
	}
	if strings.TrimSpace(s.Daily.Timezone) == "" {
		s.Daily.Timezone = d.Timezone
	}
	if strings.TrimSpace(s.Weekly.Day) == "" {
		s.Weekly.Day = d.WeeklyDay
	}
	if day, ok := ParseWeekday(s.Weekly.Day); ok {
		s.Weekly.Day = strings.ToLower(day.String())
	} else {
		s.Weekly.Day = "monday"
	}
	if strings.TrimSpace(s.Weekly.Time) == "" {
		s.Weekly.Time = d.WeeklyTime
	}
	if strings.TrimSpace(s.Weekly.Timezone) == "" {
		s.Weekly.Timezone = d.Timezone
	}
	return s
}

// Validate checks clock values and zones of both cadences.
func Validate(s topic.Schedule) error {
	if _, _, err := ParseClock(s.Daily.Time); err != nil {
		return fmt.Errorf("daily: %w", err)
	}
	if _, err := LoadLocation(s.Daily.Timezone); err != nil {
		return fmt.Errorf("daily: %w", err)
	}
	if _, _, err := ParseClock(s.Weekly.Time); err != nil {
		return fmt.Errorf("weekly: %w", err)
	}
	if _, err := LoadLocation(s.Weekly.Timezone); err != nil {
		return fmt.Errorf("weekly: %w", err)
	}
	return nil
}
