package dataset

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var timeUnits = map[string]time.Duration{
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"d":       24 * time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"h":       time.Hour,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"min":     time.Minute,
	"second":  time.Second,
	"seconds": time.Second,
	"s":       time.Second,
}

var referenceLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:04:05",
	"2006-1-2",
}

// Calendars understood by DecodeTime and EncodeTime.
const (
	CalendarStandard = "standard"
	CalendarNoLeap   = "noleap"
)

// Calendar returns the canonical calendar of a time coordinate: standard for
// standard, gregorian, proleptic_gregorian or no attribute, noleap for noleap
// and 365_day. Other calendars are an error.
func Calendar(c *Coord) (string, error) {
	cal, ok := c.Attrs.String("calendar")
	if !ok {
		return CalendarStandard, nil
	}
	switch strings.ToLower(strings.TrimSpace(cal)) {
	case "", "standard", "gregorian", "proleptic_gregorian":
		return CalendarStandard, nil
	case "noleap", "365_day":
		return CalendarNoLeap, nil
	default:
		return "", fmt.Errorf("coordinate %s: unsupported calendar %q", c.Name, cal)
	}
}

// DecodeTime converts a CF encoded time coordinate ("<unit> since <date>")
// into UTC timestamps. Standard and noleap calendars are supported; noleap
// dates map onto the same year, month and day.
func DecodeTime(c *Coord) ([]time.Time, error) {
	if c.Categorical() {
		return nil, fmt.Errorf("coordinate %s is categorical", c.Name)
	}
	units, ok := c.Attrs.String("units")
	if !ok {
		return nil, fmt.Errorf("coordinate %s has no units", c.Name)
	}
	cal, err := Calendar(c)
	if err != nil {
		return nil, err
	}
	step, epoch, err := ParseTimeUnits(units)
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", c.Name, err)
	}
	out := make([]time.Time, len(c.Values))
	for i, v := range c.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("coordinate %s: non-finite time value at %d", c.Name, i)
		}
		offset := v * float64(step)
		if cal == CalendarNoLeap {
			out[i] = noLeapAdd(epoch, offset)
			continue
		}
		out[i] = epoch.Add(time.Duration(math.Round(offset)))
	}
	return out, nil
}

// EncodeTime is the inverse of DecodeTime: it expresses times as offsets in
// units under calendar.
func EncodeTime(times []time.Time, units, calendar string) ([]float64, error) {
	step, epoch, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(times))
	for i, t := range times {
		t = t.UTC()
		switch calendar {
		case CalendarStandard:
			out[i] = float64(t.Sub(epoch)) / float64(step)
		case CalendarNoLeap:
			if t.Month() == time.February && t.Day() == 29 {
				return nil, fmt.Errorf("%s does not exist in the noleap calendar", t.Format(time.DateOnly))
			}
			days := noLeapDay(t) - noLeapDay(epoch)
			clock := sinceMidnight(t) - sinceMidnight(epoch)
			out[i] = (float64(days)*float64(24*time.Hour) + float64(clock)) / float64(step)
		default:
			return nil, fmt.Errorf("unsupported calendar %q", calendar)
		}
	}
	return out, nil
}

var noLeapCumDays = [12]int64{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

// noLeapDay numbers t's date in a calendar of 365-day years.
func noLeapDay(t time.Time) int64 {
	return int64(t.Year())*365 + noLeapCumDays[t.Month()-1] + int64(t.Day()-1)
}

func sinceMidnight(t time.Time) time.Duration {
	y, m, d := t.Date()
	return t.Sub(time.Date(y, m, d, 0, 0, 0, 0, t.Location()))
}

// noLeapAdd adds offset nanoseconds to epoch counting 365-day years.
func noLeapAdd(epoch time.Time, offset float64) time.Time {
	const day = float64(24 * time.Hour)
	total := offset + float64(sinceMidnight(epoch))
	days := math.Floor(total / day)
	rem := total - days*day

	n := noLeapDay(epoch) + int64(days)
	year := n / 365
	doy := n % 365
	if doy < 0 {
		year--
		doy += 365
	}
	month := 11
	for month > 0 && noLeapCumDays[month] > doy {
		month--
	}
	date := time.Date(int(year), time.Month(month+1), int(doy-noLeapCumDays[month])+1, 0, 0, 0, 0, time.UTC)
	return date.Add(time.Duration(math.Round(rem)))
}

// ParseTimeUnits parses a CF "<unit> since <reference>" string.
func ParseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q: want \"<unit> since <date>\"", units)
	}
	step, ok := timeUnits[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("time units %q: unknown unit %q", units, unit)
	}
	ref = strings.TrimSpace(ref)
	for _, layout := range referenceLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("time units %q: cannot parse reference date %q", units, ref)
}
