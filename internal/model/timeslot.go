package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of reservation dates.
const DateLayout = "2006-01-02"

// TimeSlot is a time of day expressed in minutes since midnight.
type TimeSlot int

// ParseTimeSlot parses "HH:MM" into a TimeSlot.
func ParseTimeSlot(s string) (TimeSlot, error) {
	return parseClock(s, 23)
}

// ParseClosingTime parses the closing "HH:MM" of a business window. Hours run up to 30
// so a window can end past midnight.
func ParseClosingTime(s string) (TimeSlot, error) {
	return parseClock(s, 30)
}

func parseClock(s string, maxHour int) (TimeSlot, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format %q, expected HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > maxHour {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}

	return TimeSlot(hour*60 + minute), nil
}

// MustTimeSlot is ParseTimeSlot for constants; it panics on malformed input.
func MustTimeSlot(s string) TimeSlot {
	t, err := ParseTimeSlot(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String renders the slot as "HH:MM".
func (t TimeSlot) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Add returns the slot shifted by d minutes.
func (t TimeSlot) Add(minutes int) TimeSlot {
	return t + TimeSlot(minutes)
}

// On places the slot on the given civil date in loc.
func (t TimeSlot) On(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), int(t)/60, int(t)%60, 0, 0, loc)
}

func (t TimeSlot) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeSlot) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeSlot(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeSlot) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

func (t *TimeSlot) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseTimeSlot(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// Overlaps reports whether [aStart, aStart+aDur) and [bStart, bStart+bDur) intersect.
// Uses half-open interval semantics.
func Overlaps(aStart TimeSlot, aDur int, bStart TimeSlot, bDur int) bool {
	return aStart < bStart.Add(bDur) && bStart < aStart.Add(aDur)
}
