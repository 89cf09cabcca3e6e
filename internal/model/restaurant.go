package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultUserConflictBufferMinutes is the window around a requested slot in which a user
// may not hold another reservation at the same restaurant.
const DefaultUserConflictBufferMinutes = 120

// HoursWindow is one open interval of a business day. Close may exceed 24:00 for
// venues open past midnight.
type HoursWindow struct {
	Open  TimeSlot `json:"open" yaml:"open"`
	Close TimeSlot `json:"close" yaml:"close"`
}

type windowText struct {
	Open  string `json:"open" yaml:"open"`
	Close string `json:"close" yaml:"close"`
}

func (t windowText) parse() (HoursWindow, error) {
	open, err := ParseTimeSlot(t.Open)
	if err != nil {
		return HoursWindow{}, err
	}
	closeAt, err := ParseClosingTime(t.Close)
	if err != nil {
		return HoursWindow{}, err
	}
	return HoursWindow{Open: open, Close: closeAt}, nil
}

func (w *HoursWindow) UnmarshalJSON(data []byte) error {
	var text windowText
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	parsed, err := text.parse()
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

func (w *HoursWindow) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var text windowText
	if err := unmarshal(&text); err != nil {
		return err
	}
	parsed, err := text.parse()
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Contains reports whether slot starts inside the window.
func (w HoursWindow) Contains(slot TimeSlot) bool {
	return slot >= w.Open && slot < w.Close
}

// BusinessHours maps each weekday to its ordered open windows. A missing or empty
// entry means the restaurant is closed that day.
type BusinessHours map[time.Weekday][]HoursWindow

// Windows returns the open windows for a weekday.
func (h BusinessHours) Windows(day time.Weekday) []HoursWindow {
	if h == nil {
		return nil
	}
	return h[day]
}

// IsOpen reports whether a reservation may start at slot on day.
func (h BusinessHours) IsOpen(day time.Weekday, slot TimeSlot) bool {
	for _, w := range h.Windows(day) {
		if w.Contains(slot) {
			return true
		}
	}
	return false
}

// Restaurant is the booking configuration of a venue. It is read once per request.
type Restaurant struct {
	ID                         string            `json:"id"`
	Slug                       string            `json:"slug"`
	Name                       string            `json:"name"`
	Timezone                   string            `json:"timezone"`
	BusinessHours              BusinessHours     `json:"business_hours"`
	MaxAdvanceDays             int               `json:"max_advance_days"`
	MinAdvanceHours            int               `json:"min_advance_hours"`
	ReservationDurationMinutes int               `json:"reservation_duration_minutes"`
	CancellationHoursBefore    int               `json:"cancellation_hours_before"`
	UserConflictBufferMinutes  int               `json:"user_conflict_buffer_minutes"`
	IsActive                   bool              `json:"is_active"`
	Metadata                   map[string]string `json:"metadata,omitempty"`
	CreatedAt                  time.Time         `json:"created_at"`
	UpdatedAt                  time.Time         `json:"updated_at"`
}

// Location resolves the restaurant timezone, falling back to UTC when unset.
func (r *Restaurant) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("restaurant %s: load timezone %q: %w", r.ID, r.Timezone, err)
	}
	return loc, nil
}

// DurationMinutes returns the configured reservation length, defaulting to 90 minutes.
func (r *Restaurant) DurationMinutes() int {
	if r.ReservationDurationMinutes <= 0 {
		return 90
	}
	return r.ReservationDurationMinutes
}

// ConflictBuffer returns the per-restaurant user conflict window, or fallback when unset.
func (r *Restaurant) ConflictBuffer(fallback int) int {
	if r.UserConflictBufferMinutes > 0 {
		return r.UserConflictBufferMinutes
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultUserConflictBufferMinutes
}
