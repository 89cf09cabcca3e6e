package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCheckedIn ReservationStatus = "checked_in"
	StatusCompleted ReservationStatus = "completed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusNoShow    ReservationStatus = "no_show"
)

// ActiveStatuses hold their table for the reserved interval.
var ActiveStatuses = []ReservationStatus{StatusPending, StatusConfirmed, StatusCheckedIn}

// IsActive reports whether the status occupies a table.
func (s ReservationStatus) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Channel is where a reservation request originated.
type Channel string

const (
	ChannelWeb       Channel = "web"
	ChannelPhone     Channel = "phone"
	ChannelWalkIn    Channel = "walk_in"
	ChannelChat      Channel = "chat"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelEmail     Channel = "email"
	ChannelAPI       Channel = "api"
)

// Reservation occupies its table for [TimeSlot, TimeSlot+DurationMinutes) on Date.
type Reservation struct {
	ID              string            `json:"id"`
	RestaurantID    string            `json:"restaurant_id"`
	UserID          string            `json:"user_id"`
	TableID         string            `json:"table_id"`
	Date            string            `json:"date"`
	TimeSlot        TimeSlot          `json:"time_slot"`
	PartySize       int               `json:"party_size"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          ReservationStatus `json:"status"`
	Channel         Channel           `json:"channel"`
	GuestName       string            `json:"guest_name,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CheckedInAt     *time.Time        `json:"checked_in_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	NoShowAt        *time.Time        `json:"no_show_at,omitempty"`
}

// EndSlot is the exclusive end of the occupied interval.
func (r *Reservation) EndSlot() TimeSlot {
	return r.TimeSlot.Add(r.DurationMinutes)
}

// OverlapsWith reports whether both reservations claim the same table time.
func (r *Reservation) OverlapsWith(other *Reservation) bool {
	if r.TableID != other.TableID || r.Date != other.Date {
		return false
	}
	return Overlaps(r.TimeSlot, r.DurationMinutes, other.TimeSlot, other.DurationMinutes)
}

// ReservationRequest is the input of the booking protocol.
type ReservationRequest struct {
	RestaurantID    string            `json:"restaurant_id"`
	User            UserRef           `json:"user"`
	Date            string            `json:"date"`
	TimeSlot        TimeSlot          `json:"time_slot"`
	PartySize       int               `json:"party_size"`
	DurationMinutes int               `json:"duration_minutes,omitempty"`
	Channel         Channel           `json:"channel,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ReservationFilter narrows reservation listings. Zero values mean no constraint.
type ReservationFilter struct {
	From     string
	To       string
	Statuses []ReservationStatus
	Limit    int
}

// AvailableSlot is the advisory answer for one generated time slot.
type AvailableSlot struct {
	TimeSlot  TimeSlot `json:"time_slot"`
	Available bool     `json:"available"`
	Tables    []Table  `json:"tables"`
}
