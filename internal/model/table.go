package model

import "time"

// TableStatus is the operational state of a table.
type TableStatus string

const (
	TableAvailable   TableStatus = "available"
	TableOccupied    TableStatus = "occupied"
	TableReserved    TableStatus = "reserved"
	TableMaintenance TableStatus = "maintenance"
)

// Table is a bookable resource. One table satisfies one reservation per slot.
type Table struct {
	ID           string      `json:"id"`
	RestaurantID string      `json:"restaurant_id"`
	Name         string      `json:"name"`
	MinCapacity  int         `json:"min_capacity"`
	Capacity     int         `json:"capacity"`
	IsActive     bool        `json:"is_active"`
	Status       TableStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Fits reports whether the table can seat partySize guests.
func (t *Table) Fits(partySize int) bool {
	return partySize <= t.Capacity && partySize >= t.MinCapacity
}

// Bookable reports whether the table may be offered at all.
func (t *Table) Bookable() bool {
	return t.IsActive && t.Status != TableMaintenance
}
