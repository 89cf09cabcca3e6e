package slots

import (
	"context"
	"fmt"
	"sort"

	"tablebook/internal/model"
)

const DefaultInterval = 30

// TableFinder returns the tables that can take a booking starting at slot.
type TableFinder interface {
	FindTables(ctx context.Context, slot model.TimeSlot) ([]model.Table, error)
}

// TableFinderFunc adapts a function to TableFinder.
type TableFinderFunc func(ctx context.Context, slot model.TimeSlot) ([]model.Table, error)

func (f TableFinderFunc) FindTables(ctx context.Context, slot model.TimeSlot) ([]model.Table, error) {
	return f(ctx, slot)
}

// Generator lays fixed-interval slots over business hours.
type Generator struct {
	interval int
}

// NewGenerator creates a generator; a non-positive interval uses DefaultInterval.
func NewGenerator(intervalMinutes int) *Generator {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultInterval
	}
	return &Generator{interval: intervalMinutes}
}

func (g *Generator) Interval() int { return g.interval }

// lastStart bounds slot starts to the day; windows past midnight only extend the last seating.
const lastStart = model.TimeSlot(24 * 60)

// Times returns the slot starts for a day. A slot is emitted when slot+interval fits
// before the window close. Overlapping windows do not produce duplicates.
func (g *Generator) Times(windows []model.HoursWindow) []model.TimeSlot {
	seen := make(map[model.TimeSlot]struct{})
	var out []model.TimeSlot
	for _, w := range windows {
		for cursor := w.Open; cursor.Add(g.interval) <= w.Close && cursor < lastStart; cursor = cursor.Add(g.interval) {
			if _, ok := seen[cursor]; ok {
				continue
			}
			seen[cursor] = struct{}{}
			out = append(out, cursor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GenerateSlots builds the availability answer for each slot of the day. bookable
// rejects slots that advance rules exclude; those are reported unavailable without
// consulting finder.
func (g *Generator) GenerateSlots(ctx context.Context, windows []model.HoursWindow, finder TableFinder, bookable func(model.TimeSlot) bool) ([]model.AvailableSlot, error) {
	times := g.Times(windows)
	result := make([]model.AvailableSlot, 0, len(times))

	for _, slot := range times {
		if bookable != nil && !bookable(slot) {
			result = append(result, model.AvailableSlot{TimeSlot: slot, Tables: []model.Table{}})
			continue
		}

		tables, err := finder.FindTables(ctx, slot)
		if err != nil {
			return nil, fmt.Errorf("find tables at %s: %w", slot, err)
		}
		if tables == nil {
			tables = []model.Table{}
		}
		result = append(result, model.AvailableSlot{
			TimeSlot:  slot,
			Available: len(tables) > 0,
			Tables:    tables,
		})
	}

	return result, nil
}

// AvailableOnly filters slots down to those that can be booked.
func AvailableOnly(slots []model.AvailableSlot) []model.AvailableSlot {
	var available []model.AvailableSlot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}
