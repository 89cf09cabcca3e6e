package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"tablebook/internal/model"
)

var reservationColumns = []string{
	"Time", "Until", "Table", "Party", "Status", "Guest", "Channel", "Notes", "Reservation ID", "Created",
}

// Filename names the workbook of a restaurant-day.
func Filename(slug, date string) string {
	return fmt.Sprintf("reservations_%s_%s.xlsx", slug, date)
}

// WriteRestaurantDay writes the reservations of one restaurant-day as an XLSX workbook
// with a detail sheet ordered by time and a per-status summary sheet.
func WriteRestaurantDay(out io.Writer, rest *model.Restaurant, date string, reservations []model.Reservation) error {
	loc, err := rest.Location()
	if err != nil {
		loc = time.UTC
	}

	rows := make([]model.Reservation, len(reservations))
	copy(rows, reservations)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TimeSlot != rows[j].TimeSlot {
			return rows[i].TimeSlot < rows[j].TimeSlot
		}
		return rows[i].TableID < rows[j].TableID
	})

	w := newSheetWriter()
	defer func() { _ = w.Close() }()

	if err := w.AddSheet(date); err != nil {
		return err
	}
	if err := w.WriteHeader(reservationColumns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.WriteRow([]any{
			r.TimeSlot.String(),
			r.EndSlot().String(),
			r.TableID,
			r.PartySize,
			string(r.Status),
			r.GuestName,
			string(r.Channel),
			r.Notes,
			r.ID,
			r.CreatedAt.In(loc).Format("2006-01-02 15:04"),
		}); err != nil {
			return fmt.Errorf("write reservation %s: %w", r.ID, err)
		}
	}

	if err := writeSummary(w, rows); err != nil {
		return err
	}
	return w.Save(out)
}

func writeSummary(w *sheetWriter, rows []model.Reservation) error {
	if err := w.AddSheet("Summary"); err != nil {
		return err
	}
	if err := w.WriteHeader([]string{"Status", "Reservations", "Guests"}); err != nil {
		return err
	}

	count := make(map[model.ReservationStatus]int)
	guests := make(map[model.ReservationStatus]int)
	for _, r := range rows {
		count[r.Status]++
		guests[r.Status] += r.PartySize
	}

	statuses := []model.ReservationStatus{
		model.StatusPending, model.StatusConfirmed, model.StatusCheckedIn,
		model.StatusCompleted, model.StatusCancelled, model.StatusNoShow,
	}
	for _, st := range statuses {
		if err := w.WriteRow([]any{string(st), count[st], guests[st]}); err != nil {
			return err
		}
	}
	return w.WriteRow([]any{"total", len(rows), totalGuests(rows)})
}

func totalGuests(rows []model.Reservation) int {
	n := 0
	for _, r := range rows {
		n += r.PartySize
	}
	return n
}
