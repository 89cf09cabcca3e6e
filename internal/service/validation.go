package service

import (
	"time"

	"tablebook/internal/model"
)

const minutesPerDay = 24 * 60

func (s *ReservationService) validateRequest(rest *model.Restaurant, req *model.ReservationRequest) error {
	const op = "create reservation"

	if req.PartySize <= 0 {
		return model.Validationf(op, "party size must be positive, got %d", req.PartySize)
	}
	if req.TimeSlot < 0 || req.TimeSlot >= minutesPerDay {
		return model.Validationf(op, "time slot %d is outside the day", int(req.TimeSlot))
	}
	if req.DurationMinutes < 0 {
		return model.Validationf(op, "duration must not be negative")
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = rest.DurationMinutes()
	}

	day, err := model.ParseDate(req.Date)
	if err != nil {
		return model.Validationf(op, "%v", err)
	}

	loc, err := rest.Location()
	if err != nil {
		return model.DatabaseErr(op, err)
	}

	if !rest.BusinessHours.IsOpen(day.Weekday(), req.TimeSlot) {
		return model.Validationf(op, "restaurant is closed at %s on %s", req.TimeSlot, req.Date)
	}

	return checkAdvance(rest, day, req.TimeSlot, loc, s.opts.Now())
}

// checkAdvance applies the restaurant's booking horizon to a slot in its own timezone.
func checkAdvance(rest *model.Restaurant, day time.Time, slot model.TimeSlot, loc *time.Location, now time.Time) error {
	const op = "create reservation"

	localNow := now.In(loc)
	startAt := slot.On(day, loc)
	if !startAt.After(localNow) {
		return model.Validationf(op, "%s %s is in the past", day.Format(model.DateLayout), slot)
	}

	if rest.MaxAdvanceDays > 0 {
		today := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, time.UTC)
		civil := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		if days := int(civil.Sub(today).Hours() / 24); days > rest.MaxAdvanceDays {
			return model.Validationf(op, "bookings open %d days ahead, %s is %d days away", rest.MaxAdvanceDays, day.Format(model.DateLayout), days)
		}
	}

	if rest.MinAdvanceHours > 0 {
		if lead := startAt.Sub(localNow); lead < time.Duration(rest.MinAdvanceHours)*time.Hour {
			return model.Validationf(op, "bookings require %d hours notice", rest.MinAdvanceHours)
		}
	}

	return nil
}
