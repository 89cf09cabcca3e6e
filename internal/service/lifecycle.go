package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tablebook/internal/database"
	"tablebook/internal/events"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

func (s *ReservationService) ConfirmReservation(ctx context.Context, id, date string) (*model.Reservation, error) {
	return s.transition(ctx, id, date, model.StatusConfirmed)
}

// CancelReservation cancels a pending or confirmed reservation, honouring the
// restaurant's cancellation window.
func (s *ReservationService) CancelReservation(ctx context.Context, id, date string) (*model.Reservation, error) {
	return s.transition(ctx, id, date, model.StatusCancelled)
}

func (s *ReservationService) CheckInReservation(ctx context.Context, id, date string) (*model.Reservation, error) {
	return s.transition(ctx, id, date, model.StatusCheckedIn)
}

func (s *ReservationService) CompleteReservation(ctx context.Context, id, date string) (*model.Reservation, error) {
	return s.transition(ctx, id, date, model.StatusCompleted)
}

func (s *ReservationService) MarkNoShow(ctx context.Context, id, date string) (*model.Reservation, error) {
	return s.transition(ctx, id, date, model.StatusNoShow)
}

func (s *ReservationService) transition(ctx context.Context, id, date string, target model.ReservationStatus) (*model.Reservation, error) {
	op := "set reservation " + string(target)

	ctx, span := tracer.Start(ctx, "ReservationService.transition", trace.WithAttributes(
		attribute.String("reservation_id", id),
		attribute.String("status", string(target)),
	))
	defer span.End()

	if id == "" {
		return nil, model.Validationf(op, "reservation id is required")
	}
	if date != "" {
		if _, err := model.ParseDate(date); err != nil {
			return nil, model.Validationf(op, "%v", err)
		}
	}

	var updated *model.Reservation
	err := s.db.InTx(ctx, false, func(tx *database.Tx) error {
		current, err := s.store.GetByID(ctx, tx, id, date)
		if err != nil {
			return err
		}
		if !model.ValidTransition(current.Status, target) {
			return model.Validationf(op, "reservation %s cannot move from %s to %s", id, current.Status, target)
		}
		if target == model.StatusCancelled {
			if err := s.checkCancellationWindow(ctx, tx, current); err != nil {
				return err
			}
		}
		updated, err = s.store.UpdateStatus(ctx, tx, id, current.Date, target)
		return err
	})
	if err != nil {
		err = classifyTxError(op, err)
		span.RecordError(err)
		return nil, err
	}

	s.invalidate(ctx, updated.RestaurantID)
	metrics.Transition(string(target))
	s.logger.Info().
		Str("reservation_id", updated.ID).
		Str("restaurant_id", updated.RestaurantID).
		Str("status", string(target)).
		Msg("Reservation status changed")
	s.bus.Publish(events.NewReservationEvent(events.TypeForStatus(target), updated))
	return updated, nil
}

func (s *ReservationService) checkCancellationWindow(ctx context.Context, q database.Querier, res *model.Reservation) error {
	rest, err := s.store.GetRestaurant(ctx, q, res.RestaurantID)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rest.CancellationHoursBefore <= 0 {
		return nil
	}

	loc, err := rest.Location()
	if err != nil {
		return model.DatabaseErr("cancel reservation", err)
	}
	day, err := model.ParseDate(res.Date)
	if err != nil {
		return model.DatabaseErr("cancel reservation", err)
	}
	startAt := res.TimeSlot.On(day, loc)
	if startAt.Sub(s.opts.Now()) < time.Duration(rest.CancellationHoursBefore)*time.Hour {
		return model.Validationf("cancel reservation", "cancellations close %d hours before the reservation", rest.CancellationHoursBefore)
	}
	return nil
}
