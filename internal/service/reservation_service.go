package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tablebook/internal/database"
	"tablebook/internal/events"
	"tablebook/internal/lock"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/slots"
)

var tracer = otel.Tracer("tablebook/internal/service")

// Store is the persistence the booking core depends on. *repository.Repository implements it.
type Store interface {
	GetRestaurant(ctx context.Context, q database.Querier, id string) (*model.Restaurant, error)
	GetAvailableTables(ctx context.Context, q database.Querier, restaurantID, date string, slot model.TimeSlot, partySize, duration int) ([]model.Table, error)
	ResolveUser(ctx context.Context, q database.Querier, ref model.UserRef) (*model.User, error)
	CheckUserConflict(ctx context.Context, q database.Querier, userID, restaurantID, date string, slot model.TimeSlot, duration, buffer int) (bool, error)
	LockTable(ctx context.Context, q database.Querier, tableID string) (*model.Table, error)
	IsTableAvailable(ctx context.Context, q database.Querier, tableID, date string, slot model.TimeSlot, duration int) (bool, error)
	Create(ctx context.Context, q database.Querier, req model.ReservationRequest, tableID string) (*model.Reservation, error)
	GetByID(ctx context.Context, q database.Querier, id, date string) (*model.Reservation, error)
	UpdateStatus(ctx context.Context, q database.Querier, id, date string, status model.ReservationStatus) (*model.Reservation, error)
	GetByUserID(ctx context.Context, q database.Querier, userID string, filter model.ReservationFilter) ([]model.Reservation, error)
	GetByRestaurantID(ctx context.Context, q database.Querier, restaurantID string, filter model.ReservationFilter) ([]model.Reservation, error)
	SyncRestaurant(ctx context.Context, q database.Querier, rest *model.Restaurant, tables []model.Table) error
	DeactivateRestaurantsExcept(ctx context.Context, q database.Querier, keep []string) ([]string, error)
	DeleteOldReservations(ctx context.Context, q database.Querier, before string) (int64, error)
}

// DB runs queries directly or inside a transaction. *database.DB implements it.
type DB interface {
	database.Querier
	InTx(ctx context.Context, strict bool, fn func(tx *database.Tx) error) error
}

// AvailabilityCache is the advisory cache of candidate tables. *cache.Availability implements it.
type AvailabilityCache interface {
	Get(ctx context.Context, restaurantID, date string, slot model.TimeSlot, partySize int) ([]model.Table, bool)
	Set(ctx context.Context, restaurantID, date string, slot model.TimeSlot, partySize int, tables []model.Table) error
	InvalidateRestaurant(ctx context.Context, restaurantID string) (int64, error)
}

// Options tunes the orchestrator.
type Options struct {
	SlotIntervalMinutes       int
	UserConflictBufferMinutes int
	DefaultListLimit          int
	Now                       func() time.Time
}

// ReservationService runs the booking protocol and the reservation lifecycle.
type ReservationService struct {
	store     Store
	db        DB
	locks     *lock.Manager
	cache     AvailabilityCache
	bus       *events.EventBus
	generator *slots.Generator
	opts      Options
	logger    *zerolog.Logger
}

func NewReservationService(
	store Store,
	db DB,
	locks *lock.Manager,
	cache AvailabilityCache,
	bus *events.EventBus,
	opts Options,
	logger *zerolog.Logger,
) *ReservationService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.UserConflictBufferMinutes <= 0 {
		opts.UserConflictBufferMinutes = model.DefaultUserConflictBufferMinutes
	}
	if opts.DefaultListLimit <= 0 {
		opts.DefaultListLimit = 500
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ReservationService{
		store:     store,
		db:        db,
		locks:     locks,
		cache:     cache,
		bus:       bus,
		generator: slots.NewGenerator(opts.SlotIntervalMinutes),
		opts:      opts,
		logger:    logger,
	}
}

// CreateReservation books the smallest free table that fits the party. At most one
// reservation is ever created for a table and slot, across all processes.
func (s *ReservationService) CreateReservation(ctx context.Context, req model.ReservationRequest) (*model.Reservation, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "ReservationService.CreateReservation", trace.WithAttributes(
		attribute.String("restaurant_id", req.RestaurantID),
		attribute.String("date", req.Date),
		attribute.String("slot", req.TimeSlot.String()),
		attribute.Int("party_size", req.PartySize),
	))
	defer span.End()

	res, err := s.createReservation(ctx, req)
	metrics.ObserveBooking(started)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		metrics.ReservationCreated("cancelled")
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		s.logger.Debug().Err(err).
			Str("restaurant_id", req.RestaurantID).
			Str("date", req.Date).
			Str("slot", req.TimeSlot.String()).
			Msg("Reservation request abandoned by caller")
		return nil, err
	}
	if err != nil {
		kind := model.KindOf(err)
		metrics.ReservationCreated(kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())

		event := s.logger.Info()
		if kind == model.KindDatabase || kind == model.KindLockAcquisition {
			event = s.logger.Error()
		}
		event.Err(err).
			Str("restaurant_id", req.RestaurantID).
			Str("date", req.Date).
			Str("slot", req.TimeSlot.String()).
			Int("party_size", req.PartySize).
			Msg("Reservation rejected")
		return nil, err
	}

	metrics.ReservationCreated("created")
	span.SetAttributes(attribute.String("reservation_id", res.ID), attribute.String("table_id", res.TableID))
	s.logger.Info().
		Str("reservation_id", res.ID).
		Str("restaurant_id", res.RestaurantID).
		Str("table_id", res.TableID).
		Str("date", res.Date).
		Str("slot", res.TimeSlot.String()).
		Msg("Reservation created")

	s.bus.Publish(events.NewReservationEvent(events.ReservationCreated, res))
	return res, nil
}

func (s *ReservationService) createReservation(ctx context.Context, req model.ReservationRequest) (*model.Reservation, error) {
	const op = "create reservation"

	rest, err := s.store.GetRestaurant(ctx, s.db, req.RestaurantID)
	if err != nil {
		return nil, err
	}

	if err := s.validateRequest(rest, &req); err != nil {
		return nil, err
	}

	tables, err := s.store.GetAvailableTables(ctx, s.db, rest.ID, req.Date, req.TimeSlot, req.PartySize, req.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		metrics.ReservationConflict("no_table")
		return nil, model.Conflictf(op, "no table for %d guests at %s %s", req.PartySize, req.Date, req.TimeSlot)
	}
	table := tables[0]

	key := lock.TableSlotKey(table.ID, req.Date, req.TimeSlot)
	res, err := lock.WithLock(ctx, s.locks, key, func(ctx context.Context) (*model.Reservation, error) {
		res, err := s.reserveInTx(ctx, rest, req, table)
		if err != nil {
			return nil, err
		}
		s.invalidate(ctx, rest.ID)
		return res, nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			metrics.ReservationConflict("lock")
		}
		return nil, err
	}
	return res, nil
}

// reserveInTx re-checks everything under serializable isolation and inserts the
// pending reservation.
func (s *ReservationService) reserveInTx(ctx context.Context, rest *model.Restaurant, req model.ReservationRequest, table model.Table) (*model.Reservation, error) {
	const op = "create reservation"

	ctx, span := tracer.Start(ctx, "ReservationService.reserveInTx", trace.WithAttributes(attribute.String("table_id", table.ID)))
	defer span.End()

	var created *model.Reservation
	err := s.db.InTx(ctx, true, func(tx *database.Tx) error {
		user, err := s.store.ResolveUser(ctx, tx, req.User)
		if err != nil {
			return err
		}

		buffer := rest.ConflictBuffer(s.opts.UserConflictBufferMinutes)
		conflict, err := s.store.CheckUserConflict(ctx, tx, user.ID, rest.ID, req.Date, req.TimeSlot, req.DurationMinutes, buffer)
		if err != nil {
			return err
		}
		if conflict {
			metrics.ReservationConflict("user")
			return model.Validationf(op, "user already holds a reservation within %d minutes of %s on %s", buffer, req.TimeSlot, req.Date)
		}

		locked, err := s.store.LockTable(ctx, tx, table.ID)
		if err != nil {
			return err
		}
		if !locked.Bookable() {
			metrics.ReservationConflict("table_unavailable")
			return model.Conflictf(op, "table %s is no longer bookable", table.ID)
		}

		free, err := s.store.IsTableAvailable(ctx, tx, locked.ID, req.Date, req.TimeSlot, req.DurationMinutes)
		if err != nil {
			return err
		}
		if !free {
			metrics.ReservationConflict("recheck")
			return model.Conflictf(op, "table %s was booked at %s %s by another request", table.ID, req.Date, req.TimeSlot)
		}

		if req.PartySize > locked.Capacity {
			return model.Validationf(op, "party of %d exceeds capacity %d of table %s", req.PartySize, locked.Capacity, locked.ID)
		}

		resolved := req
		resolved.User.ID = user.ID
		created, err = s.store.Create(ctx, tx, resolved, locked.ID)
		return err
	})
	if err != nil {
		err = classifyTxError(op, err)
		if model.KindOf(err) == model.KindConflict && database.IsSerializationFailure(err) {
			metrics.ReservationConflict("serialization")
		}
		span.RecordError(err)
		return nil, err
	}
	return created, nil
}

// classifyTxError maps engine-level aborts to conflicts and leaves classified errors intact.
func classifyTxError(op string, err error) error {
	if database.IsSerializationFailure(err) || database.IsUniqueViolation(err) {
		if model.KindOf(err) == model.KindConflict {
			return err
		}
		return model.ConflictErr(op, err, "concurrent reservation detected")
	}
	var typed *model.Error
	if errors.As(err, &typed) {
		return err
	}
	return model.DatabaseErr(op, err)
}

func (s *ReservationService) invalidate(ctx context.Context, restaurantID string) {
	if s.cache == nil {
		return
	}
	// Detached from the caller: the write has already committed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := s.cache.InvalidateRestaurant(ctx, restaurantID); err != nil {
		s.logger.Warn().Err(err).Str("restaurant_id", restaurantID).Msg("Failed to invalidate availability cache")
	}
}

// GetAvailability lists every slot of the day with the tables that can seat partySize.
// The answer is advisory; CreateReservation re-checks under lock.
func (s *ReservationService) GetAvailability(ctx context.Context, restaurantID, date string, partySize int) ([]model.AvailableSlot, error) {
	const op = "get availability"

	ctx, span := tracer.Start(ctx, "ReservationService.GetAvailability", trace.WithAttributes(
		attribute.String("restaurant_id", restaurantID),
		attribute.String("date", date),
		attribute.Int("party_size", partySize),
	))
	defer span.End()

	if partySize <= 0 {
		return nil, model.Validationf(op, "party size must be positive, got %d", partySize)
	}
	day, err := model.ParseDate(date)
	if err != nil {
		return nil, model.Validationf(op, "%v", err)
	}

	rest, err := s.store.GetRestaurant(ctx, s.db, restaurantID)
	if err != nil {
		return nil, err
	}
	loc, err := rest.Location()
	if err != nil {
		return nil, model.DatabaseErr(op, err)
	}

	duration := rest.DurationMinutes()
	now := s.opts.Now()
	finder := slots.TableFinderFunc(func(ctx context.Context, slot model.TimeSlot) ([]model.Table, error) {
		if tables, ok := s.cache.Get(ctx, rest.ID, date, slot, partySize); ok {
			return tables, nil
		}
		tables, err := s.store.GetAvailableTables(ctx, s.db, rest.ID, date, slot, partySize, duration)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, rest.ID, date, slot, partySize, tables); err != nil {
			s.logger.Warn().Err(err).Str("restaurant_id", rest.ID).Str("date", date).Msg("Failed to cache availability")
		}
		return tables, nil
	})
	bookable := func(slot model.TimeSlot) bool {
		return checkAdvance(rest, day, slot, loc, now) == nil
	}

	result, err := s.generator.GenerateSlots(ctx, rest.BusinessHours.Windows(day.Weekday()), finder, bookable)
	if err != nil {
		span.RecordError(err)
		var typed *model.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, model.DatabaseErr(op, err)
	}
	return result, nil
}

// GetUserReservations lists a user's reservations.
func (s *ReservationService) GetUserReservations(ctx context.Context, userID string, filter model.ReservationFilter) ([]model.Reservation, error) {
	if userID == "" {
		return nil, model.Validationf("get user reservations", "user id is required")
	}
	filter, err := s.normalizeFilter("get user reservations", filter)
	if err != nil {
		return nil, err
	}
	return s.store.GetByUserID(ctx, s.db, userID, filter)
}

// GetRestaurantReservations lists a restaurant's reservations.
func (s *ReservationService) GetRestaurantReservations(ctx context.Context, restaurantID string, filter model.ReservationFilter) ([]model.Reservation, error) {
	filter, err := s.normalizeFilter("get restaurant reservations", filter)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetRestaurant(ctx, s.db, restaurantID); err != nil {
		return nil, err
	}
	return s.store.GetByRestaurantID(ctx, s.db, restaurantID, filter)
}

func (s *ReservationService) normalizeFilter(op string, f model.ReservationFilter) (model.ReservationFilter, error) {
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := model.ParseDate(d); err != nil {
			return f, model.Validationf(op, "%v", err)
		}
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		return f, model.Validationf(op, "from %s is after to %s", f.From, f.To)
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return f, model.Validationf(op, "unknown status %q", st)
		}
	}
	if f.Limit <= 0 || f.Limit > s.opts.DefaultListLimit {
		f.Limit = s.opts.DefaultListLimit
	}
	return f, nil
}

// GetRestaurant returns an active restaurant.
func (s *ReservationService) GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error) {
	return s.store.GetRestaurant(ctx, s.db, id)
}
