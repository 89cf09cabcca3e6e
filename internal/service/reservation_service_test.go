package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/cache"
	"tablebook/internal/database"
	"tablebook/internal/events"
	"tablebook/internal/lock"
	"tablebook/internal/model"
	"tablebook/internal/repository"
)

const (
	bookingDate = "2026-03-14" // Saturday
	mondayDate  = "2026-03-16"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *ReservationService
	repo  *repository.Repository
	db    *database.DB
	mr    *miniredis.Miniredis
	cache *cache.Availability

	mu        sync.Mutex
	published []events.Event
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.published {
		out = append(out, e.Type)
	}
	return out
}

func openEveryDayButMonday() model.BusinessHours {
	hours := model.BusinessHours{}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d == time.Monday {
			continue
		}
		hours[d] = []model.HoursWindow{{Open: model.MustTimeSlot("12:00"), Close: model.MustTimeSlot("23:00")}}
	}
	return hours
}

func setupService(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := database.Open(ctx, database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "svc.db"),
	}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.New(&logger)
	require.NoError(t, repo.SyncRestaurant(ctx, db, &model.Restaurant{
		ID:                         "r1",
		Slug:                       "bistro",
		Name:                       "Bistro",
		Timezone:                   "UTC",
		BusinessHours:              openEveryDayButMonday(),
		MaxAdvanceDays:             30,
		MinAdvanceHours:            2,
		ReservationDurationMinutes: 90,
		CancellationHoursBefore:    24,
		IsActive:                   true,
	}, []model.Table{
		{ID: "t-2", Name: "Bar", MinCapacity: 1, Capacity: 2, IsActive: true},
		{ID: "t-4", Name: "Window", MinCapacity: 1, Capacity: 4, IsActive: true},
		{ID: "t-8", Name: "Hall", MinCapacity: 4, Capacity: 8, IsActive: true},
	}))
	require.NoError(t, repo.SyncRestaurant(ctx, db, &model.Restaurant{
		ID:                         "solo",
		Slug:                       "solo",
		Name:                       "One Table",
		Timezone:                   "UTC",
		BusinessHours:              openEveryDayButMonday(),
		MaxAdvanceDays:             30,
		ReservationDurationMinutes: 90,
		IsActive:                   true,
	}, []model.Table{
		{ID: "only", Name: "Only", MinCapacity: 1, Capacity: 4, IsActive: true},
	}))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{repo: repo, db: db, mr: mr}
	f.cache = cache.NewAvailability(rdb, time.Minute, &logger)
	bus := events.NewEventBus(&logger)
	bus.Subscribe("*", func(e events.Event) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.published = append(f.published, e)
		return nil
	})

	locks := lock.NewManager(rdb, lock.Config{TTL: 5 * time.Second, MaxAttempts: 3, Backoff: 10 * time.Millisecond}, &logger)
	f.svc = NewReservationService(repo, db, locks, f.cache, bus, Options{
		SlotIntervalMinutes: 30,
		Now:                 func() time.Time { return fixedNow },
	}, &logger)
	return f
}

func bookingRequest(restaurantID, date, slot string, party int, email string) model.ReservationRequest {
	return model.ReservationRequest{
		RestaurantID: restaurantID,
		User:         model.UserRef{Name: "Guest " + email, Email: email},
		Date:         date,
		TimeSlot:     model.MustTimeSlot(slot),
		PartySize:    party,
		Channel:      model.ChannelWeb,
	}
}

func TestCreateReservation_PicksSmallestTable(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	require.NoError(t, f.cache.Set(ctx, "r1", bookingDate, model.MustTimeSlot("19:00"), 2, []model.Table{{ID: "t-2"}}))

	res, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "19:00", 2, "ada@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "t-2", res.TableID)
	assert.Equal(t, model.StatusPending, res.Status)
	assert.Equal(t, 90, res.DurationMinutes)

	res3, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "19:00", 3, "bob@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "t-4", res3.TableID)

	assert.False(t, f.mr.Exists(cache.Key("r1", bookingDate, model.MustTimeSlot("19:00"), 2)), "commit invalidates the restaurant cache")
	assert.False(t, f.mr.Exists(lock.TableSlotKey("t-2", bookingDate, model.MustTimeSlot("19:00"))), "lock is released")
	assert.Equal(t, []string{events.ReservationCreated, events.ReservationCreated}, f.eventTypes())
}

func TestCreateReservation_Validation(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  model.ReservationRequest
	}{
		{"zero party", bookingRequest("r1", bookingDate, "19:00", 0, "a@example.com")},
		{"bad date", bookingRequest("r1", "14/03/2026", "19:00", 2, "a@example.com")},
		{"past", bookingRequest("r1", "2026-03-09", "19:00", 2, "a@example.com")},
		{"beyond horizon", bookingRequest("r1", "2026-04-20", "19:00", 2, "a@example.com")},
		{"inside minimum notice", bookingRequest("r1", "2026-03-10", "13:00", 2, "a@example.com")},
		{"before opening", bookingRequest("r1", bookingDate, "10:00", 2, "a@example.com")},
		{"closed day", bookingRequest("r1", mondayDate, "19:00", 2, "a@example.com")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateReservation(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	_, err := f.svc.CreateReservation(ctx, bookingRequest("r1", "2026-03-10", "15:00", 2, "a@example.com"))
	assert.NoError(t, err, "same-day booking outside the notice period is accepted")
}

func TestCreateReservation_UnknownRestaurant(t *testing.T) {
	f := setupService(t)
	_, err := f.svc.CreateReservation(context.Background(), bookingRequest("nope", bookingDate, "19:00", 2, "a@example.com"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCreateReservation_NoFittingTableIsConflictWithoutLocking(t *testing.T) {
	f := setupService(t)

	_, err := f.svc.CreateReservation(context.Background(), bookingRequest("r1", bookingDate, "19:00", 12, "a@example.com"))
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Empty(t, f.mr.Keys(), "no lock was taken")
}

func TestCreateReservation_ForeignLockIsConflict(t *testing.T) {
	f := setupService(t)
	key := lock.TableSlotKey("t-2", bookingDate, model.MustTimeSlot("19:00"))
	require.NoError(t, f.mr.Set(key, "another-process"))

	_, err := f.svc.CreateReservation(context.Background(), bookingRequest("r1", bookingDate, "19:00", 2, "a@example.com"))
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	v, _ := f.mr.Get(key)
	assert.Equal(t, "another-process", v)
}

// Two requests for the only table at one slot: exactly one pending reservation.
func TestCreateReservation_ConcurrentRequestsSingleTable(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   []*model.Reservation
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := bookingRequest("solo", bookingDate, "19:00", 2, "")
			req.User = model.UserRef{Name: "Racer", Phone: "+100000000" + string(rune('0'+i))}
			res, err := f.svc.CreateReservation(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created = append(created, res)
			case model.KindOf(err) == model.KindConflict:
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	require.Len(t, created, 1)
	assert.Equal(t, n-1, conflicts)

	day, err := f.repo.GetByRestaurantAndDate(ctx, f.db, "solo", bookingDate)
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, created[0].ID, day[0].ID)
}

// Many parties racing for a slot with several fitting tables: each table is booked at
// most once and every loser sees a conflict.
func TestCreateReservation_ConcurrentRequestsSeveralTables(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   []*model.Reservation
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := f.svc.CreateReservation(ctx,
				bookingRequest("r1", bookingDate, "19:00", 2, fmt.Sprintf("racer%d@example.com", i)))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created = append(created, res)
			case model.KindOf(err) == model.KindConflict:
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, others, "losers only ever see conflicts")
	require.NotEmpty(t, created)
	assert.LessOrEqual(t, len(created), 2, "only t-2 and t-4 seat a party of two")
	assert.Equal(t, n-len(created), conflicts)

	day, err := f.repo.GetByRestaurantAndDate(ctx, f.db, "r1", bookingDate)
	require.NoError(t, err)
	require.Len(t, day, len(created))
	for i := range day {
		assert.Contains(t, []string{"t-2", "t-4"}, day[i].TableID)
		for j := i + 1; j < len(day); j++ {
			if day[i].TableID == day[j].TableID {
				assert.False(t, day[i].OverlapsWith(&day[j]), "table %s double booked", day[i].TableID)
			}
		}
	}
}

// A user holding 19:00 may not also book 20:00 at the same restaurant.
func TestCreateReservation_UserConflictWithinBuffer(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	first, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "19:00", 2, "ada@example.com"))
	require.NoError(t, err)
	_, err = f.svc.ConfirmReservation(ctx, first.ID, bookingDate)
	require.NoError(t, err)

	_, err = f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "20:00", 2, "ada@example.com"))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "21:30", 2, "ada@example.com"))
	assert.NoError(t, err, "outside the buffer the same user may book again")

	_, err = f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "20:00", 2, "bob@example.com"))
	assert.NoError(t, err, "other users are not affected")
}

// Cancelling a reservation makes its table show up in availability again.
func TestCancelThenAvailabilityShowsTable(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	slot := model.MustTimeSlot("19:00")

	res, err := f.svc.CreateReservation(ctx, bookingRequest("solo", bookingDate, "19:00", 2, "ada@example.com"))
	require.NoError(t, err)

	before, err := f.svc.GetAvailability(ctx, "solo", bookingDate, 2)
	require.NoError(t, err)
	at := slotAt(t, before, slot)
	assert.False(t, at.Available)
	assert.True(t, f.mr.Exists(cache.Key("solo", bookingDate, slot, 2)), "availability is cached on read")

	cancelled, err := f.svc.CancelReservation(ctx, res.ID, bookingDate)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	after, err := f.svc.GetAvailability(ctx, "solo", bookingDate, 2)
	require.NoError(t, err)
	at = slotAt(t, after, slot)
	require.True(t, at.Available)
	assert.Equal(t, "only", at.Tables[0].ID)
}

// A booking made after availability was cached is visible on the next read.
func TestCreateThenAvailabilityHidesTable(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	slot := model.MustTimeSlot("19:00")
	key := cache.Key("solo", bookingDate, slot, 2)

	before, err := f.svc.GetAvailability(ctx, "solo", bookingDate, 2)
	require.NoError(t, err)
	require.True(t, slotAt(t, before, slot).Available)
	require.True(t, f.mr.Exists(key))

	_, err = f.svc.CreateReservation(ctx, bookingRequest("solo", bookingDate, "19:00", 2, "ada@example.com"))
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(key), "booking drops cached availability")

	after, err := f.svc.GetAvailability(ctx, "solo", bookingDate, 2)
	require.NoError(t, err)
	at := slotAt(t, after, slot)
	assert.False(t, at.Available)
	assert.Empty(t, at.Tables)
	assert.False(t, slotAt(t, after, model.MustTimeSlot("20:00")).Available, "overlapping slots are taken too")
	assert.True(t, slotAt(t, after, model.MustTimeSlot("20:30")).Available)
}

func slotAt(t *testing.T, slots []model.AvailableSlot, slot model.TimeSlot) model.AvailableSlot {
	t.Helper()
	for _, s := range slots {
		if s.TimeSlot == slot {
			return s
		}
	}
	t.Fatalf("slot %s not generated", slot)
	return model.AvailableSlot{}
}

func summarize(slots []model.AvailableSlot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		line := s.TimeSlot.String()
		if s.Available {
			line += " open"
		}
		for _, table := range s.Tables {
			line += " " + table.ID
		}
		out = append(out, line)
	}
	return out
}

func TestGetAvailability(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	first, err := f.svc.GetAvailability(ctx, "r1", bookingDate, 2)
	require.NoError(t, err)
	require.Len(t, first, 22, "12:00 to 22:30 every 30 minutes")
	assert.Equal(t, "12:00", first[0].TimeSlot.String())
	assert.Equal(t, "22:30", first[len(first)-1].TimeSlot.String())
	assert.Equal(t, []string{"t-2", "t-4"}, []string{first[0].Tables[0].ID, first[0].Tables[1].ID})

	second, err := f.svc.GetAvailability(ctx, "r1", bookingDate, 2)
	require.NoError(t, err)
	assert.Equal(t, summarize(first), summarize(second), "availability is idempotent without writes")

	today, err := f.svc.GetAvailability(ctx, "r1", "2026-03-10", 2)
	require.NoError(t, err)
	assert.False(t, slotAt(t, today, model.MustTimeSlot("12:30")).Available, "inside the notice period")
	assert.True(t, slotAt(t, today, model.MustTimeSlot("14:00")).Available)

	closed, err := f.svc.GetAvailability(ctx, "r1", mondayDate, 2)
	require.NoError(t, err)
	assert.Empty(t, closed)

	_, err = f.svc.GetAvailability(ctx, "r1", bookingDate, 0)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.GetAvailability(ctx, "r1", "not-a-date", 2)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.GetAvailability(ctx, "missing", bookingDate, 2)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	res, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "19:00", 2, "ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.CheckInReservation(ctx, res.ID, bookingDate)
	assert.ErrorIs(t, err, model.ErrValidation, "pending reservations cannot be checked in")

	confirmed, err := f.svc.ConfirmReservation(ctx, res.ID, bookingDate)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, confirmed.Status)

	_, err = f.svc.ConfirmReservation(ctx, res.ID, bookingDate)
	assert.ErrorIs(t, err, model.ErrValidation)

	checkedIn, err := f.svc.CheckInReservation(ctx, res.ID, bookingDate)
	require.NoError(t, err)
	require.NotNil(t, checkedIn.CheckedInAt)

	done, err := f.svc.CompleteReservation(ctx, res.ID, bookingDate)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)

	_, err = f.svc.CancelReservation(ctx, res.ID, bookingDate)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.ConfirmReservation(ctx, "missing", bookingDate)
	assert.ErrorIs(t, err, model.ErrNotFound)

	other, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "12:00", 2, "bob@example.com"))
	require.NoError(t, err)
	_, err = f.svc.ConfirmReservation(ctx, other.ID, "")
	require.NoError(t, err)
	noShow, err := f.svc.MarkNoShow(ctx, other.ID, bookingDate)
	require.NoError(t, err)
	require.NotNil(t, noShow.NoShowAt)

	assert.Equal(t, []string{
		events.ReservationCreated,
		events.ReservationConfirmed,
		events.ReservationCheckedIn,
		events.ReservationCompleted,
		events.ReservationCreated,
		events.ReservationConfirmed,
		events.ReservationNoShow,
	}, f.eventTypes())
}

func TestCancelReservation_Window(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	soon, err := f.svc.CreateReservation(ctx, bookingRequest("r1", "2026-03-10", "18:00", 2, "ada@example.com"))
	require.NoError(t, err)
	_, err = f.svc.CancelReservation(ctx, soon.ID, "2026-03-10")
	assert.ErrorIs(t, err, model.ErrValidation, "cancellations close 24 hours before")

	later, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "18:00", 2, "ada@example.com"))
	require.NoError(t, err)
	_, err = f.svc.CancelReservation(ctx, later.ID, bookingDate)
	assert.NoError(t, err)
}

func TestReservationListings(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	a, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "19:00", 2, "ada@example.com"))
	require.NoError(t, err)
	_, err = f.svc.CreateReservation(ctx, bookingRequest("r1", "2026-03-15", "13:00", 2, "ada@example.com"))
	require.NoError(t, err)
	_, err = f.svc.CreateReservation(ctx, bookingRequest("solo", bookingDate, "12:00", 2, "bob@example.com"))
	require.NoError(t, err)

	mine, err := f.svc.GetUserReservations(ctx, a.UserID, model.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, bookingDate, mine[0].Date)

	ranged, err := f.svc.GetRestaurantReservations(ctx, "r1", model.ReservationFilter{From: "2026-03-15", To: "2026-03-15"})
	require.NoError(t, err)
	require.Len(t, ranged, 1)

	_, err = f.svc.GetRestaurantReservations(ctx, "r1", model.ReservationFilter{From: "2026-03-16", To: "2026-03-15"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.GetRestaurantReservations(ctx, "r1", model.ReservationFilter{Statuses: []model.ReservationStatus{"bogus"}})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.svc.GetUserReservations(ctx, "", model.ReservationFilter{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestApplyRestaurantConfig(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.GetAvailability(ctx, "r1", bookingDate, 2)
	require.NoError(t, err)
	require.True(t, f.mr.Exists(cache.Key("r1", bookingDate, model.MustTimeSlot("19:00"), 2)))

	result, err := f.svc.ApplyRestaurantConfig(ctx, []RestaurantSync{{
		Restaurant: model.Restaurant{
			ID:                         "r1",
			Slug:                       "bistro",
			Name:                       "Bistro Renamed",
			Timezone:                   "UTC",
			BusinessHours:              openEveryDayButMonday(),
			MaxAdvanceDays:             30,
			ReservationDurationMinutes: 90,
			IsActive:                   true,
		},
		Tables: []model.Table{
			{ID: "t-4", Name: "Window", MinCapacity: 1, Capacity: 4, IsActive: true},
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, result.Synced)
	assert.Equal(t, []string{"solo"}, result.Deactivated)
	assert.Contains(t, f.eventTypes(), events.RestaurantsSynced)
	assert.False(t, f.mr.Exists(cache.Key("r1", bookingDate, model.MustTimeSlot("19:00"), 2)), "sync invalidates cached availability")

	res, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "19:00", 2, "ada@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "t-4", res.TableID, "removed tables are no longer offered")

	_, err = f.svc.CreateReservation(ctx, bookingRequest("solo", bookingDate, "19:00", 2, "bob@example.com"))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.ApplyRestaurantConfig(ctx, []RestaurantSync{{Restaurant: model.Restaurant{ID: "a"}}, {Restaurant: model.Restaurant{ID: "a"}}})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestPruneReservations(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	done, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "19:00", 2, "ada@example.com"))
	require.NoError(t, err)
	_, err = f.svc.CancelReservation(ctx, done.ID, bookingDate)
	require.NoError(t, err)
	active, err := f.svc.CreateReservation(ctx, bookingRequest("r1", bookingDate, "21:00", 2, "bob@example.com"))
	require.NoError(t, err)

	n, err := f.svc.PruneReservations(ctx, "2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := f.repo.GetByRestaurantAndDate(ctx, f.db, "r1", bookingDate)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, active.ID, left[0].ID)

	_, err = f.svc.PruneReservations(ctx, "yesterday")
	assert.ErrorIs(t, err, model.ErrValidation)
}
