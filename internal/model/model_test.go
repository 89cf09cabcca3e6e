package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseTimeSlot(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeSlot
		wantErr bool
	}{
		{"00:00", 0, false},
		{"19:00", 19 * 60, false},
		{"09:30", 9*60 + 30, false},
		{" 23:59 ", 23*60 + 59, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"1900", 0, true},
		{"ab:cd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeSlot(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeSlot_StringAndJSON(t *testing.T) {
	slot := MustTimeSlot("07:05")
	assert.Equal(t, "07:05", slot.String())
	assert.Equal(t, "08:35", slot.Add(90).String())

	data, err := json.Marshal(struct {
		Slot TimeSlot `json:"slot"`
	}{slot})
	require.NoError(t, err)
	assert.JSONEq(t, `{"slot":"07:05"}`, string(data))

	var decoded struct {
		Slot TimeSlot `json:"slot"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"slot":"19:30"}`), &decoded))
	assert.Equal(t, MustTimeSlot("19:30"), decoded.Slot)

	assert.Error(t, json.Unmarshal([]byte(`{"slot":"7pm"}`), &decoded))
}

func TestTimeSlot_On(t *testing.T) {
	loc, err := time.LoadLocation("UTC")
	require.NoError(t, err)
	date, err := ParseDate("2026-02-15")
	require.NoError(t, err)

	at := MustTimeSlot("19:00").On(date, loc)
	assert.Equal(t, time.Date(2026, 2, 15, 19, 0, 0, 0, loc), at)
}

func TestOverlaps(t *testing.T) {
	s := MustTimeSlot
	assert.True(t, Overlaps(s("19:00"), 90, s("20:00"), 90))
	assert.True(t, Overlaps(s("19:00"), 90, s("18:00"), 61))
	assert.True(t, Overlaps(s("19:00"), 90, s("19:15"), 15))
	assert.False(t, Overlaps(s("19:00"), 90, s("20:30"), 90), "end boundary is exclusive")
	assert.False(t, Overlaps(s("19:00"), 60, s("18:00"), 60))
}

func TestReservation_OverlapsWith(t *testing.T) {
	base := Reservation{TableID: "t1", Date: "2026-02-15", TimeSlot: MustTimeSlot("19:00"), DurationMinutes: 90}

	same := base
	same.TimeSlot = MustTimeSlot("20:00")
	assert.True(t, base.OverlapsWith(&same))

	otherTable := same
	otherTable.TableID = "t2"
	assert.False(t, base.OverlapsWith(&otherTable))

	otherDay := same
	otherDay.Date = "2026-02-16"
	assert.False(t, base.OverlapsWith(&otherDay))

	assert.Equal(t, MustTimeSlot("20:30"), base.EndSlot())
}

func TestBusinessHours_IsOpen(t *testing.T) {
	hours := BusinessHours{
		time.Friday: {
			{Open: MustTimeSlot("12:00"), Close: MustTimeSlot("15:00")},
			{Open: MustTimeSlot("18:00"), Close: MustTimeSlot("23:00")},
		},
	}

	assert.True(t, hours.IsOpen(time.Friday, MustTimeSlot("12:00")))
	assert.True(t, hours.IsOpen(time.Friday, MustTimeSlot("19:00")))
	assert.False(t, hours.IsOpen(time.Friday, MustTimeSlot("16:00")))
	assert.False(t, hours.IsOpen(time.Friday, MustTimeSlot("23:00")))
	assert.False(t, hours.IsOpen(time.Monday, MustTimeSlot("19:00")))
	assert.False(t, BusinessHours(nil).IsOpen(time.Friday, MustTimeSlot("19:00")))
}

func TestParseClosingTime(t *testing.T) {
	closeAt, err := ParseClosingTime("26:30")
	require.NoError(t, err)
	assert.Equal(t, TimeSlot(26*60+30), closeAt)
	assert.Equal(t, "26:30", closeAt.String())

	_, err = ParseClosingTime("31:00")
	assert.Error(t, err)
	_, err = ParseTimeSlot("24:00")
	assert.Error(t, err)
}

func TestHoursWindow_DecodePastMidnight(t *testing.T) {
	hours := BusinessHours{
		time.Saturday: {{Open: MustTimeSlot("18:00"), Close: TimeSlot(26 * 60)}},
	}
	data, err := json.Marshal(hours)
	require.NoError(t, err)

	var decoded BusinessHours
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, hours, decoded)

	var w HoursWindow
	require.NoError(t, yaml.Unmarshal([]byte("open: \"19:00\"\nclose: \"24:00\"\n"), &w))
	assert.Equal(t, HoursWindow{Open: MustTimeSlot("19:00"), Close: TimeSlot(24 * 60)}, w)

	assert.Error(t, json.Unmarshal([]byte(`{"open":"24:00","close":"26:00"}`), &w))
}

func TestRestaurant_Defaults(t *testing.T) {
	r := Restaurant{}
	assert.Equal(t, 90, r.DurationMinutes())
	assert.Equal(t, DefaultUserConflictBufferMinutes, r.ConflictBuffer(0))
	assert.Equal(t, 60, r.ConflictBuffer(60))

	r.UserConflictBufferMinutes = 30
	assert.Equal(t, 30, r.ConflictBuffer(60))

	loc, err := r.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	r.Timezone = "Not/AZone"
	_, err = r.Location()
	assert.Error(t, err)
}

func TestTable_Fits(t *testing.T) {
	table := Table{MinCapacity: 2, Capacity: 4, IsActive: true, Status: TableAvailable}
	assert.True(t, table.Fits(2))
	assert.True(t, table.Fits(4))
	assert.False(t, table.Fits(1))
	assert.False(t, table.Fits(5))
	assert.True(t, table.Bookable())

	table.Status = TableMaintenance
	assert.False(t, table.Bookable())
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from  ReservationStatus
		to    ReservationStatus
		valid bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCheckedIn, false},
		{StatusConfirmed, StatusCheckedIn, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusConfirmed, false},
		{StatusCheckedIn, StatusCompleted, true},
		{StatusCheckedIn, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusNoShow, StatusCheckedIn, false},
		{StatusPending, StatusPending, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestReservationStatus_IsActive(t *testing.T) {
	assert.True(t, StatusPending.IsActive())
	assert.True(t, StatusConfirmed.IsActive())
	assert.True(t, StatusCheckedIn.IsActive())
	assert.False(t, StatusCancelled.IsActive())
	assert.False(t, StatusCompleted.IsActive())
	assert.False(t, StatusNoShow.IsActive())
	assert.False(t, ReservationStatus("bogus").Valid())
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("could not serialize access")
	tests := []struct {
		name     string
		err      error
		kind     Kind
		sentinel error
	}{
		{"validation", Validationf("create", "date %s is in the past", "2020-01-01"), KindValidation, ErrValidation},
		{"conflict", ConflictErr("create", cause, "slot taken"), KindConflict, ErrConflict},
		{"not found", NotFoundf("get", "restaurant %s", "r1"), KindNotFound, ErrNotFound},
		{"lock", LockErr("acquire", cause), KindLockAcquisition, ErrLockAcquisition},
		{"database", DatabaseErr("insert", cause), KindDatabase, ErrDatabase},
		{"wrapped", fmt.Errorf("outer: %w", Conflictf("create", "busy")), KindConflict, ErrConflict},
		{"bare sentinel", fmt.Errorf("x: %w", ErrNotFound), KindNotFound, ErrNotFound},
		{"unknown", errors.New("boom"), KindDatabase, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, tt.err, tt.sentinel)
			}
		})
	}

	err := ConflictErr("create", cause, "slot taken")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "create: slot taken: could not serialize access", err.Error())
	assert.NotErrorIs(t, err, ErrValidation)

	var typed *Error
	require.ErrorAs(t, err, &typed)
	assert.True(t, typed.Retryable())

	assert.True(t, IsClientError(Validationf("op", "bad")))
	assert.True(t, IsClientError(NotFoundf("op", "missing")))
	assert.False(t, IsClientError(Conflictf("op", "taken")))
}
