package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"tablebook/internal/database"
	"tablebook/internal/model"
)

const reservationColumns = `id, restaurant_id, user_id, table_id, reservation_date, start_minute, party_size,
	duration_minutes, status, channel, guest_name, notes, metadata, created_at, updated_at,
	confirmed_at, cancelled_at, checked_in_at, completed_at, no_show_at`

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		res                                   model.Reservation
		start                                 int
		status, channel, metadata             string
		confirmed, cancelled, checkedIn, done sql.NullTime
		noShow                                sql.NullTime
	)
	err := row.Scan(&res.ID, &res.RestaurantID, &res.UserID, &res.TableID, &res.Date, &start, &res.PartySize,
		&res.DurationMinutes, &status, &channel, &res.GuestName, &res.Notes, &metadata, &res.CreatedAt, &res.UpdatedAt,
		&confirmed, &cancelled, &checkedIn, &done, &noShow)
	if err != nil {
		return nil, err
	}
	res.TimeSlot = model.TimeSlot(start)
	res.Status = model.ReservationStatus(status)
	res.Channel = model.Channel(channel)
	res.Metadata = decodeMetadata(metadata)
	res.ConfirmedAt = timePtr(confirmed)
	res.CancelledAt = timePtr(cancelled)
	res.CheckedInAt = timePtr(checkedIn)
	res.CompletedAt = timePtr(done)
	res.NoShowAt = timePtr(noShow)
	return &res, nil
}

func collectReservations(op string, rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, model.DatabaseErr(op, err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, model.DatabaseErr(op, err)
	}
	return out, nil
}

// IsTableAvailable reports whether no active reservation on the table overlaps
// [slot, slot+duration) on date. Inside a transaction the matching rows are locked.
func (r *Repository) IsTableAvailable(ctx context.Context, q database.Querier, tableID, date string, slot model.TimeSlot, duration int) (bool, error) {
	query := `SELECT id FROM reservations
		WHERE table_id = ? AND reservation_date = ?
			AND status IN (` + activeStatusList + `)
			AND start_minute < ? AND end_minute > ?
		LIMIT 1` + q.Dialect().ForUpdate(q.InTransaction())

	var id string
	err := q.QueryRowContext(ctx, query, tableID, date, int(slot.Add(duration)), int(slot)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, model.DatabaseErr("check table availability", err)
	}
	return false, nil
}

// CheckUserConflict reports whether the user already holds an active reservation at the
// restaurant on date that starts less than buffer minutes from slot or overlaps the request.
func (r *Repository) CheckUserConflict(ctx context.Context, q database.Querier, userID, restaurantID, date string, slot model.TimeSlot, duration, buffer int) (bool, error) {
	if buffer <= 0 {
		buffer = model.DefaultUserConflictBufferMinutes
	}
	query := `SELECT id FROM reservations
		WHERE user_id = ? AND restaurant_id = ? AND reservation_date = ?
			AND status IN (` + activeStatusList + `)
			AND ((start_minute > ? AND start_minute < ?) OR (start_minute < ? AND end_minute > ?))
		LIMIT 1`

	var id string
	err := q.QueryRowContext(ctx, query, userID, restaurantID, date,
		int(slot)-buffer, int(slot)+buffer, int(slot.Add(duration)), int(slot)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, model.DatabaseErr("check user conflict", err)
	}
	return true, nil
}

// GetAvailableTables returns bookable tables that seat partySize and are free for
// [slot, slot+duration) on date, smallest capacity first and ties broken by id.
func (r *Repository) GetAvailableTables(ctx context.Context, q database.Querier, restaurantID, date string, slot model.TimeSlot, partySize, duration int) ([]model.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM restaurant_tables t
		WHERE t.restaurant_id = ? AND t.is_active = ? AND t.status <> ?
			AND t.capacity >= ? AND t.min_capacity <= ?
			AND NOT EXISTS (
				SELECT 1 FROM reservations r
				WHERE r.table_id = t.id AND r.reservation_date = ?
					AND r.status IN (` + activeStatusList + `)
					AND r.start_minute < ? AND r.end_minute > ?
			)
		ORDER BY t.capacity ASC, t.id ASC`

	rows, err := q.QueryContext(ctx, query, restaurantID, true, string(model.TableMaintenance),
		partySize, partySize, date, int(slot.Add(duration)), int(slot))
	if err != nil {
		return nil, model.DatabaseErr("get available tables", err)
	}
	return collectTables("get available tables", rows)
}

// Create resolves the requesting user and inserts a pending reservation on tableID.
func (r *Repository) Create(ctx context.Context, q database.Querier, req model.ReservationRequest, tableID string) (*model.Reservation, error) {
	user, err := r.ResolveUser(ctx, q, req.User)
	if err != nil {
		return nil, err
	}

	channel := req.Channel
	if channel == "" {
		channel = model.ChannelWeb
	}
	guestName := strings.TrimSpace(req.User.Name)
	if guestName == "" {
		guestName = user.Name
	}

	now := r.now()
	res := &model.Reservation{
		ID:              uuid.NewString(),
		RestaurantID:    req.RestaurantID,
		UserID:          user.ID,
		TableID:         tableID,
		Date:            req.Date,
		TimeSlot:        req.TimeSlot,
		PartySize:       req.PartySize,
		DurationMinutes: req.DurationMinutes,
		Status:          model.StatusPending,
		Channel:         channel,
		GuestName:       guestName,
		Notes:           req.Notes,
		Metadata:        req.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO reservations (id, restaurant_id, user_id, table_id, reservation_date, start_minute, end_minute,
			party_size, duration_minutes, status, channel, guest_name, notes, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.RestaurantID, res.UserID, res.TableID, res.Date, int(res.TimeSlot), int(res.EndSlot()),
		res.PartySize, res.DurationMinutes, string(res.Status), string(res.Channel), res.GuestName, res.Notes,
		encodeMetadata(res.Metadata), now, now,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, model.ConflictErr("create reservation", err, "table %s already reserved at %s %s", tableID, req.Date, req.TimeSlot)
		}
		return nil, model.DatabaseErr("create reservation", err)
	}
	return res, nil
}

var statusTimestampColumn = map[model.ReservationStatus]string{
	model.StatusConfirmed: "confirmed_at",
	model.StatusCancelled: "cancelled_at",
	model.StatusCheckedIn: "checked_in_at",
	model.StatusCompleted: "completed_at",
	model.StatusNoShow:    "no_show_at",
}

// UpdateStatus sets the status of a reservation and stamps the matching transition time.
// An empty date matches the reservation on any date.
func (r *Repository) UpdateStatus(ctx context.Context, q database.Querier, id, date string, status model.ReservationStatus) (*model.Reservation, error) {
	if !status.Valid() {
		return nil, model.Validationf("update status", "unknown status %q", status)
	}

	now := r.now()
	set := `status = ?, updated_at = ?`
	args := []any{string(status), now}
	if col, ok := statusTimestampColumn[status]; ok {
		set += `, ` + col + ` = ?`
		args = append(args, now)
	}

	where := `id = ?`
	args = append(args, id)
	if date != "" {
		where += ` AND reservation_date = ?`
		args = append(args, date)
	}

	result, err := q.ExecContext(ctx, `UPDATE reservations SET `+set+` WHERE `+where, args...)
	if err != nil {
		return nil, model.DatabaseErr("update status", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, model.NotFoundf("update status", "reservation %s not found", id)
	}
	return r.GetByID(ctx, q, id, date)
}

// GetByID loads a reservation, locking its row when q is a transaction.
func (r *Repository) GetByID(ctx context.Context, q database.Querier, id, date string) (*model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	args := []any{id}
	if date != "" {
		query += ` AND reservation_date = ?`
		args = append(args, date)
	}
	query += q.Dialect().ForUpdate(q.InTransaction())

	res, err := scanReservation(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("get reservation", "reservation %s not found", id)
	}
	if err != nil {
		return nil, model.DatabaseErr("get reservation", err)
	}
	return res, nil
}

func applyFilter(where string, args []any, f model.ReservationFilter) (string, []any) {
	if f.From != "" {
		where += ` AND reservation_date >= ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		where += ` AND reservation_date <= ?`
		args = append(args, f.To)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	where += ` ORDER BY reservation_date ASC, start_minute ASC, id ASC`
	if f.Limit > 0 {
		where += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return where, args
}

// GetByUserID lists a user's reservations across restaurants.
func (r *Repository) GetByUserID(ctx context.Context, q database.Querier, userID string, filter model.ReservationFilter) ([]model.Reservation, error) {
	where, args := applyFilter(`user_id = ?`, []any{userID}, filter)
	rows, err := q.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE `+where, args...)
	if err != nil {
		return nil, model.DatabaseErr("get user reservations", err)
	}
	return collectReservations("get user reservations", rows)
}

// GetByRestaurantID lists a restaurant's reservations.
func (r *Repository) GetByRestaurantID(ctx context.Context, q database.Querier, restaurantID string, filter model.ReservationFilter) ([]model.Reservation, error) {
	where, args := applyFilter(`restaurant_id = ?`, []any{restaurantID}, filter)
	rows, err := q.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE `+where, args...)
	if err != nil {
		return nil, model.DatabaseErr("get restaurant reservations", err)
	}
	return collectReservations("get restaurant reservations", rows)
}

// GetByRestaurantAndDate lists one restaurant-day ordered by slot.
func (r *Repository) GetByRestaurantAndDate(ctx context.Context, q database.Querier, restaurantID, date string) ([]model.Reservation, error) {
	return r.GetByRestaurantID(ctx, q, restaurantID, model.ReservationFilter{From: date, To: date})
}

// DeleteOldReservations removes finished reservations dated before the given date.
func (r *Repository) DeleteOldReservations(ctx context.Context, q database.Querier, before string) (int64, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM reservations WHERE reservation_date < ? AND status NOT IN (`+activeStatusList+`)`, before)
	if err != nil {
		return 0, model.DatabaseErr("delete old reservations", err)
	}
	n, _ := result.RowsAffected()
	r.logger.Debug().Int64("deleted", n).Str("before", before).Msg("Pruned old reservations")
	return n, nil
}
