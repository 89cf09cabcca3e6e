package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tablebook/internal/database"
	"tablebook/internal/model"
)

const restaurantColumns = `id, slug, name, timezone, business_hours, max_advance_days, min_advance_hours,
	reservation_duration_minutes, cancellation_hours_before, user_conflict_buffer_minutes,
	is_active, metadata, created_at, updated_at`

const tableColumns = `id, restaurant_id, name, min_capacity, capacity, is_active, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRestaurant(row rowScanner) (*model.Restaurant, error) {
	var (
		r        model.Restaurant
		hours    string
		metadata string
	)
	err := row.Scan(&r.ID, &r.Slug, &r.Name, &r.Timezone, &hours, &r.MaxAdvanceDays, &r.MinAdvanceHours,
		&r.ReservationDurationMinutes, &r.CancellationHoursBefore, &r.UserConflictBufferMinutes,
		&r.IsActive, &metadata, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if hours != "" {
		if err := json.Unmarshal([]byte(hours), &r.BusinessHours); err != nil {
			return nil, fmt.Errorf("decode business hours of %s: %w", r.ID, err)
		}
	}
	r.Metadata = decodeMetadata(metadata)
	return &r, nil
}

func scanTable(row rowScanner) (*model.Table, error) {
	var (
		t      model.Table
		status string
	)
	if err := row.Scan(&t.ID, &t.RestaurantID, &t.Name, &t.MinCapacity, &t.Capacity, &t.IsActive,
		&status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = model.TableStatus(status)
	return &t, nil
}

// GetRestaurant loads an active restaurant.
func (r *Repository) GetRestaurant(ctx context.Context, q database.Querier, id string) (*model.Restaurant, error) {
	row := q.QueryRowContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = ?`, id)
	return r.activeRestaurant("get restaurant", id, row)
}

// GetRestaurantBySlug loads an active restaurant by its public slug.
func (r *Repository) GetRestaurantBySlug(ctx context.Context, q database.Querier, slug string) (*model.Restaurant, error) {
	row := q.QueryRowContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE slug = ?`, slug)
	return r.activeRestaurant("get restaurant by slug", slug, row)
}

func (r *Repository) activeRestaurant(op, key string, row *sql.Row) (*model.Restaurant, error) {
	rest, err := scanRestaurant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf(op, "restaurant %s not found", key)
	}
	if err != nil {
		return nil, model.DatabaseErr(op, err)
	}
	if !rest.IsActive {
		return nil, model.NotFoundf(op, "restaurant %s is not active", key)
	}
	return rest, nil
}

// ListRestaurants returns every restaurant, active or not.
func (r *Repository) ListRestaurants(ctx context.Context, q database.Querier) ([]model.Restaurant, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY slug`)
	if err != nil {
		return nil, model.DatabaseErr("list restaurants", err)
	}
	defer rows.Close()

	var out []model.Restaurant
	for rows.Next() {
		rest, err := scanRestaurant(rows)
		if err != nil {
			return nil, model.DatabaseErr("list restaurants", err)
		}
		out = append(out, *rest)
	}
	if err := rows.Err(); err != nil {
		return nil, model.DatabaseErr("list restaurants", err)
	}
	return out, nil
}

// ListTables returns all tables of a restaurant, smallest first.
func (r *Repository) ListTables(ctx context.Context, q database.Querier, restaurantID string) ([]model.Table, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+tableColumns+` FROM restaurant_tables WHERE restaurant_id = ? ORDER BY capacity ASC, id ASC`,
		restaurantID)
	if err != nil {
		return nil, model.DatabaseErr("list tables", err)
	}
	return collectTables("list tables", rows)
}

func collectTables(op string, rows *sql.Rows) ([]model.Table, error) {
	defer rows.Close()
	tables := []model.Table{}
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, model.DatabaseErr(op, err)
		}
		tables = append(tables, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, model.DatabaseErr(op, err)
	}
	return tables, nil
}

// LockTable reads a table row under a row lock so concurrent writers for the same table
// serialize at the database.
func (r *Repository) LockTable(ctx context.Context, q database.Querier, tableID string) (*model.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM restaurant_tables WHERE id = ?` + q.Dialect().ForUpdate(q.InTransaction())
	t, err := scanTable(q.QueryRowContext(ctx, query, tableID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("lock table", "table %s not found", tableID)
	}
	if err != nil {
		return nil, model.DatabaseErr("lock table", err)
	}
	return t, nil
}

// SyncRestaurant upserts a restaurant and its tables, keeping created_at of existing rows
// and deactivating tables that are no longer listed.
func (r *Repository) SyncRestaurant(ctx context.Context, q database.Querier, rest *model.Restaurant, tables []model.Table) error {
	now := r.now()
	hours, err := json.Marshal(rest.BusinessHours)
	if err != nil {
		return fmt.Errorf("encode business hours of %s: %w", rest.ID, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO restaurants (id, slug, name, timezone, business_hours, max_advance_days, min_advance_hours,
			reservation_duration_minutes, cancellation_hours_before, user_conflict_buffer_minutes,
			is_active, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			timezone = excluded.timezone,
			business_hours = excluded.business_hours,
			max_advance_days = excluded.max_advance_days,
			min_advance_hours = excluded.min_advance_hours,
			reservation_duration_minutes = excluded.reservation_duration_minutes,
			cancellation_hours_before = excluded.cancellation_hours_before,
			user_conflict_buffer_minutes = excluded.user_conflict_buffer_minutes,
			is_active = excluded.is_active,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		rest.ID, rest.Slug, rest.Name, rest.Timezone, string(hours), rest.MaxAdvanceDays, rest.MinAdvanceHours,
		rest.ReservationDurationMinutes, rest.CancellationHoursBefore, rest.UserConflictBufferMinutes,
		rest.IsActive, encodeMetadata(rest.Metadata), now, now,
	)
	if err != nil {
		return fmt.Errorf("sync restaurant %s: %w", rest.ID, err)
	}

	seen := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		status := t.Status
		if status == "" {
			status = model.TableAvailable
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO restaurant_tables (id, restaurant_id, name, min_capacity, capacity, is_active, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				min_capacity = excluded.min_capacity,
				capacity = excluded.capacity,
				is_active = excluded.is_active,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			t.ID, rest.ID, t.Name, t.MinCapacity, t.Capacity, t.IsActive, string(status), now, now,
		)
		if err != nil {
			return fmt.Errorf("sync table %s: %w", t.ID, err)
		}
		seen[t.ID] = struct{}{}
	}

	existing, err := r.ListTables(ctx, q, rest.ID)
	if err != nil {
		return err
	}
	for _, t := range existing {
		if _, ok := seen[t.ID]; ok || !t.IsActive {
			continue
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE restaurant_tables SET is_active = ?, updated_at = ? WHERE id = ?`, false, now, t.ID); err != nil {
			return fmt.Errorf("deactivate table %s: %w", t.ID, err)
		}
	}
	return nil
}

// DeactivateRestaurantsExcept marks every restaurant whose id is not in keep inactive and
// returns the ids it changed.
func (r *Repository) DeactivateRestaurantsExcept(ctx context.Context, q database.Querier, keep []string) ([]string, error) {
	all, err := r.ListRestaurants(ctx, q)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	now := r.now()
	var changed []string
	for _, rest := range all {
		if _, ok := keepSet[rest.ID]; ok || !rest.IsActive {
			continue
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE restaurants SET is_active = ?, updated_at = ? WHERE id = ?`, false, now, rest.ID); err != nil {
			return nil, fmt.Errorf("deactivate restaurant %s: %w", rest.ID, err)
		}
		changed = append(changed, rest.ID)
	}
	return changed, nil
}
