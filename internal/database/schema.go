package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS restaurants (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		business_hours TEXT NOT NULL DEFAULT '{}',
		max_advance_days INTEGER NOT NULL DEFAULT 30,
		min_advance_hours INTEGER NOT NULL DEFAULT 0,
		reservation_duration_minutes INTEGER NOT NULL DEFAULT 90,
		cancellation_hours_before INTEGER NOT NULL DEFAULT 0,
		user_conflict_buffer_minutes INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT {{true}},
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS restaurant_tables (
		id TEXT PRIMARY KEY,
		restaurant_id TEXT NOT NULL REFERENCES restaurants(id),
		name TEXT NOT NULL,
		min_capacity INTEGER NOT NULL DEFAULT 1,
		capacity INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT {{true}},
		status TEXT NOT NULL DEFAULT 'available',
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL,
		UNIQUE (restaurant_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT,
		phone TEXT,
		is_guest BOOLEAN NOT NULL DEFAULT {{true}},
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		restaurant_id TEXT NOT NULL REFERENCES restaurants(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		table_id TEXT NOT NULL REFERENCES restaurant_tables(id),
		reservation_date TEXT NOT NULL,
		start_minute INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		party_size INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		channel TEXT NOT NULL DEFAULT 'web',
		guest_name TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL,
		confirmed_at {{timestamp}},
		cancelled_at {{timestamp}},
		checked_in_at {{timestamp}},
		completed_at {{timestamp}},
		no_show_at {{timestamp}}
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tables_restaurant ON restaurant_tables(restaurant_id, capacity)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users(email)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_phone ON users(phone)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_table_date ON reservations(table_id, reservation_date, status)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_restaurant_date ON reservations(restaurant_id, reservation_date)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations(user_id, restaurant_id, reservation_date)`,
	// Last line of defence against double booking should both locks be bypassed.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_reservations_active_slot
		ON reservations(table_id, reservation_date, start_minute)
		WHERE status IN ('pending', 'confirmed', 'checked_in')`,
}

func (db *DB) migrate(ctx context.Context) error {
	r := db.dialect.schemaReplacer()
	for i, stmt := range schema {
		if _, err := db.DB.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
