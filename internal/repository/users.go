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

const userColumns = `id, name, email, phone, is_guest, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u            model.User
		email, phone sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Name, &email, &phone, &u.IsGuest, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Phone = phone.String
	return &u, nil
}

// GetUser loads a user by id.
func (r *Repository) GetUser(ctx context.Context, q database.Querier, id string) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("get user", "user %s not found", id)
	}
	if err != nil {
		return nil, model.DatabaseErr("get user", err)
	}
	return u, nil
}

func (r *Repository) findUser(ctx context.Context, q database.Querier, column, value string) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.DatabaseErr("find user", err)
	}
	return u, nil
}

// ResolveUser maps a request's user reference to a stored user. An explicit id must exist;
// otherwise the user is matched by email, then phone, and a guest user is created when
// neither matches. Guests without contact details get synthesized unique values.
func (r *Repository) ResolveUser(ctx context.Context, q database.Querier, ref model.UserRef) (*model.User, error) {
	if ref.ID != "" {
		return r.GetUser(ctx, q, ref.ID)
	}

	email := strings.ToLower(strings.TrimSpace(ref.Email))
	phone := strings.TrimSpace(ref.Phone)

	if email != "" {
		u, err := r.findUser(ctx, q, "email", email)
		if err != nil || u != nil {
			return u, err
		}
	}
	if phone != "" {
		u, err := r.findUser(ctx, q, "phone", phone)
		if err != nil || u != nil {
			return u, err
		}
	}

	id := uuid.NewString()
	if email == "" {
		email = "guest-" + id + "@guest.tablebook.invalid"
	}
	if phone == "" {
		phone = "guest-" + id
	}
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		name = "Guest"
	}

	now := r.now()
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, name, email, phone, is_guest, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, nullString(email), nullString(phone), true, now, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, model.ConflictErr("resolve user", err, "user %s is being created concurrently", email)
		}
		return nil, model.DatabaseErr("create guest user", err)
	}

	r.logger.Debug().Str("user_id", id).Msg("Created guest user")
	return &model.User{ID: id, Name: name, Email: email, Phone: phone, IsGuest: true, CreatedAt: now, UpdatedAt: now}, nil
}
