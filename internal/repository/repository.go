package repository

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/model"
)

// activeStatusList is the SQL literal form of model.ActiveStatuses.
var activeStatusList = func() string {
	quoted := make([]string, len(model.ActiveStatuses))
	for i, s := range model.ActiveStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}()

// Repository is the data access layer of the booking core. Every method takes a
// database.Querier so callers decide whether it runs inside their transaction.
type Repository struct {
	logger *zerolog.Logger
	now    func() time.Time
}

func New(logger *zerolog.Logger) *Repository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Repository{logger: logger, now: time.Now}
}

// WithClock overrides the timestamp source used for created/updated columns.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeMetadata(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
