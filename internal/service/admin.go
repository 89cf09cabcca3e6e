package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"tablebook/internal/database"
	"tablebook/internal/events"
	"tablebook/internal/model"
)

// RestaurantSync is one restaurant with the complete list of its tables.
type RestaurantSync struct {
	Restaurant model.Restaurant
	Tables     []model.Table
}

// SyncResult reports what ApplyRestaurantConfig changed.
type SyncResult struct {
	Synced      []string `json:"synced"`
	Deactivated []string `json:"deactivated"`
}

// ApplyRestaurantConfig makes the stored restaurants match the given set in one
// transaction. Restaurants missing from the set are deactivated, never deleted, so
// their reservations stay readable.
func (s *ReservationService) ApplyRestaurantConfig(ctx context.Context, restaurants []RestaurantSync) (*SyncResult, error) {
	const op = "apply restaurant config"

	ids := make([]string, 0, len(restaurants))
	seen := make(map[string]struct{}, len(restaurants))
	for _, r := range restaurants {
		if r.Restaurant.ID == "" {
			return nil, model.Validationf(op, "restaurant without id")
		}
		if _, dup := seen[r.Restaurant.ID]; dup {
			return nil, model.Validationf(op, "restaurant %s listed twice", r.Restaurant.ID)
		}
		seen[r.Restaurant.ID] = struct{}{}
		ids = append(ids, r.Restaurant.ID)
	}

	result := &SyncResult{Synced: ids}
	err := s.db.InTx(ctx, false, func(tx *database.Tx) error {
		for i := range restaurants {
			rest := restaurants[i].Restaurant
			if err := s.store.SyncRestaurant(ctx, tx, &rest, restaurants[i].Tables); err != nil {
				return err
			}
		}
		deactivated, err := s.store.DeactivateRestaurantsExcept(ctx, tx, ids)
		if err != nil {
			return err
		}
		result.Deactivated = deactivated
		return nil
	})
	if err != nil {
		return nil, classifyTxError(op, err)
	}

	for _, id := range ids {
		s.invalidate(ctx, id)
	}
	for _, id := range result.Deactivated {
		s.invalidate(ctx, id)
	}

	s.logger.Info().
		Int("synced", len(result.Synced)).
		Strs("deactivated", result.Deactivated).
		Msg("Restaurant configuration applied")

	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode sync event")
		return result, nil
	}
	s.bus.Publish(events.Event{
		ID:        uuid.NewString(),
		Type:      events.RestaurantsSynced,
		Payload:   payload,
		CreatedAt: s.opts.Now(),
	})
	return result, nil
}

// PruneReservations deletes finished reservations dated before the given day.
// Active reservations are never removed.
func (s *ReservationService) PruneReservations(ctx context.Context, before string) (int64, error) {
	const op = "prune reservations"

	if _, err := model.ParseDate(before); err != nil {
		return 0, model.Validationf(op, "%v", err)
	}
	n, err := s.store.DeleteOldReservations(ctx, s.db, before)
	if err != nil {
		return 0, classifyTxError(op, err)
	}
	s.logger.Info().Str("before", before).Int64("deleted", n).Msg("Old reservations pruned")
	return n, nil
}

// PruneOlderThan deletes finished reservations older than the retention period.
func (s *ReservationService) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.opts.Now().UTC().Add(-retention).Format(model.DateLayout)
	return s.PruneReservations(ctx, cutoff)
}
