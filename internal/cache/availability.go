package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

// Client is the subset of the redis client used by the availability cache.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

const scanBatch = 200

// Availability caches candidate table lists per restaurant, date, slot and party size.
// Entries are written on read-miss and dropped for a whole restaurant after each commit.
type Availability struct {
	client Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewAvailability(client Client, ttl time.Duration, logger *zerolog.Logger) *Availability {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Availability{client: client, ttl: ttl, logger: logger}
}

func Key(restaurantID, date string, slot model.TimeSlot, partySize int) string {
	return fmt.Sprintf("availability:%s:%s:%s:%d", restaurantID, date, slot, partySize)
}

func restaurantPattern(restaurantID string) string {
	return "availability:" + restaurantID + ":*"
}

// Get returns the cached tables and whether the entry existed. Store and decode
// failures are reported as a miss.
func (a *Availability) Get(ctx context.Context, restaurantID, date string, slot model.TimeSlot, partySize int) ([]model.Table, bool) {
	if a == nil || a.client == nil {
		return nil, false
	}
	key := Key(restaurantID, date, slot, partySize)
	val, err := a.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			a.logger.Warn().Err(err).Str("key", key).Msg("Availability cache read failed")
			metrics.CacheResult("error")
		} else {
			metrics.CacheResult("miss")
		}
		return nil, false
	}

	var tables []model.Table
	if err := json.Unmarshal([]byte(val), &tables); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable availability entry")
		metrics.CacheResult("error")
		return nil, false
	}
	metrics.CacheResult("hit")
	return tables, true
}

// Set stores tables under the slot key with the configured TTL.
func (a *Availability) Set(ctx context.Context, restaurantID, date string, slot model.TimeSlot, partySize int, tables []model.Table) error {
	if a == nil || a.client == nil {
		return nil
	}
	if tables == nil {
		tables = []model.Table{}
	}
	data, err := json.Marshal(tables)
	if err != nil {
		return fmt.Errorf("encode availability: %w", err)
	}
	key := Key(restaurantID, date, slot, partySize)
	if err := a.client.Set(ctx, key, data, a.ttl).Err(); err != nil {
		return fmt.Errorf("write availability %s: %w", key, err)
	}
	return nil
}

// InvalidateRestaurant deletes every cached entry of a restaurant and returns how many
// keys were removed.
func (a *Availability) InvalidateRestaurant(ctx context.Context, restaurantID string) (int64, error) {
	if a == nil || a.client == nil {
		return 0, nil
	}

	var (
		cursor  uint64
		deleted int64
	)
	pattern := restaurantPattern(restaurantID)
	for {
		keys, next, err := a.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			metrics.CacheResult("invalidate_error")
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := a.client.Del(ctx, keys...).Result()
			if err != nil {
				metrics.CacheResult("invalidate_error")
				return deleted, fmt.Errorf("delete %d keys of %s: %w", len(keys), pattern, err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	metrics.CacheResult("invalidated")
	a.logger.Debug().Str("restaurant_id", restaurantID).Int64("keys", deleted).Msg("Availability cache invalidated")
	return deleted, nil
}
