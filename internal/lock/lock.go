package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

// Client is the subset of the redis client the lock manager needs.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// ErrNotAcquired is returned by WithLock when the retry budget is exhausted.
var ErrNotAcquired = errors.New("lock not acquired")

// Config bounds lock lifetime and acquisition retries.
type Config struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 50 * time.Millisecond
	}
	return c
}

// Manager grants time-limited exclusive ownership of keys in the lock store.
type Manager struct {
	client Client
	cfg    Config
	logger *zerolog.Logger
}

func NewManager(client Client, cfg Config, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// TableSlotKey names the lock guarding one table at one slot.
func TableSlotKey(tableID, date string, slot model.TimeSlot) string {
	return fmt.Sprintf("lock:table:%s:%s:%s", tableID, date, slot)
}

// Acquire sets key to token if absent, expiring after ttl.
func (m *Manager) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes key only if token still owns it.
func (m *Manager) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.client, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return n == 1, nil
}

// Extend resets the expiry of key to ttl only if token still owns it.
func (m *Manager) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, m.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", key, err)
	}
	return n == 1, nil
}

// AcquireWithRetry tries up to maxAttempts times, sleeping backoff*attempt between tries.
func (m *Manager) AcquireWithRetry(ctx context.Context, key, token string, ttl time.Duration, maxAttempts int, backoff time.Duration) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ok, err := m.Acquire(ctx, key, token, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	return false, nil
}

// WithLock runs fn while holding key. The lock is released when fn returns or panics,
// even if ctx has been cancelled by then.
func WithLock[T any](ctx context.Context, m *Manager, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	token := uuid.NewString()

	ok, err := m.AcquireWithRetry(ctx, key, token, m.cfg.TTL, m.cfg.MaxAttempts, m.cfg.Backoff)
	if err != nil {
		// A caller that went away while waiting is not contention.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			metrics.LockAcquire("cancelled")
			return zero, fmt.Errorf("acquire lock %s: %w", key, ctxErr)
		}
		metrics.LockAcquire("error")
		return zero, model.LockErr("acquire lock", err)
	}
	if !ok {
		metrics.LockAcquire("contended")
		return zero, model.ConflictErr("acquire lock", ErrNotAcquired, "resource is being reserved by another request")
	}
	metrics.LockAcquire("acquired")

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		released, err := m.Release(releaseCtx, key, token)
		switch {
		case err != nil:
			m.logger.Error().Err(err).Str("key", key).Msg("Failed to release lock")
		case !released:
			m.logger.Warn().Str("key", key).Msg("Lock expired before release")
		}
	}()

	return fn(ctx)
}
