package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/database"
	"tablebook/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsAndEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TABLEBOOK_TEST_REDIS", "redis.internal:6380")
	path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "db", "tb.db")+`
redis:
  address: ${TABLEBOOK_TEST_REDIS}
booking:
  lock:
    ttl: 7s
    max_attempts: 5
    backoff: 25ms
  cache_ttl: 90s
  retention_days: 2
api:
  api_keys: [k1, k2]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, database.DriverSQLite, cfg.Database.Driver)
	assert.DirExists(t, filepath.Join(dir, "db"))
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Address)
	assert.Equal(t, 7*time.Second, cfg.Booking.Lock.TTL)
	assert.Equal(t, 5, cfg.Booking.Lock.MaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Booking.Lock.Backoff)
	assert.Equal(t, 90*time.Second, cfg.Booking.CacheTTL)
	assert.Equal(t, 30, cfg.Booking.SlotIntervalMinutes)
	assert.Equal(t, []string{"k1", "k2"}, cfg.API.APIKeys)
	assert.Equal(t, ":8080", cfg.API.Listen)
	assert.Equal(t, 48*time.Hour, cfg.Retention())
	assert.Equal(t, "configs/restaurants.yaml", cfg.RestaurantsConfigPath)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pg.yaml", `
database:
  driver: postgres
  dsn: postgres://localhost/tablebook
`)
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, database.DriverPostgres, cfg.Database.Driver)
	assert.Empty(t, cfg.Database.Path)
	assert.Zero(t, cfg.Retention())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

const restaurantsYAML = `
defaults:
  timezone: Europe/Rome
  max_advance_days: 30
  reservation_duration_minutes: 90
  hours:
    tue: ["12:00-15:00", "19:00-23:00"]
    sat: ["19:00-24:30"]
restaurants:
  - id: r1
    name: Bistro
    min_advance_hours: 2
    metadata:
      phone: "+39 000"
    tables:
      - id: t1
        capacity: 2
      - id: t2
        name: Terrace
        min_capacity: 2
        capacity: 6
        status: maintenance
  - id: r2
    slug: late-bar
    name: Late Bar
    is_active: false
    hours:
      fri: ["18:00-02:00"]
    tables:
      - id: b1
        capacity: 4
        is_active: false
`

func TestLoadRestaurantsConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "restaurants.yaml", restaurantsYAML)

	_, err := LoadRestaurantsConfig(path)
	require.Error(t, err, "fri window closes before it opens")

	fixed := writeFile(t, t.TempDir(), "restaurants.yaml",
		strings.Replace(restaurantsYAML, `"18:00-02:00"`, `"18:00-26:00"`, 1))
	cfg, err := LoadRestaurantsConfig(fixed)
	require.NoError(t, err)
	assert.Equal(t, "RestaurantsConfig: 2 restaurants, 3 tables", cfg.String())

	r1 := cfg.GetRestaurantByID("r1")
	require.NotNil(t, r1)
	rest, tables := r1.ToModel()
	assert.Equal(t, "r1", rest.Slug)
	assert.Equal(t, "Europe/Rome", rest.Timezone)
	assert.Equal(t, 30, rest.MaxAdvanceDays)
	assert.Equal(t, 2, rest.MinAdvanceHours)
	assert.Equal(t, 90, rest.ReservationDurationMinutes)
	assert.True(t, rest.IsActive)
	assert.Equal(t, "+39 000", rest.Metadata["phone"])
	assert.Equal(t, []model.HoursWindow{
		{Open: model.MustTimeSlot("12:00"), Close: model.MustTimeSlot("15:00")},
		{Open: model.MustTimeSlot("19:00"), Close: model.MustTimeSlot("23:00")},
	}, rest.BusinessHours.Windows(time.Tuesday))
	assert.Equal(t, model.TimeSlot(24*60+30), rest.BusinessHours.Windows(time.Saturday)[0].Close)
	assert.Empty(t, rest.BusinessHours.Windows(time.Monday))

	require.Len(t, tables, 2)
	assert.Equal(t, "t1", tables[0].Name)
	assert.Equal(t, 1, tables[0].MinCapacity)
	assert.Equal(t, model.TableAvailable, tables[0].Status)
	assert.Equal(t, model.TableMaintenance, tables[1].Status)

	r2, r2Tables := cfg.GetRestaurantByID("r2").ToModel()
	assert.False(t, r2.IsActive)
	assert.Equal(t, "late-bar", r2.Slug)
	assert.Empty(t, r2.BusinessHours.Windows(time.Tuesday), "explicit hours replace defaults")
	assert.False(t, r2Tables[0].IsActive)

	assert.Nil(t, cfg.GetRestaurantByID("missing"))
}

func TestRestaurantsConfig_Validate(t *testing.T) {
	valid := func() *RestaurantsConfig {
		return &RestaurantsConfig{Restaurants: []RestaurantConfig{{
			ID:     "r1",
			Slug:   "r1",
			Name:   "Bistro",
			Tables: []TableConfig{{ID: "t1", MinCapacity: 1, Capacity: 4, Status: "available"}},
		}}}
	}

	tests := []struct {
		name   string
		mutate func(c *RestaurantsConfig)
	}{
		{"no restaurants", func(c *RestaurantsConfig) { c.Restaurants = nil }},
		{"missing id", func(c *RestaurantsConfig) { c.Restaurants[0].ID = "" }},
		{"duplicate id", func(c *RestaurantsConfig) {
			dup := c.Restaurants[0]
			dup.Slug = "other"
			dup.Tables = []TableConfig{{ID: "t9", MinCapacity: 1, Capacity: 2, Status: "available"}}
			c.Restaurants = append(c.Restaurants, dup)
		}},
		{"bad slug", func(c *RestaurantsConfig) { c.Restaurants[0].Slug = "Has Spaces" }},
		{"unknown timezone", func(c *RestaurantsConfig) { c.Restaurants[0].Timezone = "Mars/Olympus" }},
		{"bad weekday", func(c *RestaurantsConfig) { c.Restaurants[0].Hours = HoursConfig{"funday": {"10:00-12:00"}} }},
		{"bad window", func(c *RestaurantsConfig) { c.Restaurants[0].Hours = HoursConfig{"mon": {"10:00"}} }},
		{"negative advance", func(c *RestaurantsConfig) { c.Restaurants[0].MaxAdvanceDays = intPtr(-1) }},
		{"no tables", func(c *RestaurantsConfig) { c.Restaurants[0].Tables = nil }},
		{"zero capacity", func(c *RestaurantsConfig) { c.Restaurants[0].Tables[0].Capacity = 0 }},
		{"min above capacity", func(c *RestaurantsConfig) { c.Restaurants[0].Tables[0].MinCapacity = 5 }},
		{"unknown status", func(c *RestaurantsConfig) { c.Restaurants[0].Tables[0].Status = "broken" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWatchRestaurants_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "restaurants.yaml", `
restaurants:
  - id: r1
    name: Bistro
    tables: [{id: t1, capacity: 2}]
`)

	var (
		mu    sync.Mutex
		names []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchRestaurants(ctx, path, 10*time.Millisecond, nil, func(_ context.Context, cfg *RestaurantsConfig) error {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, cfg.Restaurants[0].Name)
		return nil
	})
	require.NoError(t, err)

	// A broken file is ignored until it is fixed.
	require.NoError(t, os.WriteFile(path, []byte("restaurants: [{id: r1}]"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`
restaurants:
  - id: r1
    name: Bistro Nuovo
    tables: [{id: t1, capacity: 2}]
`), 0o644))
	later := future.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bistro", "Bistro Nuovo"}, names)
}

func TestWatchRestaurants_InitialLoadError(t *testing.T) {
	err := WatchRestaurants(context.Background(), filepath.Join(t.TempDir(), "none.yaml"), time.Second, nil,
		func(context.Context, *RestaurantsConfig) error { return nil })
	assert.Error(t, err)
}
