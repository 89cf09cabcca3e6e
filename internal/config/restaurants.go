package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tablebook/internal/model"
)

// TableConfig represents a single table of a restaurant.
type TableConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	MinCapacity int    `yaml:"min_capacity"`
	Capacity    int    `yaml:"capacity"`
	Status      string `yaml:"status,omitempty"`
	IsActive    *bool  `yaml:"is_active,omitempty"`
}

// HoursConfig maps a weekday key (mon..sun) to "HH:MM-HH:MM" windows. An empty
// list closes the restaurant for that day.
type HoursConfig map[string][]string

// RestaurantConfig represents a single restaurant configuration.
type RestaurantConfig struct {
	ID                         string            `yaml:"id"`
	Slug                       string            `yaml:"slug"`
	Name                       string            `yaml:"name"`
	Timezone                   string            `yaml:"timezone,omitempty"`
	Hours                      HoursConfig       `yaml:"hours,omitempty"`
	MaxAdvanceDays             *int              `yaml:"max_advance_days,omitempty"`
	MinAdvanceHours            *int              `yaml:"min_advance_hours,omitempty"`
	ReservationDurationMinutes *int              `yaml:"reservation_duration_minutes,omitempty"`
	CancellationHoursBefore    *int              `yaml:"cancellation_hours_before,omitempty"`
	UserConflictBufferMinutes  int               `yaml:"user_conflict_buffer_minutes,omitempty"`
	IsActive                   *bool             `yaml:"is_active,omitempty"`
	Metadata                   map[string]string `yaml:"metadata,omitempty"`
	Tables                     []TableConfig     `yaml:"tables"`
}

// DefaultsConfig holds values applied to restaurants that leave them unset.
type DefaultsConfig struct {
	Timezone                   string      `yaml:"timezone"`
	Hours                      HoursConfig `yaml:"hours"`
	MaxAdvanceDays             int         `yaml:"max_advance_days"`
	MinAdvanceHours            int         `yaml:"min_advance_hours"`
	ReservationDurationMinutes int         `yaml:"reservation_duration_minutes"`
	CancellationHoursBefore    int         `yaml:"cancellation_hours_before"`
}

// RestaurantsConfig is the root configuration for restaurants.yaml.
type RestaurantsConfig struct {
	Restaurants []RestaurantConfig `yaml:"restaurants"`
	Defaults    DefaultsConfig     `yaml:"defaults"`
}

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

	weekdays = map[string]time.Weekday{
		"sun": time.Sunday,
		"mon": time.Monday,
		"tue": time.Tuesday,
		"wed": time.Wednesday,
		"thu": time.Thursday,
		"fri": time.Friday,
		"sat": time.Saturday,
	}
)

// LoadRestaurantsConfig loads and validates restaurants configuration from YAML file.
func LoadRestaurantsConfig(path string) (*RestaurantsConfig, error) {
	if path == "" {
		path = "configs/restaurants.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read restaurants config: %w", err)
	}

	var cfg RestaurantsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse restaurants config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate restaurants config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills unset restaurant fields from the defaults section.
func (c *RestaurantsConfig) applyDefaults() {
	d := c.Defaults
	for i := range c.Restaurants {
		r := &c.Restaurants[i]
		if r.Timezone == "" {
			r.Timezone = d.Timezone
		}
		if r.Hours == nil {
			r.Hours = d.Hours
		}
		if r.Slug == "" {
			r.Slug = strings.ToLower(r.ID)
		}
		if r.MaxAdvanceDays == nil {
			r.MaxAdvanceDays = intPtr(d.MaxAdvanceDays)
		}
		if r.MinAdvanceHours == nil {
			r.MinAdvanceHours = intPtr(d.MinAdvanceHours)
		}
		if r.ReservationDurationMinutes == nil {
			r.ReservationDurationMinutes = intPtr(d.ReservationDurationMinutes)
		}
		if r.CancellationHoursBefore == nil {
			r.CancellationHoursBefore = intPtr(d.CancellationHoursBefore)
		}
		for j := range r.Tables {
			t := &r.Tables[j]
			if t.MinCapacity == 0 {
				t.MinCapacity = 1
			}
			if t.Name == "" {
				t.Name = t.ID
			}
			if t.Status == "" {
				t.Status = string(model.TableAvailable)
			}
		}
	}
}

func intPtr(v int) *int { return &v }

// Validate checks the configuration for errors.
func (c *RestaurantsConfig) Validate() error {
	if len(c.Restaurants) == 0 {
		return fmt.Errorf("no restaurants defined")
	}

	ids := make(map[string]bool)
	slugs := make(map[string]bool)
	tableIDs := make(map[string]bool)

	for i, r := range c.Restaurants {
		if r.ID == "" {
			return fmt.Errorf("restaurant[%d]: id is required", i)
		}
		if ids[r.ID] {
			return fmt.Errorf("restaurant[%d]: duplicate id '%s'", i, r.ID)
		}
		ids[r.ID] = true

		if r.Name == "" {
			return fmt.Errorf("restaurant[%d]: name is required", i)
		}
		if !slugPattern.MatchString(r.Slug) {
			return fmt.Errorf("restaurant[%d]: invalid slug '%s'", i, r.Slug)
		}
		if slugs[r.Slug] {
			return fmt.Errorf("restaurant[%d]: duplicate slug '%s'", i, r.Slug)
		}
		slugs[r.Slug] = true

		if r.Timezone != "" {
			if _, err := time.LoadLocation(r.Timezone); err != nil {
				return fmt.Errorf("restaurant[%d]: unknown timezone '%s'", i, r.Timezone)
			}
		}
		if _, err := r.Hours.Parse(); err != nil {
			return fmt.Errorf("restaurant[%d].hours: %w", i, err)
		}

		for name, v := range map[string]*int{
			"max_advance_days":             r.MaxAdvanceDays,
			"min_advance_hours":            r.MinAdvanceHours,
			"reservation_duration_minutes": r.ReservationDurationMinutes,
			"cancellation_hours_before":    r.CancellationHoursBefore,
		} {
			if v != nil && *v < 0 {
				return fmt.Errorf("restaurant[%d]: %s cannot be negative", i, name)
			}
		}
		if r.UserConflictBufferMinutes < 0 {
			return fmt.Errorf("restaurant[%d]: user_conflict_buffer_minutes cannot be negative", i)
		}

		if len(r.Tables) == 0 {
			return fmt.Errorf("restaurant[%d]: no tables defined", i)
		}
		for j, t := range r.Tables {
			prefix := fmt.Sprintf("restaurant[%d].tables[%d]", i, j)
			if t.ID == "" {
				return fmt.Errorf("%s: id is required", prefix)
			}
			if tableIDs[t.ID] {
				return fmt.Errorf("%s: duplicate table id '%s'", prefix, t.ID)
			}
			tableIDs[t.ID] = true

			if t.Capacity <= 0 {
				return fmt.Errorf("%s: capacity must be positive", prefix)
			}
			if t.MinCapacity < 1 || t.MinCapacity > t.Capacity {
				return fmt.Errorf("%s: min_capacity must be between 1 and capacity", prefix)
			}
			switch model.TableStatus(t.Status) {
			case model.TableAvailable, model.TableOccupied, model.TableReserved, model.TableMaintenance:
			default:
				return fmt.Errorf("%s: unknown status '%s'", prefix, t.Status)
			}
		}
	}

	return nil
}

// Parse converts the configured windows into business hours, sorted by opening time.
// Close may be "24:00" or later for venues open past midnight.
func (h HoursConfig) Parse() (model.BusinessHours, error) {
	hours := model.BusinessHours{}
	for key, windows := range h {
		day, ok := weekdays[strings.ToLower(key)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday '%s', expected mon..sun", key)
		}
		parsed := make([]model.HoursWindow, 0, len(windows))
		for _, w := range windows {
			open, closeAt, found := strings.Cut(w, "-")
			if !found {
				return nil, fmt.Errorf("%s: invalid window '%s', expected HH:MM-HH:MM", key, w)
			}
			start, err := model.ParseTimeSlot(open)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			end, err := model.ParseClosingTime(closeAt)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if end <= start {
				return nil, fmt.Errorf("%s: window '%s' closes before it opens", key, w)
			}
			parsed = append(parsed, model.HoursWindow{Open: start, Close: end})
		}
		sort.Slice(parsed, func(i, j int) bool { return parsed[i].Open < parsed[j].Open })
		hours[day] = parsed
	}
	return hours, nil
}

// ToModel converts a validated restaurant into its stored form.
func (r RestaurantConfig) ToModel() (model.Restaurant, []model.Table) {
	hours, _ := r.Hours.Parse()
	rest := model.Restaurant{
		ID:                        r.ID,
		Slug:                      r.Slug,
		Name:                      r.Name,
		Timezone:                  r.Timezone,
		BusinessHours:             hours,
		UserConflictBufferMinutes: r.UserConflictBufferMinutes,
		IsActive:                  r.IsActive == nil || *r.IsActive,
		Metadata:                  r.Metadata,
	}
	if r.MaxAdvanceDays != nil {
		rest.MaxAdvanceDays = *r.MaxAdvanceDays
	}
	if r.MinAdvanceHours != nil {
		rest.MinAdvanceHours = *r.MinAdvanceHours
	}
	if r.ReservationDurationMinutes != nil {
		rest.ReservationDurationMinutes = *r.ReservationDurationMinutes
	}
	if r.CancellationHoursBefore != nil {
		rest.CancellationHoursBefore = *r.CancellationHoursBefore
	}

	tables := make([]model.Table, 0, len(r.Tables))
	for _, t := range r.Tables {
		tables = append(tables, model.Table{
			ID:           t.ID,
			RestaurantID: r.ID,
			Name:         t.Name,
			MinCapacity:  t.MinCapacity,
			Capacity:     t.Capacity,
			IsActive:     t.IsActive == nil || *t.IsActive,
			Status:       model.TableStatus(t.Status),
		})
	}
	return rest, tables
}

// GetRestaurantByID returns restaurant config by ID.
func (c *RestaurantsConfig) GetRestaurantByID(id string) *RestaurantConfig {
	for i := range c.Restaurants {
		if c.Restaurants[i].ID == id {
			return &c.Restaurants[i]
		}
	}
	return nil
}

// String returns a summary of the configuration.
func (c *RestaurantsConfig) String() string {
	tables := 0
	for _, r := range c.Restaurants {
		tables += len(r.Tables)
	}
	return fmt.Sprintf("RestaurantsConfig: %d restaurants, %d tables", len(c.Restaurants), tables)
}
