package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tablebook/internal/database"
	"tablebook/internal/lock"
)

// EnvConfigPath names the environment variable that overrides the config file location.
const EnvConfigPath = "TABLEBOOK_CONFIG"

type Config struct {
	Database database.Config `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Booking struct {
		Lock                      lock.Config   `yaml:"lock"`
		CacheTTL                  time.Duration `yaml:"cache_ttl"`
		SlotIntervalMinutes       int           `yaml:"slot_interval_minutes"`
		UserConflictBufferMinutes int           `yaml:"user_conflict_buffer_minutes"`
		ListLimit                 int           `yaml:"list_limit"`
		RetentionDays             int           `yaml:"retention_days"`
	} `yaml:"booking"`

	API struct {
		Enabled   bool     `yaml:"enabled"`
		Listen    string   `yaml:"listen"`
		APIKeys   []string `yaml:"api_keys"`
		RateLimit struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"api"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		ServiceName string `yaml:"service_name"`
		Endpoint    string `yaml:"endpoint"`
		Insecure    bool   `yaml:"insecure"`
	} `yaml:"tracing"`

	Backup database.BackupConfig `yaml:"backup"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console | json
	} `yaml:"log"`

	RestaurantsConfigPath string        `yaml:"restaurants_config_path"`
	RestaurantsReload     time.Duration `yaml:"restaurants_reload_interval"`
}

// Load reads the YAML config at path, or at $TABLEBOOK_CONFIG, or configs/config.yaml.
// Variables from a .env file in the working directory are exported first so that
// ${ENV_VAR} placeholders can refer to them.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if cfg.Database.Driver == database.DriverSQLite {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = database.DriverSQLite
	}
	if c.Database.Driver == database.DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/tablebook.db"
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Booking.CacheTTL <= 0 {
		c.Booking.CacheTTL = 5 * time.Minute
	}
	if c.Booking.SlotIntervalMinutes <= 0 {
		c.Booking.SlotIntervalMinutes = 30
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.API.RateLimit.RequestsPerSecond <= 0 {
		c.API.RateLimit.RequestsPerSecond = 20
	}
	if c.API.RateLimit.Burst <= 0 {
		c.API.RateLimit.Burst = 40
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8081
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "tablebook"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RestaurantsConfigPath == "" {
		c.RestaurantsConfigPath = "configs/restaurants.yaml"
	}
	if c.RestaurantsReload <= 0 {
		c.RestaurantsReload = 30 * time.Second
	}
}

// Retention returns how long finished reservations are kept, or zero to keep them forever.
func (c *Config) Retention() time.Duration {
	if c.Booking.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.Booking.RetentionDays) * 24 * time.Hour
}
