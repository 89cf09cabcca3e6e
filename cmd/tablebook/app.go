package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tablebook/internal/cache"
	"tablebook/internal/config"
	"tablebook/internal/database"
	"tablebook/internal/events"
	"tablebook/internal/lock"
	"tablebook/internal/repository"
	"tablebook/internal/service"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *zerolog.Logger
	db     *database.DB
	rdb    *redis.Client
	repo   *repository.Repository
	bus    *events.EventBus
	svc    *service.ReservationService
}

func newLogger(format, level string) zerolog.Logger {
	var logger zerolog.Logger
	if strings.EqualFold(format, "json") {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Logger()
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log.Format, cfg.Log.Level)

	db, err := database.Open(ctx, cfg.Database, &logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo := repository.New(&logger)
	bus := events.NewEventBus(&logger)
	locks := lock.NewManager(rdb, cfg.Booking.Lock, &logger)
	availability := cache.NewAvailability(rdb, cfg.Booking.CacheTTL, &logger)

	svc := service.NewReservationService(repo, db, locks, availability, bus, service.Options{
		SlotIntervalMinutes:       cfg.Booking.SlotIntervalMinutes,
		UserConflictBufferMinutes: cfg.Booking.UserConflictBufferMinutes,
		DefaultListLimit:          cfg.Booking.ListLimit,
	}, &logger)

	return &app{
		cfg:    cfg,
		logger: &logger,
		db:     db,
		rdb:    rdb,
		repo:   repo,
		bus:    bus,
		svc:    svc,
	}, nil
}

func (a *app) Close() {
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Closing redis client")
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Closing database")
	}
}

// syncRestaurants applies restaurants.yaml to the store.
func (a *app) syncRestaurants(ctx context.Context, rc *config.RestaurantsConfig) error {
	restaurants := make([]service.RestaurantSync, 0, len(rc.Restaurants))
	for _, r := range rc.Restaurants {
		rest, tables := r.ToModel()
		restaurants = append(restaurants, service.RestaurantSync{Restaurant: rest, Tables: tables})
	}
	_, err := a.svc.ApplyRestaurantConfig(ctx, restaurants)
	return err
}
