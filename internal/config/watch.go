package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchRestaurants reloads restaurants.yaml when its mtime moves forward and calls
// onUpdate with the new config. The initial load happens synchronously and its error
// is returned; later load failures are logged and the previous config stays in effect.
func WatchRestaurants(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(context.Context, *RestaurantsConfig) error) error {
	if path == "" {
		path = "configs/restaurants.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	cfg, err := LoadRestaurantsConfig(path)
	if err != nil {
		return err
	}
	if err := onUpdate(ctx, cfg); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("Cannot stat restaurants config")
					continue
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				cfg, err := LoadRestaurantsConfig(path)
				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("Restaurants config reload failed, keeping previous")
					continue
				}
				if err := onUpdate(ctx, cfg); err != nil {
					logger.Error().Err(err).Msg("Applying restaurants config failed")
					continue
				}
				lastMod = info.ModTime()
				logger.Info().Str("config", cfg.String()).Msg("Restaurants config reloaded")
			}
		}
	}()

	return nil
}
