// internal/xp/configuration.go
package xp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github-insights/internal/database"
	custom_errors "github-insights/internal/errors"
	"github-insights/internal/model"
)

// ConfigStore holds the persisted scoring configuration.
type ConfigStore interface {
	GetXPConfiguration(ctx context.Context) (model.XPConfiguration, error)
	SaveXPConfiguration(ctx context.Context, cfg model.XPConfiguration) error
}

// LoadConfiguration returns the stored scoring configuration. When none is stored it is
// seeded from the YAML file at path (overlaid on the defaults) or from the defaults
// alone, and persisted.
func LoadConfiguration(ctx context.Context, store ConfigStore, path string, logger *slog.Logger) (model.XPConfiguration, error) {
	cfg, err := store.GetXPConfiguration(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return model.XPConfiguration{}, fmt.Errorf("get xp configuration: %w", err)
	}

	cfg = model.DefaultXPConfiguration()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return model.XPConfiguration{}, fmt.Errorf("read xp configuration: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return model.XPConfiguration{}, &custom_errors.ConfigError{Field: "XP_CONFIG_FILE", Reason: err.Error()}
		}
	}
	if err := Validate(cfg); err != nil {
		return model.XPConfiguration{}, err
	}

	if err := store.SaveXPConfiguration(ctx, cfg); err != nil {
		return model.XPConfiguration{}, fmt.Errorf("save xp configuration: %w", err)
	}
	logger.Info("Seeded XP configuration", "source", sourceName(path))
	return cfg, nil
}

// Validate rejects configurations the engine cannot score with.
func Validate(cfg model.XPConfiguration) error {
	switch {
	case cfg.Decay.Percentage < 0 || cfg.Decay.Percentage > 1:
		return &custom_errors.ConfigError{Field: "decay.percentage", Reason: "must be between 0 and 1"}
	case cfg.Decay.DaysInactive < 1:
		return &custom_errors.ConfigError{Field: "decay.days_inactive", Reason: "must be at least 1"}
	case cfg.Decay.MinXP < 0:
		return &custom_errors.ConfigError{Field: "decay.min_xp", Reason: "must not be negative"}
	case cfg.Streak.MaxBonus < 0 || cfg.Streak.BonusPerDay < 0:
		return &custom_errors.ConfigError{Field: "streak", Reason: "bonuses must not be negative"}
	case cfg.Quality.Enabled && cfg.Quality.CoverageMultiplier < 1:
		return &custom_errors.ConfigError{Field: "quality.coverage_multiplier", Reason: "must be at least 1"}
	}
	return nil
}

func sourceName(path string) string {
	if path == "" {
		return "defaults"
	}
	return path
}
