/*
Package config loads server configuration from environment variables and
an optional config file, with sane defaults for local development.

Precedence: environment > config file > defaults. Environment variables
use the POINTS_ prefix (POINTS_ADDR, POINTS_DB_PATH, ...).
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr               string   `mapstructure:"addr"`
	DBPath             string   `mapstructure:"db_path"`
	LevelsFile         string   `mapstructure:"levels_file"`
	DisputeWindowHours int      `mapstructure:"dispute_window_hours"`
	MinReasonLength    int      `mapstructure:"min_reason_length"`
	EventWorkers       int      `mapstructure:"event_workers"`
	EventBuffer        int      `mapstructure:"event_buffer"`
	LogLevel           string   `mapstructure:"log_level"`
	CORSOrigins        []string `mapstructure:"cors_origins"`
}

// DisputeWindow returns the dispute eligibility window as a duration.
func (c Config) DisputeWindow() time.Duration {
	return time.Duration(c.DisputeWindowHours) * time.Hour
}

// Load reads configuration. path may name a config file (yaml); empty
// means env-and-defaults only.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "./data/points.db")
	v.SetDefault("levels_file", "")
	v.SetDefault("dispute_window_hours", 72)
	v.SetDefault("min_reason_length", 10)
	v.SetDefault("event_workers", 4)
	v.SetDefault("event_buffer", 256)
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", []string{"*"})

	v.SetEnvPrefix("POINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DisputeWindowHours <= 0 {
		return Config{}, fmt.Errorf("dispute_window_hours must be positive, got %d", cfg.DisputeWindowHours)
	}
	if cfg.MinReasonLength < 1 {
		return Config{}, fmt.Errorf("min_reason_length must be at least 1, got %d", cfg.MinReasonLength)
	}

	return cfg, nil
}
