package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the TOML layout. Pointers distinguish "absent" from zero values;
// durations are written as Go duration strings ("1500ms", "3s").
type fileConfig struct {
	Enabled            *bool          `toml:"enabled"`
	Endpoint           *string        `toml:"endpoint"`
	Contract           *string        `toml:"contract"`
	LogLevel           *string        `toml:"log_level"`
	RequestTimeout     *string        `toml:"request_timeout"`
	TeardownTimeout    *string        `toml:"teardown_timeout"`
	RetryAttempts      *int           `toml:"retry_attempts"`
	RetryInitialDelay  *string        `toml:"retry_initial_delay"`
	RetryMultiplier    *float64       `toml:"retry_multiplier"`
	HeartbeatInterval  *string        `toml:"heartbeat_interval"`
	ConnectivityWindow *string        `toml:"connectivity_window"`
	OutboxPath         *string        `toml:"outbox_path"`
	OutboxMax          *int           `toml:"outbox_max"`
	Detection          *fileDetection `toml:"detection"`
}

type fileDetection struct {
	SlidingWindow      *string `toml:"sliding_window"`
	BaseIdleTimeout    *string `toml:"base_idle_timeout"`
	MediumIdleTimeout  *string `toml:"medium_idle_timeout"`
	MediumIdleAt       *int    `toml:"medium_idle_at"`
	LargeIdleTimeout   *string `toml:"large_idle_timeout"`
	LargeIdleAt        *int    `toml:"large_idle_at"`
	MinRun             *string `toml:"min_run"`
	FocusDebounce      *string `toml:"focus_debounce"`
	UpdateThrottle     *string `toml:"update_throttle"`
	ActiveFileThrottle *string `toml:"active_file_throttle"`
}

// ParseError is returned when a config file exists but cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load returns DefaultConfig overlaid with the file at path. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, &ParseError{Path: path, Err: err}
	}
	return cfg, nil
}

// Decode overlays TOML data onto cfg.
func Decode(data []byte, cfg *Config) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return err
	}
	var errs []error
	dur := func(name string, raw *string, dst *time.Duration) {
		if raw == nil {
			return
		}
		d, err := time.ParseDuration(*raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}
	setBool(fc.Enabled, &cfg.Enabled)
	setString(fc.Endpoint, &cfg.Endpoint)
	setString(fc.Contract, &cfg.Contract)
	setString(fc.LogLevel, &cfg.LogLevel)
	setString(fc.OutboxPath, &cfg.OutboxPath)
	setInt(fc.RetryAttempts, &cfg.RetryAttempts)
	setInt(fc.OutboxMax, &cfg.OutboxMax)
	if fc.RetryMultiplier != nil {
		cfg.RetryMultiplier = *fc.RetryMultiplier
	}
	dur("request_timeout", fc.RequestTimeout, &cfg.RequestTimeout)
	dur("teardown_timeout", fc.TeardownTimeout, &cfg.TeardownTimeout)
	dur("retry_initial_delay", fc.RetryInitialDelay, &cfg.RetryInitialDelay)
	dur("heartbeat_interval", fc.HeartbeatInterval, &cfg.HeartbeatInterval)
	dur("connectivity_window", fc.ConnectivityWindow, &cfg.ConnectivityWindow)

	if d := fc.Detection; d != nil {
		dur("detection.sliding_window", d.SlidingWindow, &cfg.Detection.SlidingWindow)
		dur("detection.base_idle_timeout", d.BaseIdleTimeout, &cfg.Detection.BaseIdleTimeout)
		dur("detection.medium_idle_timeout", d.MediumIdleTimeout, &cfg.Detection.MediumIdleTimeout)
		dur("detection.large_idle_timeout", d.LargeIdleTimeout, &cfg.Detection.LargeIdleTimeout)
		dur("detection.min_run", d.MinRun, &cfg.Detection.MinRun)
		dur("detection.focus_debounce", d.FocusDebounce, &cfg.Detection.FocusDebounce)
		dur("detection.update_throttle", d.UpdateThrottle, &cfg.Detection.UpdateThrottle)
		dur("detection.active_file_throttle", d.ActiveFileThrottle, &cfg.Detection.ActiveFileThrottle)
		setInt(d.MediumIdleAt, &cfg.Detection.MediumIdleAt)
		setInt(d.LargeIdleAt, &cfg.Detection.LargeIdleAt)
	}
	return errors.Join(errs...)
}

func setString(src *string, dst *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(src *int, dst *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(src *bool, dst *bool) {
	if src != nil {
		*dst = *src
	}
}
