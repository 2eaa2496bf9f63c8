package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "http://127.0.0.1:31415"
	ContractV1      = "v1"
	ContractV2      = "v2"
)

type Config struct {
	Enabled            bool
	Endpoint           string
	Contract           string
	LogLevel           string
	RequestTimeout     time.Duration
	TeardownTimeout    time.Duration
	RetryAttempts      int
	RetryInitialDelay  time.Duration
	RetryMultiplier    float64
	HeartbeatInterval  time.Duration
	ConnectivityWindow time.Duration
	DownWindow         time.Duration
	DownFailures       int
	RecoverSuccesses   int
	OutboxPath         string
	OutboxMax          int
	Detection          Detection
}

// Detection holds the timing knobs of the activity state machine.
type Detection struct {
	SlidingWindow      time.Duration
	BaseIdleTimeout    time.Duration
	MediumIdleTimeout  time.Duration
	MediumIdleAt       int
	LargeIdleTimeout   time.Duration
	LargeIdleAt        int
	MinRun             time.Duration
	FocusDebounce      time.Duration
	UpdateThrottle     time.Duration
	ActiveFileThrottle time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Endpoint:           DefaultEndpoint,
		Contract:           ContractV2,
		LogLevel:           "info",
		RequestTimeout:     5 * time.Second,
		TeardownTimeout:    1 * time.Second,
		RetryAttempts:      3,
		RetryInitialDelay:  1 * time.Second,
		RetryMultiplier:    2,
		HeartbeatInterval:  3 * time.Second,
		ConnectivityWindow: 3500 * time.Millisecond,
		DownWindow:         30 * time.Second,
		DownFailures:       3,
		RecoverSuccesses:   1,
		OutboxPath:         defaultOutboxPath(),
		OutboxMax:          50,
		Detection:          DefaultDetection(),
	}
}

func DefaultDetection() Detection {
	return Detection{
		SlidingWindow:      1200 * time.Millisecond,
		BaseIdleTimeout:    15 * time.Second,
		MediumIdleTimeout:  30 * time.Second,
		MediumIdleAt:       200,
		LargeIdleTimeout:   45 * time.Second,
		LargeIdleAt:        600,
		MinRun:             5 * time.Second,
		FocusDebounce:      500 * time.Millisecond,
		UpdateThrottle:     1 * time.Second,
		ActiveFileThrottle: 500 * time.Millisecond,
	}
}

// ApplyEnv overrides fields from AISTATUS_* variables. Malformed values are reported, not ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	var errs []error
	if v := strings.TrimSpace(getenv("AISTATUS_ENDPOINT")); v != "" {
		c.Endpoint = v
	}
	if v := strings.TrimSpace(getenv("AISTATUS_CONTRACT")); v != "" {
		c.Contract = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("AISTATUS_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(getenv("AISTATUS_OUTBOX")); v != "" {
		c.OutboxPath = v
	}
	if v := strings.TrimSpace(getenv("AISTATUS_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AISTATUS_ENABLED: %w", err))
		} else {
			c.Enabled = b
		}
	}
	if v := strings.TrimSpace(getenv("AISTATUS_RETRY_ATTEMPTS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AISTATUS_RETRY_ATTEMPTS: %w", err))
		} else {
			c.RetryAttempts = n
		}
	}
	return errors.Join(errs...)
}

// Validate reports every problem at once so a bad file can be fixed in one pass.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint URL is required"))
	} else if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("endpoint URL is not valid: %q", c.Endpoint))
	}
	switch c.Contract {
	case ContractV1, ContractV2:
	default:
		errs = append(errs, fmt.Errorf("unknown endpoint contract %q", c.Contract))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if c.RetryInitialDelay < 0 {
		errs = append(errs, errors.New("retry delay must be non-negative"))
	}
	if c.RetryMultiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if c.RequestTimeout < time.Second {
		errs = append(errs, errors.New("request timeout should be at least 1s"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	if c.ConnectivityWindow < c.HeartbeatInterval {
		errs = append(errs, errors.New("connectivity window must not be shorter than the heartbeat interval"))
	}
	if c.OutboxMax < 0 {
		errs = append(errs, errors.New("outbox size must be non-negative"))
	}
	d := c.Detection
	if d.SlidingWindow <= 0 || d.BaseIdleTimeout <= 0 {
		errs = append(errs, errors.New("detection window and base idle timeout must be positive"))
	}
	if d.LargeIdleAt < d.MediumIdleAt {
		errs = append(errs, errors.New("large idle threshold must not be below the medium threshold"))
	}
	if d.MinRun < 0 || d.FocusDebounce < 0 || d.UpdateThrottle < 0 || d.ActiveFileThrottle < 0 {
		errs = append(errs, errors.New("detection durations must be non-negative"))
	}
	return errors.Join(errs...)
}

func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "aistatus", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "aistatus.toml"
	}
	return filepath.Join(home, ".config", "aistatus", "config.toml")
}

func defaultOutboxPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "aistatus", "outbox.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "aistatus-outbox.db"
	}
	return filepath.Join(home, ".local", "state", "aistatus", "outbox.db")
}
