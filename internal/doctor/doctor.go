package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/g960059/aistatus/internal/api"
	"github.com/g960059/aistatus/internal/config"
	"github.com/g960059/aistatus/internal/db"
	"github.com/g960059/aistatus/internal/security"
)

const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"

	defaultPingTimeout = 2 * time.Second
)

// Pinger is the part of statusclient.Client the endpoint check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Config      config.Config
	ConfigPath  string
	Client      Pinger
	PingTimeout time.Duration
}

type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass | warn | fail
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

type Result struct {
	OK       bool     `json:"ok"`
	Checks   []Check  `json:"checks"`
	Warnings []string `json:"warnings,omitempty"`
}

// Run executes every check. A failing check marks the result not OK but never
// stops the remaining checks.
func Run(ctx context.Context, opts Options) Result {
	out := Result{OK: true}
	add := func(c Check) {
		out.Checks = append(out.Checks, c)
		switch c.Status {
		case StatusWarn:
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", c.Name, c.Message))
		case StatusFail:
			out.OK = false
		}
	}

	add(checkConfigFile(opts.ConfigPath))
	add(checkConfig(opts.Config))
	add(checkContract(opts.Config.Contract))
	add(checkEndpoint(ctx, opts))
	add(checkOutbox(ctx, opts.Config))
	return out
}

func checkConfigFile(path string) Check {
	if path == "" {
		return Check{Name: "config_file", Status: StatusPass, Message: "using built-in defaults"}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Check{Name: "config_file", Status: StatusPass, Message: "not present, using defaults", Path: path}
		}
		return Check{Name: "config_file", Status: StatusFail, Message: fmt.Sprintf("stat error: %v", err), Path: path}
	}
	return Check{Name: "config_file", Status: StatusPass, Message: "loaded", Path: path}
}

func checkConfig(cfg config.Config) Check {
	if err := cfg.Validate(); err != nil {
		msg := strings.ReplaceAll(err.Error(), "\n", "; ")
		return Check{Name: "config", Status: StatusFail, Message: msg}
	}
	if !cfg.Enabled {
		return Check{Name: "config", Status: StatusWarn, Message: "reporting is disabled"}
	}
	return Check{Name: "config", Status: StatusPass, Message: "valid"}
}

func checkContract(version string) Check {
	c, err := api.ContractFor(version)
	if err != nil {
		return Check{Name: "contract", Status: StatusFail, Message: err.Error()}
	}
	if c.Version() == config.ContractV1 {
		return Check{Name: "contract", Status: StatusWarn, Message: "legacy v1 endpoints selected"}
	}
	return Check{Name: "contract", Status: StatusPass, Message: c.Version()}
}

func checkEndpoint(ctx context.Context, opts Options) Check {
	endpoint := security.RedactEndpoint(opts.Config.Endpoint)
	if opts.Client == nil {
		return Check{Name: "endpoint", Status: StatusWarn, Message: "no client configured", Path: endpoint}
	}
	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := opts.Client.Ping(pingCtx); err != nil {
		// The status surface is often started after the editor; unreachable is not fatal.
		return Check{Name: "endpoint", Status: StatusWarn, Message: "unreachable: " + security.RedactText(err.Error()), Path: endpoint}
	}
	return Check{Name: "endpoint", Status: StatusPass, Message: "reachable", Path: endpoint}
}

func checkOutbox(ctx context.Context, cfg config.Config) Check {
	path := cfg.OutboxPath
	if path == "" {
		return Check{Name: "outbox", Status: StatusWarn, Message: "outbox disabled"}
	}
	store, err := db.OpenMigrated(ctx, path)
	if err != nil {
		return Check{Name: "outbox", Status: StatusFail, Message: fmt.Sprintf("open failed: %v", err), Path: path}
	}
	defer store.Close()
	n, err := store.Count(ctx)
	if err != nil {
		return Check{Name: "outbox", Status: StatusFail, Message: fmt.Sprintf("count failed: %v", err), Path: path}
	}
	if limit := cfg.OutboxMax; limit > 0 && n >= limit {
		return Check{Name: "outbox", Status: StatusWarn, Message: fmt.Sprintf("%d pending entries (at capacity)", n), Path: path}
	}
	return Check{Name: "outbox", Status: StatusPass, Message: fmt.Sprintf("%d pending entries", n), Path: path}
}
