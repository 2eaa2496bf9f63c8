package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/aistatus/internal/api"
	"github.com/g960059/aistatus/internal/config"
	"github.com/g960059/aistatus/internal/db"
	"github.com/g960059/aistatus/internal/eventsource"
	"github.com/g960059/aistatus/internal/logging"
	"github.com/g960059/aistatus/internal/model"
	"github.com/g960059/aistatus/internal/reporter"
	"github.com/g960059/aistatus/internal/security"
	"github.com/g960059/aistatus/internal/stateengine"
	"github.com/g960059/aistatus/internal/statusclient"
)

type runOptions struct {
	stdin    bool
	watchDir string
	appName  string
	taskID   string
}

func (r *Runner) newRunCmd(g *globalOptions) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detector against an editor event stream",
		Long: `Run reads editor events and reports AI-assisted editing runs to the
status endpoint until interrupted.

Events arrive as JSON lines on stdin (the editor bridge protocol). With
--watch, file size changes under a directory are reported as edits too.
When stdin reaches EOF the editor is considered gone and the task is
completed and deleted.

Examples:
  editor-bridge | aistatus run
  aistatus run --no-stdin --watch ./src`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.runDaemon(cmd.Context(), g, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.stdin, "stdin", true, "read editor events from stdin")
	cmd.Flags().StringVar(&opts.watchDir, "watch", "", "also watch a directory for file edits")
	cmd.Flags().StringVar(&opts.appName, "app-name", "", "editor application name used until the bridge reports one")
	cmd.Flags().StringVar(&opts.taskID, "task-id", "", "task id to report under (default: random)")
	return cmd
}

func (r *Runner) runDaemon(ctx context.Context, g *globalOptions, opts runOptions) error {
	cfg, err := r.loadConfig(g)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: r.errOut, Component: "aistatus"})
	if !cfg.Enabled {
		logger.Info("reporting disabled by configuration")
		return nil
	}
	contract, err := api.ContractFor(cfg.Contract)
	if err != nil {
		return err
	}

	var outbox reporter.Outbox
	if cfg.OutboxPath != "" {
		store, err := db.OpenMigrated(ctx, cfg.OutboxPath)
		if err != nil {
			logger.Warn("outbox unavailable, failed calls will not be cached", "path", cfg.OutboxPath, "error", err)
		} else {
			defer store.Close()
			outbox = store
		}
	}

	ws, err := initialWorkspace(opts)
	if err != nil {
		return err
	}
	rep := reporter.New(newClient(cfg), reporterOptions(cfg, contract, outbox, logger))
	det := stateengine.NewDetector(rep, stateengine.DetectorOptions{
		Config:    stateengine.FromDetection(cfg.Detection),
		Logger:    logger.With("component", "detector"),
		TaskID:    opts.taskID,
		Workspace: ws,
	})
	logger.Info("aistatus running",
		"task_id", det.TaskID(),
		"endpoint", security.RedactEndpoint(cfg.Endpoint),
		"contract", contract.Version(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	grp, gctx := errgroup.WithContext(runCtx)
	grp.Go(func() error { return det.Run(gctx) })
	grp.Go(func() error { return rep.Run(gctx) })
	if opts.stdin {
		src := eventsource.NewJSONLSource(r.in, logger.With("component", "jsonl"))
		grp.Go(func() error {
			err := src.Run(gctx, det)
			if gctx.Err() == nil {
				logger.Info("editor event stream closed")
				cancel()
			}
			return err
		})
	}
	if opts.watchDir != "" {
		watch := eventsource.NewWatchSource(opts.watchDir, eventsource.WatchOptions{Logger: logger.With("component", "watch")})
		grp.Go(func() error { return watch.Run(gctx, det, nil) })
	}

	runErr := grp.Wait()
	det.Close()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.RequestTimeout+cfg.TeardownTimeout)
	defer cancelClose()
	if err := rep.Close(closeCtx); err != nil {
		logger.Warn("teardown not confirmed", "error", security.RedactText(err.Error()))
	}
	logger.Info("detector stopped", "task_id", det.TaskID())
	return runErr
}

func newClient(cfg config.Config) *statusclient.Client {
	return statusclient.New(cfg.Endpoint).
		WithTimeout(cfg.RequestTimeout).
		WithTeardownTimeout(cfg.TeardownTimeout)
}

func reporterOptions(cfg config.Config, contract api.Contract, outbox reporter.Outbox, logger *slog.Logger) reporter.Options {
	return reporter.Options{
		Contract: contract,
		Retry: statusclient.RetryPolicy{
			Attempts:     cfg.RetryAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			Multiplier:   cfg.RetryMultiplier,
		},
		HeartbeatInterval:  cfg.HeartbeatInterval,
		ConnectivityWindow: cfg.ConnectivityWindow,
		Health: reporter.HealthPolicy{
			DownWindow:       cfg.DownWindow,
			DownFailures:     cfg.DownFailures,
			RecoverSuccesses: cfg.RecoverSuccesses,
		},
		Outbox:    outbox,
		OutboxMax: cfg.OutboxMax,
		Logger:    logger.With("component", "reporter"),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// initialWorkspace seeds identity before the bridge sends its workspace message.
func initialWorkspace(opts runOptions) (model.Workspace, error) {
	ws := model.Workspace{AppName: opts.appName}
	if opts.watchDir == "" {
		return ws, nil
	}
	abs, err := filepath.Abs(opts.watchDir)
	if err != nil {
		return ws, fmt.Errorf("resolve watch dir: %w", err)
	}
	name := filepath.Base(abs)
	ws.Name = name
	ws.Folders = []model.WorkspaceFolder{{Name: name, Path: abs}}
	return ws, nil
}
