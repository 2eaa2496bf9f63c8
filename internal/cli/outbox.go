package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/g960059/aistatus/internal/api"
	"github.com/g960059/aistatus/internal/db"
	"github.com/g960059/aistatus/internal/logging"
	"github.com/g960059/aistatus/internal/reporter"
)

type outboxEntryView struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Endpoint  string    `json:"endpoint"`
	Intent    string    `json:"intent"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Runner) newOutboxCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and manage calls cached while the endpoint was unreachable",
	}
	cmd.AddCommand(r.newOutboxListCmd(g), r.newOutboxReplayCmd(g), r.newOutboxPurgeCmd(g))
	return cmd
}

func (r *Runner) openOutbox(ctx context.Context, g *globalOptions) (*db.Store, error) {
	cfg, err := r.loadConfig(g)
	if err != nil {
		return nil, err
	}
	if cfg.OutboxPath == "" {
		return nil, fmt.Errorf("outbox path is not configured")
	}
	return db.OpenMigrated(ctx, cfg.OutboxPath)
}

func (r *Runner) newOutboxListCmd(g *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached calls, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := r.openOutbox(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer store.Close()
			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			views := make([]outboxEntryView, 0, len(entries))
			for _, e := range entries {
				views = append(views, outboxEntryView{
					ID:        e.ID,
					TaskID:    e.TaskID,
					Endpoint:  e.Endpoint,
					Intent:    string(e.Intent),
					Attempts:  e.Attempts,
					LastError: e.LastError,
					CreatedAt: e.CreatedAt,
				})
			}
			if g.jsonOut {
				return writeJSON(r.out, map[string]any{"entries": views})
			}
			for _, v := range views {
				_, _ = fmt.Fprintf(r.out, "%d\t%s\t%s\t%s\tattempts=%d\t%s\n",
					v.ID, v.CreatedAt.Format(time.RFC3339), v.TaskID, v.Intent, v.Attempts, v.Endpoint)
			}
			_, _ = fmt.Fprintf(r.out, "outbox: %d entries\n", len(views))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to list (0 = all)")
	return cmd
}

func (r *Runner) newOutboxReplayCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Send cached calls now, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := r.loadConfig(g)
			if err != nil {
				return err
			}
			contract, err := api.ContractFor(cfg.Contract)
			if err != nil {
				return err
			}
			store, err := r.openOutbox(ctx, g)
			if err != nil {
				return err
			}
			defer store.Close()
			logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: r.errOut, Component: "outbox"})
			rep := reporter.New(newClient(cfg), reporterOptions(cfg, contract, store, logger))
			res, replayErr := rep.Replay(ctx)
			if err := rep.Close(ctx); err != nil {
				logger.Debug("reporter close", "error", err)
			}
			if g.jsonOut {
				if err := writeJSON(r.out, map[string]int{"sent": res.Sent, "dropped": res.Dropped, "failed": res.Failed}); err != nil {
					return err
				}
			} else {
				_, _ = fmt.Fprintf(r.out, "replay: sent=%d dropped=%d failed=%d\n", res.Sent, res.Dropped, res.Failed)
			}
			return replayErr
		},
	}
}

func (r *Runner) newOutboxPurgeCmd(g *globalOptions) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := r.openOutbox(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Purge(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return writeJSON(r.out, map[string]int64{"purged": n})
			}
			_, _ = fmt.Fprintf(r.out, "purged %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "only purge entries of this task id")
	return cmd
}
