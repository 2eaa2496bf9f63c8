package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/aistatus/internal/doctor"
)

func (r *Runner) newDoctorCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, endpoint reachability and the outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.loadConfig(g)
			if err != nil {
				return err
			}
			result := doctor.Run(cmd.Context(), doctor.Options{
				Config:     cfg,
				ConfigPath: g.configPath,
				Client:     newClient(cfg),
			})
			if g.jsonOut {
				if err := writeJSON(r.out, result); err != nil {
					return err
				}
			} else {
				for _, check := range result.Checks {
					_, _ = fmt.Fprintf(r.out, "[%s] %s: %s", strings.ToUpper(check.Status), check.Name, check.Message)
					if strings.TrimSpace(check.Path) != "" {
						_, _ = fmt.Fprintf(r.out, " (%s)", check.Path)
					}
					_, _ = fmt.Fprintln(r.out)
				}
				if result.OK {
					_, _ = fmt.Fprintln(r.out, "doctor: OK")
				} else {
					_, _ = fmt.Fprintln(r.out, "doctor: FAIL")
				}
			}
			if !result.OK {
				return errSilent
			}
			return nil
		},
	}
}
