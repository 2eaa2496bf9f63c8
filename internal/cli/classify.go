package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/g960059/aistatus/internal/stateengine"
)

type classifyResult struct {
	AILike bool   `json:"ai_like"`
	Rule   string `json:"rule"`
}

func (r *Runner) newClassifyCmd(g *globalOptions) *cobra.Command {
	var insert, deleted, segments, windowInsert, windowEvents int
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify one edit batch offline",
		Long: `Classify evaluates the detection rules against a single edit batch and
prints the deciding rule. The window values describe the sliding window
including the batch itself.

Example:
  aistatus classify --insert 40 --segments 1 --window-insert 40 --window-events 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if insert < 0 || deleted < 0 || segments < 0 || windowInsert < 0 || windowEvents < 0 {
				return usageError{err: fmt.Errorf("counts must be non-negative")}
			}
			v := stateengine.ClassifyVerdict(insert, deleted, segments, windowInsert, windowEvents)
			if g.jsonOut {
				return writeJSON(r.out, classifyResult{AILike: v.AILike, Rule: v.Rule})
			}
			label := "human"
			if v.AILike {
				label = "ai"
			}
			_, _ = fmt.Fprintf(r.out, "%s (%s)\n", label, v.Rule)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&insert, "insert", 0, "inserted characters in the batch")
	f.IntVar(&deleted, "deleted", 0, "deleted characters in the batch")
	f.IntVar(&segments, "segments", 1, "number of content changes in the batch")
	f.IntVar(&windowInsert, "window-insert", 0, "inserted characters in the sliding window")
	f.IntVar(&windowEvents, "window-events", 0, "edit events in the sliding window")
	return cmd
}
