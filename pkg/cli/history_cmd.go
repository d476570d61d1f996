package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"etl-catalog/internal/domain"
)

type runJSON struct {
	ID         string     `json:"id"`
	Selector   string     `json:"selector"`
	Force      bool       `json:"force"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Steps      []stepJSON `json:"steps,omitempty"`
}

func toRunJSON(r domain.Run) runJSON {
	return runJSON{
		ID:         r.ID,
		Selector:   r.Selector,
		Force:      r.Force,
		Status:     r.Status,
		Error:      derefString(r.Error),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func runDuration(r domain.Run) string {
	if r.FinishedAt == nil {
		return ""
	}
	return formatDuration(r.FinishedAt.Sub(r.StartedAt))
}

func newHistoryCmd(s *settings) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or the steps of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, ledger, err := s.openLedger(ctx)
			if err != nil {
				return err
			}
			defer conn.Close() //nolint:errcheck
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := ledger.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if getOutputFormat(cmd) == "json" {
					res := make([]runJSON, 0, len(runs))
					for _, r := range runs {
						res = append(res, toRunJSON(r))
					}
					return PrintJSON(out, res)
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.ID,
						r.Selector,
						colorStatus(out, r.Status),
						r.StartedAt.Local().Format(time.DateTime),
						runDuration(r),
					})
				}
				PrintTable(out, []string{"id", "selector", "status", "started", "duration"}, rows)
				return nil
			}

			run, err := ledger.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			steps, err := ledger.ListStepsByRun(ctx, run.ID)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				res := toRunJSON(*run)
				res.Steps = make([]stepJSON, 0, len(steps))
				for _, st := range steps {
					res.Steps = append(res.Steps, stepJSON{
						Step:       st.StepURI,
						Tier:       st.Tier,
						Status:     st.Status,
						Checksum:   st.Checksum,
						DurationMs: st.DurationMs,
						Error:      derefString(st.Error),
					})
				}
				return PrintJSON(out, res)
			}

			_, _ = fmt.Fprintf(out, "run %s  %s  selector=%q  started %s\n",
				run.ID, colorStatus(out, run.Status), run.Selector, run.StartedAt.Local().Format(time.DateTime))
			rows := make([][]string, 0, len(steps))
			for _, st := range steps {
				rows = append(rows, []string{
					strconv.Itoa(st.Tier),
					st.StepURI,
					colorStatus(out, st.Status),
					formatDuration(time.Duration(st.DurationMs) * time.Millisecond),
					derefString(st.Error),
				})
			}
			PrintTable(out, []string{"tier", "step", "status", "duration", "error"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return cmd
}
