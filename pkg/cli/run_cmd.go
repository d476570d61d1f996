package cli

import (
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"etl-catalog/internal/db/repository"
	"etl-catalog/internal/runner"
)

type stepJSON struct {
	Step       string `json:"step"`
	Tier       int    `json:"tier"`
	Status     string `json:"status"`
	Checksum   string `json:"checksum,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type reportJSON struct {
	RunID string     `json:"run_id"`
	Steps []stepJSON `json:"steps"`
	Error string     `json:"error,omitempty"`
}

func newRunCmd(s *settings) *cobra.Command {
	var (
		force   bool
		dryRun  bool
		only    bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "run [selector]",
		Short: "Build the selected steps and their dependencies",
		Long: `Build the steps matched by selector, after every step they depend on.
Steps whose inputs are unchanged since their last build are reported UP_TO_DATE.

Selectors:
  (none) or *        every step
  channel:garden     every step of a channel
  namespace:who      every step of a namespace
  <pattern>          steps whose URI contains pattern
  <pattern>+         matches and their dependents
  +<pattern>         matches and their dependencies`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var ledger *repository.RunRepo
			if !dryRun {
				conn, repo, err := s.openLedger(ctx)
				if err != nil {
					return err
				}
				defer conn.Close() //nolint:errcheck
				ledger = repo
			}
			r, err := s.newRunner(ctx, ledger)
			if err != nil {
				return err
			}

			opts := runner.RunOptions{
				Force:   force,
				DryRun:  dryRun,
				Only:    only,
				Workers: s.cfg.Workers,
			}
			if len(args) == 1 {
				opts.Selector = args[0]
			}
			if cmd.Flags().Changed("workers") {
				opts.Workers = workers
			}

			report, runErr := r.Run(ctx, opts)
			if report == nil {
				return runErr
			}
			if err := printReport(cmd, report, runErr); err != nil {
				return err
			}
			if runErr != nil && getOutputFormat(cmd) == "json" {
				return &printedError{err: runErr}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Rebuild steps even when up to date")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without running it")
	cmd.Flags().BoolVar(&only, "only", false, "Run the selection without its dependencies")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Concurrent steps per tier (env ETL_WORKERS)")
	return cmd
}

func printReport(cmd *cobra.Command, report *runner.Report, runErr error) error {
	out := cmd.OutOrStdout()
	if getOutputFormat(cmd) == "json" {
		res := reportJSON{RunID: report.RunID, Steps: make([]stepJSON, 0, len(report.Steps)), Error: errString(runErr)}
		for _, st := range report.Steps {
			res.Steps = append(res.Steps, stepJSON{
				Step:       st.URI,
				Tier:       st.Tier,
				Status:     st.Status,
				Checksum:   st.Checksum,
				DurationMs: st.Duration.Milliseconds(),
				Error:      errString(st.Err),
			})
		}
		return PrintJSON(out, res)
	}

	rows := make([][]string, 0, len(report.Steps))
	for _, st := range report.Steps {
		errMsg := errString(st.Err)
		var se *runner.StepError
		if errors.As(st.Err, &se) {
			errMsg = errString(se.Err)
		}
		rows = append(rows, []string{
			strconv.Itoa(st.Tier),
			st.URI,
			colorStatus(out, st.Status),
			formatDuration(st.Duration),
			errMsg,
		})
	}
	PrintTable(out, []string{"tier", "step", "status", "duration", "error"}, rows)
	return nil
}
