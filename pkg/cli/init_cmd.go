package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"etl-catalog/internal/steps/example"
)

func newInitCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Install the example pipeline into the checkout",
		Long: `Write the example DAG file, its snapshots, and step metadata to the
configured locations. Existing files are overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := example.Install(s.cfg.DAGFile, s.cfg.SnapshotsDir, s.cfg.StepsDir); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(out, map[string]string{
					"dag":       s.cfg.DAGFile,
					"snapshots": s.cfg.SnapshotsDir,
					"steps":     s.cfg.StepsDir,
				})
			}
			_, _ = fmt.Fprintf(out, "dag:        %s\nsnapshots:  %s\nsteps:      %s\n",
				s.cfg.DAGFile, s.cfg.SnapshotsDir, s.cfg.StepsDir)
			return nil
		},
	}
}
