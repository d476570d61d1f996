package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type validateJSON struct {
	Valid    bool     `json:"valid"`
	Steps    int      `json:"steps"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newValidateCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the DAG and that every step has an implementation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := s.loadGraph()
			if err != nil {
				return err
			}
			reg, err := s.registry()
			if err != nil {
				return err
			}

			res := validateJSON{Steps: len(g.Steps()), Errors: []string{}, Warnings: []string{}}
			for _, e := range g.Validate() {
				res.Errors = append(res.Errors, e.Error())
			}
			for _, uri := range g.Steps() {
				if _, ok := reg.Lookup(uri); !ok {
					res.Errors = append(res.Errors, fmt.Sprintf("step %s has no registered implementation", uri))
				}
			}
			for _, uri := range reg.URIs() {
				if !g.Has(uri) {
					res.Warnings = append(res.Warnings, fmt.Sprintf("registered step %s is not in the dag", uri))
				}
			}
			res.Valid = len(res.Errors) == 0

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				if err := PrintJSON(out, res); err != nil {
					return err
				}
			} else {
				for _, e := range res.Errors {
					_, _ = fmt.Fprintf(out, "error: %s\n", e)
				}
				for _, w := range res.Warnings {
					_, _ = fmt.Fprintf(out, "warning: %s\n", w)
				}
				if res.Valid {
					_, _ = fmt.Fprintf(out, "%d steps OK\n", res.Steps)
				}
			}
			if !res.Valid {
				return fmt.Errorf("validation failed with %d error(s)", len(res.Errors))
			}
			return nil
		},
	}
}
