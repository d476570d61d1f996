package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type tierStepJSON struct {
	Tier         int      `json:"tier"`
	Step         string   `json:"step"`
	Dependencies []string `json:"dependencies"`
	Source       string   `json:"source,omitempty"`
}

func newGraphCmd(s *settings) *cobra.Command {
	var only bool

	cmd := &cobra.Command{
		Use:   "graph [selector]",
		Short: "Print the execution plan of a selection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := s.newRunner(cmd.Context(), nil)
			if err != nil {
				return err
			}
			g, err := s.loadGraph()
			if err != nil {
				return err
			}
			selector := ""
			if len(args) == 1 {
				selector = args[0]
			}
			tiers, err := r.Plan(selector, only)
			if err != nil {
				return err
			}

			var steps []tierStepJSON
			for tier, uris := range tiers {
				for _, uri := range uris {
					deps := g.Dependencies(uri)
					if deps == nil {
						deps = []string{}
					}
					steps = append(steps, tierStepJSON{Tier: tier, Step: uri, Dependencies: deps, Source: g.Source(uri)})
				}
			}

			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				if steps == nil {
					steps = []tierStepJSON{}
				}
				return PrintJSON(out, steps)
			}
			rows := make([][]string, 0, len(steps))
			for _, st := range steps {
				rows = append(rows, []string{strconv.Itoa(st.Tier), st.Step, strings.Join(st.Dependencies, ", ")})
			}
			PrintTable(out, []string{"tier", "step", "dependencies"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&only, "only", false, "Plan the selection without its dependencies")
	return cmd
}
