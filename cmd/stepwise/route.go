package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/stepwise/internal/router"
	"github.com/spf13/cobra"
)

func routeCMD(cfgPath *string) *cobra.Command {
	var (
		strategy       string
		taskType       string
		exclude        []string
		expression     string
		minReliability float64
		fallbacks      int
	)
	cmd := &cobra.Command{
		Use:   "route <capability>",
		Short: "Show which tool the router picks for a capability, with fallbacks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if strategy == "" {
				strategy = cfg.Planner.Strategy
			}
			st, err := router.ParseStrategy(strategy)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			decisions, err := a.toolbox.Router().RoutingPlan(cmd.Context(),
				router.Request{Capability: args[0], TaskType: taskType},
				st,
				router.Constraints{
					ExcludeTools:   exclude,
					Expression:     expression,
					MinReliability: minReliability,
				},
				fallbacks+1,
			)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOOL\tSCORE\tCANDIDATES\tRATIONALE")
			for _, d := range decisions {
				fmt.Fprintf(tw, "%s\t%.3f\t%d\t%s\n", d.Tool.Name, d.Score, d.Candidates, d.Rationale)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "routing strategy (default from config)")
	cmd.Flags().StringVar(&taskType, "task-type", "", "task type, used to key round-robin rotation")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "tools to leave out")
	cmd.Flags().StringVar(&expression, "where", "", `constraint expression, e.g. "reliability > 90 && cost <= 1"`)
	cmd.Flags().Float64Var(&minReliability, "min-reliability", 0, "minimum reliability percentage")
	cmd.Flags().IntVar(&fallbacks, "fallbacks", 2, "number of fallback tools to list")
	return cmd
}
