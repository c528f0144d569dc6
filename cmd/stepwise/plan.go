package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/decomposer"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

func planCMD(cfgPath *string) *cobra.Command {
	var (
		tasksFile   string
		taskFile    string
		output      string
		concurrency int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "plan [task description]...",
		Short: "Plan one or more tasks",
		Long: `Plan one or more tasks given as arguments or, with --tasks, one per line
in a file ("-" reads stdin). Tasks are planned concurrently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptions := append([]string(nil), args...)
			if tasksFile != "" {
				more, err := readTasks(tasksFile, cmd.InOrStdin())
				if err != nil {
					return err
				}
				descriptions = append(descriptions, more...)
			}
			if len(descriptions) == 0 {
				return fmt.Errorf("no task given")
			}

			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if concurrency > 0 {
				cfg.Planner.Concurrency = concurrency
			}

			var opts appOptions
			if taskFile != "" {
				if opts.structure, err = decomposer.LoadTaskStructure(taskFile); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			a.watchSchema(ctx)

			plans, err := planAll(ctx, a, descriptions, cfg.Planner.Concurrency)
			if err != nil {
				return err
			}
			return writePlans(cmd.OutOrStdout(), output, plans)
		},
	}
	cmd.Flags().StringVar(&tasksFile, "tasks", "", "file with one task description per line")
	cmd.Flags().StringVar(&taskFile, "task-file", "", "YAML task file with pre-analyzed steps")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "tasks planned at once (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
	return cmd
}

func readTasks(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, stepwise.NewDocumentError(path, err)
		}
		defer f.Close()
		r = f
	}
	var tasks []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tasks = append(tasks, line)
	}
	if err := sc.Err(); err != nil {
		return nil, stepwise.NewDocumentError(path, err)
	}
	return tasks, nil
}

type indexedPlan struct {
	index int
	plan  *stepwise.Plan
}

func planAll(ctx context.Context, a *app, descriptions []string, concurrency int) ([]*stepwise.Plan, error) {
	p := pool.NewWithResults[indexedPlan]().
		WithContext(ctx).
		WithMaxGoroutines(concurrency)
	for i, d := range descriptions {
		p.Go(func(ctx context.Context) (indexedPlan, error) {
			plan, err := a.plan(ctx, stepwise.Task{Description: d})
			if err != nil {
				return indexedPlan{}, fmt.Errorf("task %d: %w", i+1, err)
			}
			return indexedPlan{index: i, plan: plan}, nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
	plans := make([]*stepwise.Plan, len(results))
	for i, r := range results {
		plans[i] = r.plan
	}
	return plans, nil
}

func writePlans(w io.Writer, format string, plans []*stepwise.Plan) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(plans) == 1 {
			return enc.Encode(plans[0])
		}
		return enc.Encode(plans)
	case "text", "":
		for i, plan := range plans {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if err := writePlanText(w, plan); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writePlanText(w io.Writer, plan *stepwise.Plan) error {
	fmt.Fprintf(w, "%s\n", plan.Description)
	fmt.Fprintf(w, "task %s, source %s, %d steps\n", plan.TaskID, plan.Source, len(plan.Steps))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range plan.Steps {
		params, err := json.Marshal(s.Parameters)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", s.ID, s.Method(), s.Description, params)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, warn := range plan.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	return nil
}
