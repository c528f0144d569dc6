package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/spf13/cobra"
)

// recordedResult is one executed step in a results file.
type recordedResult struct {
	StepID   string        `json:"step_id"`
	Result   interface{}   `json:"result"`
	Success  *bool         `json:"success,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

type resolveOutput struct {
	Step   stepwise.Step             `json:"step"`
	Report stepwise.ResolutionReport `json:"report"`
}

func resolveCMD(cfgPath *string) *cobra.Command {
	var (
		planPath    string
		resultsPath string
		stepID      string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Fill a planned step's inputs from the results of the steps before it",
		Long: `Reads a plan written by "stepwise plan -o json" and a JSON array of
{"step_id", "result"} objects for the steps already executed, records their
outputs, and prints the next step (or --step) with its inputs resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan stepwise.Plan
			if err := readJSON(planPath, &plan); err != nil {
				return err
			}
			var results []recordedResult
			if resultsPath != "" {
				if err := readJSON(resultsPath, &results); err != nil {
					return err
				}
			}

			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			acc := stepwise.NewAccumulated()
			done := make(map[string]bool, len(results))
			for _, r := range results {
				step, ok := findStep(plan.Steps, r.StepID)
				if !ok {
					return fmt.Errorf("result for unknown step %q", r.StepID)
				}
				a.planner.RecordResult(ctx, acc, step, r.Result)
				done[step.ID] = true
				if r.Success != nil {
					if err := a.planner.RecordOutcome(ctx, step.Tool, *r.Success, r.Duration); err != nil {
						a.logger.Warn(err.Error(), nil)
					}
				}
			}

			var target stepwise.Step
			var found bool
			if stepID != "" {
				target, found = findStep(plan.Steps, stepID)
			} else {
				for _, s := range plan.Steps {
					if !done[s.ID] {
						target, found = s, true
						break
					}
				}
			}
			if !found {
				return fmt.Errorf("no step left to resolve")
			}

			resolved, report := a.planner.ResolveStep(ctx, target, acc)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resolveOutput{Step: resolved, Report: report})
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "plan JSON file")
	cmd.Flags().StringVar(&resultsPath, "results", "", "JSON array of executed step results")
	cmd.Flags().StringVar(&stepID, "step", "", "step to resolve (default: the first without a result)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func findStep(steps []stepwise.Step, id string) (stepwise.Step, bool) {
	for _, s := range steps {
		if s.ID == id {
			return s, true
		}
	}
	return stepwise.Step{}, false
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return stepwise.NewDocumentError(path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return stepwise.NewDocumentError(path, err)
	}
	return nil
}
