package adapters

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
)

// PlanFlowName is the name the planning flow is registered under.
const PlanFlowName = "stepwisePlan"

// PlanFlow is a genkit flow that plans one task description.
type PlanFlow = core.Flow[string, *stepwise.Plan, struct{}]

// DefinePlanFlow registers planner as a genkit flow so that plans show up in
// genkit traces and can be invoked from the developer UI.
func DefinePlanFlow(g *genkit.Genkit, planner *stepwise.Planner) *PlanFlow {
	return genkit.DefineFlow(g, PlanFlowName, func(ctx context.Context, description string) (*stepwise.Plan, error) {
		if description == "" {
			return nil, fmt.Errorf("task description is empty")
		}
		return planner.Plan(ctx, stepwise.Task{Description: description})
	})
}

// FlowPlanner plans tasks through a PlanFlow.
type FlowPlanner struct {
	flow *PlanFlow
}

func NewFlowPlanner(flow *PlanFlow) *FlowPlanner {
	return &FlowPlanner{flow: flow}
}

// Plan runs the flow for task. The flow assigns no task ID, so task.ID is
// copied onto the result.
func (f *FlowPlanner) Plan(ctx context.Context, task stepwise.Task) (*stepwise.Plan, error) {
	plan, err := f.flow.Run(ctx, task.Description)
	if err != nil {
		return nil, fmt.Errorf("plan flow execution failed: %w", err)
	}
	if plan != nil && task.ID != "" {
		plan.TaskID = task.ID
	}
	return plan, nil
}
