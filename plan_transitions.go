package stepwise

import (
	"context"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
)

// stateMachine wires the planner's collaborators into the planning states:
// init, analyzing, decomposing, then complete.
func (p *Planner) stateMachine() *StateMachine {
	sm := NewStateMachine(p.bus)
	sm.RegisterTransition(StateInit, p.initTransition())
	sm.RegisterTransition(StateAnalyzing, p.analyzeTransition())
	sm.RegisterTransition(StateDecomposing, p.decomposeTransition())
	return sm
}

func (p *Planner) initTransition() StateTransition {
	return func(ctx context.Context, bus eventbus.EventBus, proc *PlanningProcess) (PlanState, error) {
		p.publish(ctx, eventbus.EventPlanningStarted, proc.Task.Description, "StateMachine.Init", map[string]interface{}{
			"task_id":   proc.Task.ID,
			"timestamp": proc.StartTime.Format(time.RFC3339),
		})

		if strings.TrimSpace(proc.Task.Description) == "" {
			p.logger.Warn("empty task description", logging.Fields{"task_id": proc.Task.ID})
			proc.Result = p.newPlan(proc, nil, SourceEmpty)
			return StateComplete, nil
		}
		if p.analyzer == nil {
			return StateDecomposing, nil
		}
		return StateAnalyzing, nil
	}
}

func (p *Planner) analyzeTransition() StateTransition {
	return func(ctx context.Context, bus eventbus.EventBus, proc *PlanningProcess) (PlanState, error) {
		analysis, err := p.analyzer.Analyze(ctx, proc.Task.Description)
		if err != nil {
			return StateError, err
		}
		proc.Analysis = analysis
		if analysis != nil {
			p.publish(ctx, eventbus.EventAnalysisCompleted, analysis, "StateMachine.Analyzing", map[string]interface{}{
				"task_id":    proc.Task.ID,
				"task_type":  string(analysis.TaskType),
				"complexity": string(analysis.Complexity),
				"source":     string(analysis.Source),
			})
		}
		return StateDecomposing, nil
	}
}

func (p *Planner) decomposeTransition() StateTransition {
	return func(ctx context.Context, bus eventbus.EventBus, proc *PlanningProcess) (PlanState, error) {
		dec, err := p.decomposer.Decompose(ctx, proc.Task.Description, proc.Task.ID, PlanningContext{Analysis: proc.Analysis})
		if err != nil {
			return StateError, err
		}
		if dec == nil {
			dec = &Decomposition{Source: SourceEmpty}
		}
		proc.Decomposition = dec

		meta := map[string]interface{}{
			"task_id": proc.Task.ID,
			"source":  string(dec.Source),
			"steps":   len(dec.Steps),
		}
		p.publish(ctx, eventbus.EventDecompositionCompleted, dec, "StateMachine.Decomposing", meta)
		if dec.Source == SourceFallback {
			p.publish(ctx, eventbus.EventFallbackUsed, proc.Task.Description, "StateMachine.Decomposing", meta)
		}

		proc.Result = p.newPlan(proc, dec.Steps, dec.Source)
		proc.Result.Warnings = append(proc.Result.Warnings, dec.Warnings...)
		return StateComplete, nil
	}
}

func (p *Planner) newPlan(proc *PlanningProcess, steps []Step, source PlanSource) *Plan {
	if len(steps) == 0 {
		source = SourceEmpty
	}
	return &Plan{
		TaskID:      proc.Task.ID,
		Description: proc.Task.Description,
		Analysis:    proc.Analysis,
		Steps:       steps,
		Source:      source,
		CreatedAt:   time.Now(),
	}
}

// clonePlan copies p deeply enough that nothing a caller can mutate is shared
// with the cached original.
func clonePlan(p *Plan) *Plan {
	out := *p
	out.Steps = cloneSteps(p.Steps)
	out.Analysis = cloneAnalysis(p.Analysis)
	out.Warnings = append([]string(nil), p.Warnings...)
	return &out
}

func cloneAnalysis(a *TaskAnalysis) *TaskAnalysis {
	if a == nil {
		return nil
	}
	out := *a
	out.RequiredTools = append([]string(nil), a.RequiredTools...)
	out.RequiredFields = append([]string(nil), a.RequiredFields...)
	if a.QueryParams != nil {
		out.QueryParams = a.QueryParams.Clone()
	}
	if a.TaskStructure != nil {
		steps := make([]StructuredStep, len(a.TaskStructure.Steps))
		for i, s := range a.TaskStructure.Steps {
			s.Parameters = s.Parameters.Clone()
			steps[i] = s
		}
		out.TaskStructure = &TaskStructure{Steps: steps}
	}
	return &out
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		s.Parameters = s.Parameters.Clone()
		if s.Metadata != nil {
			md := *s.Metadata
			md.RequiredFields = append([]string(nil), md.RequiredFields...)
			s.Metadata = &md
		}
		out[i] = s
	}
	return out
}
