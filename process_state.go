package stepwise

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
)

// PlanState is a stage of the planning state machine.
type PlanState string

const (
	StateInit        PlanState = "init"
	StateAnalyzing   PlanState = "analyzing"
	StateDecomposing PlanState = "decomposing"
	StateComplete    PlanState = "complete"
	StateError       PlanState = "error"
	StateCancelled   PlanState = "cancelled"
)

// PlanningProcess is the working state of one Plan call.
type PlanningProcess struct {
	Task          Task
	Analysis      *TaskAnalysis
	Decomposition *Decomposition
	Result        *Plan

	LastError  error
	ErrorStage string

	CurrentState PlanState
	// History is every state entered before the current one, oldest first.
	History []PlanState

	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[PlanState]time.Time
	StateDurations  map[PlanState]time.Duration
}

// NewPlanningProcess starts a process for task in StateInit.
func NewPlanningProcess(task Task) *PlanningProcess {
	now := time.Now()
	return &PlanningProcess{
		Task:            task,
		CurrentState:    StateInit,
		StartTime:       now,
		StateStartTimes: map[PlanState]time.Time{StateInit: now},
		StateDurations:  make(map[PlanState]time.Duration),
	}
}

// Enter leaves the current state for next, recording how long the current state took.
func (p *PlanningProcess) Enter(next PlanState) {
	now := time.Now()
	if started, ok := p.StateStartTimes[p.CurrentState]; ok {
		p.StateDurations[p.CurrentState] += now.Sub(started)
	}
	p.History = append(p.History, p.CurrentState)
	p.CurrentState = next
	p.StateStartTimes[next] = now
	if p.IsTerminal() {
		p.EndTime = now
	}
}

// IsTerminal reports whether the process has finished.
func (p *PlanningProcess) IsTerminal() bool {
	return p.CurrentState == StateComplete || p.CurrentState == StateError || p.CurrentState == StateCancelled
}

// SetError records err against stage and moves to StateError.
func (p *PlanningProcess) SetError(err error, stage string) {
	p.LastError = err
	p.ErrorStage = stage
	p.Enter(StateError)
}

// SetCancelled records a cancellation observed during stage.
func (p *PlanningProcess) SetCancelled(err error, stage string) {
	p.LastError = NewCancelledError(stage, err)
	p.ErrorStage = stage
	p.Enter(StateCancelled)
}

// StateDuration reports the time spent in state so far.
func (p *PlanningProcess) StateDuration(state PlanState) time.Duration {
	d := p.StateDurations[state]
	if state == p.CurrentState && !p.IsTerminal() {
		if started, ok := p.StateStartTimes[state]; ok {
			d += time.Since(started)
		}
	}
	return d
}

// TotalDuration reports the process run time so far.
func (p *PlanningProcess) TotalDuration() time.Duration {
	if p.IsTerminal() {
		return p.EndTime.Sub(p.StartTime)
	}
	return time.Since(p.StartTime)
}

// StateTransition runs the work of one state and names the next state.
type StateTransition func(ctx context.Context, bus eventbus.EventBus, p *PlanningProcess) (PlanState, error)

// StateMachine drives a PlanningProcess through its registered transitions.
type StateMachine struct {
	transitions map[PlanState]StateTransition
	bus         eventbus.EventBus
}

// NewStateMachine creates an empty machine. bus may be nil.
func NewStateMachine(bus eventbus.EventBus) *StateMachine {
	return &StateMachine{transitions: make(map[PlanState]StateTransition), bus: bus}
}

// RegisterTransition sets the transition run in state.
func (sm *StateMachine) RegisterTransition(state PlanState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs transitions until the process reaches a terminal state.
func (sm *StateMachine) Execute(ctx context.Context, p *PlanningProcess) (*Plan, error) {
	for !p.IsTerminal() {
		stage := string(p.CurrentState)
		if err := ctx.Err(); err != nil {
			p.SetCancelled(err, stage)
			break
		}

		transition, ok := sm.transitions[p.CurrentState]
		if !ok {
			p.SetError(NewInternalError(stage, fmt.Sprintf("no transition defined for state %s", stage), nil), stage)
			break
		}

		next, err := transition(ctx, sm.bus, p)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.SetCancelled(err, stage)
			} else if !p.IsTerminal() {
				p.SetError(err, stage)
			}
			continue
		}
		if !p.IsTerminal() {
			p.Enter(next)
		}
	}

	if p.CurrentState != StateComplete {
		return nil, p.LastError
	}
	return p.Result, nil
}
