package stepwise

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BackgroundStatus describes a plan started with PlanAsync.
type BackgroundStatus struct {
	ID           string        `json:"id"`
	TaskID       string        `json:"task_id"`
	Description  string        `json:"description"`
	State        PlanState     `json:"state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	Done         bool          `json:"done"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

type backgroundPlan struct {
	mu       sync.Mutex
	task     Task
	state    PlanState
	started  time.Time
	finished time.Time
	plan     *Plan
	err      error
	cancel   context.CancelFunc
	done     chan struct{}
}

func (b *backgroundPlan) status(id string) BackgroundStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BackgroundStatus{
		ID:          id,
		TaskID:      b.task.ID,
		Description: b.task.Description,
		State:       b.state,
		StartTime:   b.started,
		Done:        !b.finished.IsZero(),
	}
	if st.Done {
		st.Duration = b.finished.Sub(b.started)
	} else {
		st.Duration = time.Since(b.started)
	}
	if b.err != nil {
		st.ErrorMessage = b.err.Error()
	}
	return st
}

// PlanAsync plans task in the background and returns a handle for PlanStatus,
// PlanResult and CancelPlan. The plan outlives ctx's values but not its
// cancellation.
func (p *Planner) PlanAsync(ctx context.Context, task Task) string {
	if task.ID == "" {
		task.ID = p.newID()
	}
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	b := &backgroundPlan{
		task:    task,
		state:   StateInit,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	p.backgroundMu.Lock()
	p.background[id] = b
	p.backgroundMu.Unlock()

	go func() {
		defer cancel()
		defer close(b.done)
		plan, err := p.Plan(runCtx, task)

		b.mu.Lock()
		defer b.mu.Unlock()
		b.finished = time.Now()
		b.plan, b.err = plan, err
		switch {
		case err == nil:
			b.state = StateComplete
		case HasCode(err, ErrCodeCancelled):
			b.state = StateCancelled
		default:
			b.state = StateError
		}
	}()
	return id
}

func (p *Planner) lookupBackground(id string) (*backgroundPlan, error) {
	p.backgroundMu.RLock()
	defer p.backgroundMu.RUnlock()
	b, ok := p.background[id]
	if !ok {
		return nil, NewValidationError("background", fmt.Sprintf("no background plan %q", id), nil)
	}
	return b, nil
}

// PlanStatus reports the progress of a background plan.
func (p *Planner) PlanStatus(id string) (BackgroundStatus, error) {
	b, err := p.lookupBackground(id)
	if err != nil {
		return BackgroundStatus{}, err
	}
	return b.status(id), nil
}

// PlanResult waits for a background plan and returns its outcome.
func (p *Planner) PlanResult(ctx context.Context, id string) (*Plan, error) {
	b, err := p.lookupBackground(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, NewCancelledError("background", ctx.Err())
	case <-b.done:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.plan, b.err
}

// CancelPlan stops a running background plan. It reports false when the plan
// had already finished.
func (p *Planner) CancelPlan(id string) (bool, error) {
	b, err := p.lookupBackground(id)
	if err != nil {
		return false, err
	}
	b.mu.Lock()
	running := b.finished.IsZero()
	b.mu.Unlock()
	if !running {
		return false, nil
	}
	b.cancel()
	return true, nil
}

// ListBackground returns the state of every tracked background plan.
func (p *Planner) ListBackground() map[string]PlanState {
	p.backgroundMu.RLock()
	defer p.backgroundMu.RUnlock()
	out := make(map[string]PlanState, len(p.background))
	for id, b := range p.background {
		b.mu.Lock()
		out[id] = b.state
		b.mu.Unlock()
	}
	return out
}

// PruneBackground forgets finished background plans older than olderThan and
// returns how many were removed.
func (p *Planner) PruneBackground(olderThan time.Duration) int {
	p.backgroundMu.Lock()
	defer p.backgroundMu.Unlock()
	now := time.Now()
	removed := 0
	for id, b := range p.background {
		b.mu.Lock()
		stale := !b.finished.IsZero() && now.Sub(b.finished) > olderThan
		b.mu.Unlock()
		if stale {
			delete(p.background, id)
			removed++
		}
	}
	return removed
}
