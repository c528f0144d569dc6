package stepwise

import "github.com/ZanzyTHEbar/stepwise/internal/eventbus"

// WithEventBus publishes planning events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(p *Planner) {
		p.bus = bus
	}
}
