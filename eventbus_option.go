package mcpdesk

import "github.com/ZanzyTHEbar/mcpdesk/internal/eventbus"

// WithEventBus sets the bus stage events are published on. It has no effect
// when the configuration disables events.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(o *Orchestrator) {
		o.eventBus = bus
	}
}
