package serialbridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// DefaultTickRate is the foreground cadence in ticks per second.
const DefaultTickRate = 60

// System is foreground logic run once per tick after inbound events have
// been published.
type System func(b *Bridge)

// Bridge connects a Registry to a fixed-cadence foreground loop.
type Bridge struct {
	Registry *Registry
	Events   *Events

	ticks atomic.Uint64
}

// NewBridge returns a Bridge around r. A nil r gets a fresh Registry.
func NewBridge(r *Registry) *Bridge {
	if r == nil {
		r = &Registry{}
	}
	return &Bridge{Registry: r, Events: &Events{}}
}

// Tick collects everything the workers received since the last tick and
// publishes it as a single batch. It returns the number of events published.
func (b *Bridge) Tick() int {
	b.ticks.Inc()
	b.Events.Update()

	events := b.Registry.CollectEvents()
	b.Events.SendBatch(events)
	return len(events)
}

// Ticks returns how many times Tick has run.
func (b *Bridge) Ticks() uint64 {
	return b.ticks.Load()
}

// Send queues data for the named port. Unknown ports are ignored.
func (b *Bridge) Send(name string, data []byte) {
	b.Registry.Send(name, data)
}

// Run ticks rate times per second until ctx is done, running systems in
// order after each Tick. It returns ctx.Err().
func (b *Bridge) Run(ctx context.Context, rate int, systems ...System) error {
	if rate <= 0 {
		return fmt.Errorf("tick rate must be positive, got: %d", rate)
	}

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Tick()
			for _, system := range systems {
				system(b)
			}
		}
	}
}
