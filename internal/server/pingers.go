package server

import (
	"context"
	"fmt"
)

// ComponentPinger adapts any component exposing a Ping method to the Pinger
// interface used by GET /api/ready. The embedding backend, the generation
// backend, the session store, and the Qdrant index all expose one.
type ComponentPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// ping is the component's reachability probe.
	ping func(ctx context.Context) error
}

// NewComponentPinger wraps a component's Ping method under the given name.
func NewComponentPinger(name string, ping func(ctx context.Context) error) *ComponentPinger {
	return &ComponentPinger{name: name, ping: ping}
}

// Name returns the dependency label used in readiness responses.
func (p *ComponentPinger) Name() string { return p.name }

// Ping runs the component probe.
func (p *ComponentPinger) Ping(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	return nil
}
