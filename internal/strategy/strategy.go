// Package strategy defines the Strategy interface trading strategies
// implement against the broker API, plus a Registry for managing multiple
// strategy implementations. The engine is agnostic to what a strategy
// decides; it only guarantees the strategy observes no future data.
package strategy

import (
	"context"
	"sort"

	"replaylab/internal/broker"
	"replaylab/internal/domain"
)

// Strategy is the interface all trading strategies must implement. The same
// implementation runs unchanged against the live adapter and the replay
// engine.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs one-time setup before the first bar.
	Init(ctx context.Context, api broker.API) error

	// OnBar is called for each new OHLCV bar, after any order updates for
	// the same timestamp have been delivered.
	OnBar(ctx context.Context, api broker.API, bar domain.Bar) error

	// OnOrderUpdate is called when one of the strategy's orders changes
	// state (fill, partial_fill, canceled, rejected).
	OnOrderUpdate(ctx context.Context, api broker.API, update domain.OrderUpdate) error
}

// Params is one named parameter assignment drawn from a search grid.
type Params map[string]float64

// Clone returns an independent copy of the parameter set.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Factory builds a fresh, stateless-start strategy instance for one run.
// Walk-forward search calls it once per (window, candidate) so parallel
// runs never share strategy state.
type Factory func(params Params) Strategy

// Registry holds a named collection of strategy factories for lookup and
// enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates
// whether it was found.
func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
