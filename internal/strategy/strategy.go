// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry for constructing registered implementations by name.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
)

// Strategy is the interface a trading strategy implements to participate in a
// backtest. Implementations are stateful and single-run: the engine calls
// Init once, OnBar per bar in order, OnOrderResult for every order the
// strategy submitted, and Finish after the last bar.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup before the first bar.
	Init(ctx context.Context) error

	// OnBar is called once per bar with a read-only portfolio snapshot. The
	// returned orders become eligible for execution on the next bar.
	OnBar(ctx context.Context, bar domain.Bar, view domain.PortfolioView) ([]domain.Order, error)

	// OnOrderResult reports the outcome of a previously submitted order,
	// whether filled or rejected.
	OnOrderResult(res domain.FillResult)

	// Finish is called once after the final bar.
	Finish(ctx context.Context) error
}

// Factory constructs a fresh strategy instance from named parameters.
// Strategies are stateful, so every run gets its own instance.
type Factory func(params map[string]float64) (Strategy, error)

// Registry holds named strategy factories for lookup and enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory to the registry under the given name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New constructs a fresh instance of the named strategy.
func (r *Registry) New(name string, params map[string]float64) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, r.List())
	}
	return f(params)
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
