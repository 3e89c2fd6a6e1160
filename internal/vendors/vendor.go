// Package vendors defines the SecuritiesVendor interface for historical
// market-data sources and provides a Registry for managing multiple vendor
// implementations.
package vendors

import (
	"context"
	"sort"
	"time"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
)

// SecuritiesVendor is the interface that all market-data vendors implement.
type SecuritiesVendor interface {
	// Name returns the unique identifier for this vendor.
	Name() string

	// FetchBars retrieves historical bars for symbol at the given interval
	// within [start, end). Returns domain.ErrNoData when the vendor has no
	// bars for the range and domain.ErrVendorUnavailable (wrapped) on
	// transport failures.
	FetchBars(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error)

	// ValidateSymbol reports whether the vendor recognises the symbol.
	ValidateSymbol(ctx context.Context, symbol string) (bool, error)
}

// Registry holds a named collection of vendors for lookup and enumeration.
// Registries are constructed explicitly and passed to the components that
// need them, so concurrent runs can use different vendor sets.
type Registry struct {
	vendors map[string]SecuritiesVendor
}

// NewRegistry creates an empty vendor Registry.
func NewRegistry() *Registry {
	return &Registry{
		vendors: make(map[string]SecuritiesVendor),
	}
}

// Register adds a vendor to the registry, keyed by its Name().
func (r *Registry) Register(v SecuritiesVendor) {
	r.vendors[v.Name()] = v
}

// Get retrieves a vendor by name. The second return value indicates whether
// the vendor was found.
func (r *Registry) Get(name string) (SecuritiesVendor, bool) {
	v, ok := r.vendors[name]
	return v, ok
}

// List returns a sorted slice of all registered vendor names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.vendors))
	for name := range r.vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
