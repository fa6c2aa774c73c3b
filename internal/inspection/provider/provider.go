// Package provider defines the verification method seam: each method (GPS,
// beacon, QR) implements one bounded, asynchronous presence check. Providers
// never touch the session or its step; they report a result and the sequencer
// applies it.
package provider

import (
	"context"
	"fmt"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

// Request carries the inputs a provider may read. Attempt is the sequence
// number assigned by the sequencer; stale completions are discarded by it.
type Request struct {
	SessionID string
	Location  model.LocationContext
	Attempt   uint64
}

// Result is the settled outcome of one attempt. Outcome is success or failed,
// never idle or checking. On success exactly one of Location (beacon/QR) or
// Coordinates (GPS) is populated.
type Result struct {
	Outcome     model.Outcome
	Location    string
	Coordinates *model.Coordinates
	Detail      string
}

// Provider is the contract every verification method implements.
//
// Attempt must resolve within the provider's own internal policy; a provider
// that cannot determine an outcome in time resolves failed rather than hang.
// An error return is reserved for infrastructure faults and is treated as a
// failed outcome by the caller.
type Provider interface {
	Method() model.Method
	Attempt(ctx context.Context, req Request) (Result, error)
}

// Registry maintains the provider for each method.
type Registry struct {
	providers map[model.Method]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[model.Method]Provider)}
}

// Register adds a provider; one per method.
func (r *Registry) Register(p Provider) error {
	m := p.Method()
	if !m.Valid() {
		return fmt.Errorf("provider registry: unknown method %q", m)
	}
	if _, exists := r.providers[m]; exists {
		return fmt.Errorf("provider registry: method %q already registered", m)
	}
	r.providers[m] = p
	return nil
}

// Get retrieves the provider for a method.
func (r *Registry) Get(m model.Method) (Provider, bool) {
	p, ok := r.providers[m]
	return p, ok
}
