/*

This file contains the adapter registry: the binding between configured
strategy slots and the adapter implementations serving them. Factories are
registered per adapter kind; instances are bound per strategy id.

*/

package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/basin-labs/vase/internal/types"
)

// Factory builds an adapter instance for one strategy slot.
type Factory func(slot types.StrategySlot) (StrategyAdapter, error)

// Registry maps adapter kinds to factories and strategy ids to bound
// instances. Binding happens at boot; lookups happen on every transition.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	bound     map[types.StrategyID]StrategyAdapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		bound:     make(map[types.StrategyID]StrategyAdapter),
	}
}

// RegisterKind registers a factory for an adapter kind. Re-registering a kind
// is a programming error and is rejected.
func (r *Registry) RegisterKind(kind string, factory Factory) error {
	if kind == "" {
		return errors.New("adapter kind is empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for adapter kind %q is nil", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("adapter kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Kinds returns the registered adapter kinds sorted by name.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Bind constructs and binds an adapter for the slot via the factory
// registered for the slot's adapter kind.
func (r *Registry) Bind(slot types.StrategySlot) error {
	if slot.StrategyID == "" {
		return errors.Join(types.ErrUnknownStrategy, errors.New("strategy id is empty"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bound[slot.StrategyID]; exists {
		return fmt.Errorf("strategy %s already bound", slot.StrategyID)
	}
	factory, ok := r.factories[slot.AdapterKind]
	if !ok {
		return errors.Join(types.ErrUnknownStrategy,
			fmt.Errorf("no factory registered for adapter kind %q (strategy %s)", slot.AdapterKind, slot.StrategyID))
	}
	instance, err := factory(slot)
	if err != nil {
		return fmt.Errorf("factory for kind %q failed for strategy %s: %w", slot.AdapterKind, slot.StrategyID, err)
	}
	r.bound[slot.StrategyID] = instance
	return nil
}

// BindInstance binds a pre-built adapter directly, used by tests and by live
// integrations constructed outside the factory path.
func (r *Registry) BindInstance(id types.StrategyID, instance StrategyAdapter) error {
	if id == "" {
		return errors.Join(types.ErrUnknownStrategy, errors.New("strategy id is empty"))
	}
	if instance == nil {
		return fmt.Errorf("adapter instance for strategy %s is nil", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bound[id]; exists {
		return fmt.Errorf("strategy %s already bound", id)
	}
	r.bound[id] = instance
	return nil
}

// Get returns the adapter bound to the strategy id.
func (r *Registry) Get(id types.StrategyID) (StrategyAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.bound[id]
	if !ok {
		return nil, errors.Join(types.ErrUnknownStrategy, fmt.Errorf("strategy %s has no bound adapter", id))
	}
	return instance, nil
}

// BoundCount returns the number of bound adapters.
func (r *Registry) BoundCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bound)
}
