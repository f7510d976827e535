package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-sentinel/discovery"
	"github.com/ethereum-optimism/infra/op-sentinel/metrics"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// ChangeListener receives registry change events. Listeners are compared by
// identity on removal, so implementations should be pointer types.
type ChangeListener interface {
	RegistryChanged(event types.RegistryEvent) error
}

// Registry is the set of test units currently contributed by registered components
type Registry struct {
	config Config

	// mutate serializes registration and removal, including event delivery,
	// so listeners observe events for one component at a time and in order.
	mutate sync.Mutex

	mu         sync.RWMutex
	components map[string][]*types.TestUnit
	order      []string

	listenersMu sync.Mutex
	listeners   []ChangeListener // replaced, never modified in place
}

// Config contains registry configuration
type Config struct {
	Log        log.Logger
	Discoverer discovery.Discoverer
	Resolver   types.ClassResolver
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Discoverer == nil {
		return nil, fmt.Errorf("discoverer is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	return &Registry{
		config:     cfg,
		components: make(map[string][]*types.TestUnit),
	}, nil
}

// Mode returns the discovery mode this registry was built with
func (r *Registry) Mode() string {
	return r.config.Discoverer.Mode()
}

// RegisterUnits discovers the test units of a component and publishes one ADD
// event per unit, in discovery order. Registering a known component is a no-op.
func (r *Registry) RegisterUnits(ctx context.Context, component types.Component) error {
	r.mutate.Lock()
	defer r.mutate.Unlock()

	r.mu.RLock()
	_, known := r.components[component.ID]
	r.mu.RUnlock()
	if known {
		r.config.Log.Debug("Component already registered", "component", component.ID)
		return nil
	}

	candidates, err := r.config.Discoverer.Discover(ctx, component)
	if err != nil {
		return fmt.Errorf("discovering tests of %s: %w", component.ID, err)
	}

	units := make([]*types.TestUnit, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		unit := types.NewTestUnit(component.ID, c.Name, c.Dir, r.config.Resolver)
		if seen[unit.ID] {
			continue
		}
		seen[unit.ID] = true
		units = append(units, unit)
	}

	r.mu.Lock()
	r.components[component.ID] = units
	r.order = append(r.order, component.ID)
	size := r.sizeLocked()
	r.mu.Unlock()

	metrics.RecordRegistrySize(size)
	r.config.Log.Info("Registered component", "component", component.ID, "tests", len(units))

	for _, unit := range units {
		r.publish(types.RegistryEvent{Type: types.RegistryEventAdd, Test: unit})
	}
	return nil
}

// RemoveUnits forgets every unit of a component and publishes one REMOVE event
// per unit, in the order they were added.
func (r *Registry) RemoveUnits(componentID string) {
	r.mutate.Lock()
	defer r.mutate.Unlock()

	r.mu.Lock()
	units, known := r.components[componentID]
	if known {
		delete(r.components, componentID)
		r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == componentID })
	}
	size := r.sizeLocked()
	r.mu.Unlock()

	if !known {
		return
	}

	metrics.RecordRegistrySize(size)
	r.config.Log.Info("Removed component", "component", componentID, "tests", len(units))

	for _, unit := range units {
		r.publish(types.RegistryEvent{Type: types.RegistryEventRemove, Test: unit})
	}
}

// GetAll returns a snapshot of all known units, grouped by component in registration order
func (r *Registry) GetAll() []*types.TestUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allLocked()
}

// GetByIDs returns the known units whose id is in ids. Unknown ids are omitted.
func (r *Registry) GetByIDs(ids []string) []*types.TestUnit {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var units []*types.TestUnit
	for _, unit := range r.allLocked() {
		if wanted[unit.ID] {
			units = append(units, unit)
		}
	}
	return units
}

// TestIDs returns the ids of all known units
func (r *Registry) TestIDs() []string {
	units := r.GetAll()
	ids := make([]string, 0, len(units))
	for _, unit := range units {
		ids = append(ids, unit.ID)
	}
	return ids
}

// Components returns the ids of the registered components
func (r *Registry) Components() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// AddChangeListener subscribes listener to change events. A nil listener is a programming error.
func (r *Registry) AddChangeListener(listener ChangeListener) {
	if listener == nil {
		panic("registry: nil change listener")
	}
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(slices.Clone(r.listeners), listener)
}

// AddChangeListenerWithSnapshot subscribes listener and hands the current units to seed,
// with no registration or removal in between. Neither an event nor the snapshot is missed.
func (r *Registry) AddChangeListenerWithSnapshot(listener ChangeListener, seed func([]*types.TestUnit)) {
	r.mutate.Lock()
	defer r.mutate.Unlock()

	r.AddChangeListener(listener)
	if seed != nil {
		seed(r.GetAll())
	}
}

// RemoveChangeListener unsubscribes listener. Removing an unknown listener is a no-op.
func (r *Registry) RemoveChangeListener(listener ChangeListener) {
	if listener == nil {
		panic("registry: nil change listener")
	}
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = slices.DeleteFunc(slices.Clone(r.listeners), func(l ChangeListener) bool {
		return l == listener
	})
}

// Dispose forgets all units without publishing REMOVE events
func (r *Registry) Dispose() {
	r.mutate.Lock()
	defer r.mutate.Unlock()

	r.mu.Lock()
	r.components = make(map[string][]*types.TestUnit)
	r.order = nil
	r.mu.Unlock()

	metrics.RecordRegistrySize(0)
	r.config.Log.Info("Registry disposed")
}

func (r *Registry) publish(event types.RegistryEvent) {
	metrics.RecordRegistryEvent(event.Type)

	r.listenersMu.Lock()
	listeners := r.listeners
	r.listenersMu.Unlock()

	for _, l := range listeners {
		if err := r.deliver(l, event); err != nil {
			metrics.RecordListenerFault("listener")
			r.config.Log.Error("Change listener failed", "event", event.Type, "test", event.Test.ID, "err", err)
		}
	}
}

func (r *Registry) deliver(l ChangeListener, event types.RegistryEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return l.RegistryChanged(event)
}

func (r *Registry) allLocked() []*types.TestUnit {
	var units []*types.TestUnit
	for _, id := range r.order {
		units = append(units, r.components[id]...)
	}
	return units
}

func (r *Registry) sizeLocked() int {
	n := 0
	for _, units := range r.components {
		n += len(units)
	}
	return n
}
