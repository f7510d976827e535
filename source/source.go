// Package source turns the appearance and disappearance of Go modules into
// component lifecycle notifications.
package source

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-sentinel/discovery"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// Handler receives component lifecycle notifications, on the source's goroutine
type Handler interface {
	OnAdd(ctx context.Context, component types.Component)
	OnRemove(componentID string)
}

// ComponentLifecycleSource reports components as they come and go
type ComponentLifecycleSource interface {
	// Start reports the components present now and keeps reporting changes until Stop
	Start(ctx context.Context, handler Handler) error
	Stop() error
}

// Registry is the part of the registry a Bridge drives
type Registry interface {
	RegisterUnits(ctx context.Context, component types.Component) error
	RemoveUnits(componentID string)
}

// Bridge forwards lifecycle notifications into a registry
type Bridge struct {
	registry Registry
	log      log.Logger
}

var _ Handler = (*Bridge)(nil)

func NewBridge(registry Registry, logger log.Logger) *Bridge {
	if logger == nil {
		logger = log.New()
	}
	return &Bridge{registry: registry, log: logger}
}

// OnAdd implements Handler. A component whose tests cannot be discovered is logged and ignored.
func (b *Bridge) OnAdd(ctx context.Context, component types.Component) {
	if err := b.registry.RegisterUnits(ctx, component); err != nil {
		b.log.Error("Failed to register component", "component", component.ID, "dir", component.Dir, "err", err)
	}
}

// OnRemove implements Handler
func (b *Bridge) OnRemove(componentID string) {
	b.registry.RemoveUnits(componentID)
}

// LoadComponent reads the component rooted at dir
func LoadComponent(dir string) (types.Component, error) {
	modulePath, err := discovery.ReadModulePath(dir)
	if err != nil {
		return types.Component{}, fmt.Errorf("loading component %s: %w", dir, err)
	}
	return types.Component{ID: modulePath, Dir: dir}, nil
}

// Static reports a fixed set of module directories once
type Static struct {
	dirs []string
	log  log.Logger
}

var _ ComponentLifecycleSource = (*Static)(nil)

func NewStatic(dirs []string, logger log.Logger) *Static {
	if logger == nil {
		logger = log.New()
	}
	return &Static{dirs: dirs, log: logger}
}

// Start implements ComponentLifecycleSource
func (s *Static) Start(ctx context.Context, handler Handler) error {
	for _, dir := range s.dirs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		component, err := LoadComponent(dir)
		if err != nil {
			s.log.Error("Skipping component", "dir", dir, "err", err)
			continue
		}
		handler.OnAdd(ctx, component)
	}
	return nil
}

// Stop implements ComponentLifecycleSource
func (s *Static) Stop() error {
	return nil
}
