// Package types contains shared types used across the sentinel test engine
package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IDSeparator joins the contributing component and the qualified test name in a TestUnit id
const IDSeparator = "@"

// ErrNoResolver is returned when a TestUnit was created without a way to resolve its class
var ErrNoResolver = errors.New("test unit has no class resolver")

// Component is a dynamically loadable unit of code that may contribute tests.
// For Go this is a module directory: ID is the module path, Dir the module root.
type Component struct {
	ID  string
	Dir string
}

func (c Component) String() string {
	return c.ID
}

// TestClass is the resolved, runnable form of a TestUnit
type TestClass struct {
	Name  string   // qualified name (package import path)
	Dir   string   // package directory on disk
	Tests []string // top-level test functions, in listing order
}

// ClassResolver turns a TestUnit into its runnable TestClass.
// Resolution may fail (for example when the package does not build).
type ClassResolver interface {
	Resolve(ctx context.Context, unit *TestUnit) (*TestClass, error)
}

// TestUnit identifies one runnable test package contributed by one component.
// A TestUnit is never mutated after creation; equality is by ID.
type TestUnit struct {
	ID          string
	Name        string
	ComponentID string
	Dir         string

	resolver ClassResolver
}

// NewTestUnit creates a TestUnit whose id is composed as <componentID>@<name>
func NewTestUnit(componentID, name, dir string, resolver ClassResolver) *TestUnit {
	return &TestUnit{
		ID:          ComposeID(componentID, name),
		Name:        name,
		ComponentID: componentID,
		Dir:         dir,
		resolver:    resolver,
	}
}

// Resolve lazily resolves the unit's TestClass
func (u *TestUnit) Resolve(ctx context.Context) (*TestClass, error) {
	if u.resolver == nil {
		return nil, fmt.Errorf("%s: %w", u.ID, ErrNoResolver)
	}
	return u.resolver.Resolve(ctx, u)
}

func (u *TestUnit) String() string {
	return u.ID
}

// ComposeID builds a TestUnit id from its parts
func ComposeID(componentID, name string) string {
	return componentID + IDSeparator + name
}

// SplitID splits a TestUnit id into component id and qualified name.
// Module paths never contain '@', so the first separator is the boundary.
func SplitID(id string) (componentID, name string, ok bool) {
	return strings.Cut(id, IDSeparator)
}

// RegistryEventType is the kind of change a registry reports
type RegistryEventType string

const (
	RegistryEventAdd    RegistryEventType = "ADD"
	RegistryEventRemove RegistryEventType = "REMOVE"
)

// RegistryEvent is emitted exactly once per TestUnit transition
type RegistryEvent struct {
	Type RegistryEventType
	Test *TestUnit
}
