package runner

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum-optimism/infra/op-sentinel/filter"
	"github.com/ethereum-optimism/infra/op-sentinel/registry"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// ErrNilTest is returned for a registry event that carries no test unit
var ErrNilTest = errors.New("registry event has a nil test")

// WorkQueue is a FIFO of test units waiting for execution. A unit is queued at
// most once, and only if its name passes the queue's filter.
type WorkQueue struct {
	filter *filter.TestFilter

	mu     sync.Mutex
	queue  []*types.TestUnit
	queued map[string]bool
}

var _ registry.ChangeListener = (*WorkQueue)(nil)

// NewWorkQueue creates a queue. A nil filter admits every unit.
func NewWorkQueue(f *filter.TestFilter) *WorkQueue {
	return &WorkQueue{
		filter: f,
		queued: make(map[string]bool),
	}
}

// Add appends unit if it passes the filter and is not already queued
func (q *WorkQueue) Add(unit *types.TestUnit) bool {
	if q.filter != nil && !q.filter.Accept(unit.Name) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.queued[unit.ID] {
		return false
	}
	q.queued[unit.ID] = true
	q.queue = append(q.queue, unit)
	return true
}

// AddAll adds each unit in order
func (q *WorkQueue) AddAll(units []*types.TestUnit) {
	for _, unit := range units {
		q.Add(unit)
	}
}

// Remove drops the unit with the given id if it is still queued
func (q *WorkQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.queued[id] {
		return false
	}
	delete(q.queued, id)
	q.queue = slices.DeleteFunc(q.queue, func(u *types.TestUnit) bool { return u.ID == id })
	return true
}

// Poll removes and returns the head of the queue without blocking
func (q *WorkQueue) Poll() (*types.TestUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return nil, false
	}
	unit := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]
	delete(q.queued, unit.ID)
	return unit, true
}

// Len returns the number of queued units
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// IDs returns the ids of the queued units in order
func (q *WorkQueue) IDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.queue))
	for _, unit := range q.queue {
		ids = append(ids, unit.ID)
	}
	return ids
}

// RegistryChanged implements registry.ChangeListener
func (q *WorkQueue) RegistryChanged(event types.RegistryEvent) error {
	if event.Test == nil {
		return fmt.Errorf("%s event: %w", event.Type, ErrNilTest)
	}
	switch event.Type {
	case types.RegistryEventAdd:
		q.Add(event.Test)
	case types.RegistryEventRemove:
		q.Remove(event.Test.ID)
	default:
		return fmt.Errorf("unsupported registry event type %q", event.Type)
	}
	return nil
}
