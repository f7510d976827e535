package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-sentinel/discovery"
	"github.com/ethereum-optimism/infra/op-sentinel/registry"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// fakeDiscoverer contributes a fixed list of package names per component
type fakeDiscoverer struct {
	mode     string
	packages map[string][]string
}

func (d *fakeDiscoverer) Mode() string {
	if d.mode == "" {
		return discovery.ModeAuto
	}
	return d.mode
}

func (d *fakeDiscoverer) Discover(_ context.Context, component types.Component) ([]discovery.Candidate, error) {
	var candidates []discovery.Candidate
	for _, name := range d.packages[component.ID] {
		candidates = append(candidates, discovery.Candidate{Name: name, Dir: "/src/" + name})
	}
	return candidates, nil
}

// fakeResolver resolves every unit to a class with the configured test functions
type fakeResolver struct {
	tests    map[string][]string
	failures map[string]error
}

func (r *fakeResolver) Resolve(_ context.Context, unit *types.TestUnit) (*types.TestClass, error) {
	if err, ok := r.failures[unit.Name]; ok {
		return nil, err
	}
	tests, ok := r.tests[unit.Name]
	if !ok {
		tests = []string{"TestIt"}
	}
	return &types.TestClass{Name: unit.Name, Dir: unit.Dir, Tests: tests}, nil
}

// fakeExecutor plays back scripted statuses. Each execution of a test function
// consumes the next status of its script, the last one repeats.
type fakeExecutor struct {
	mu       sync.Mutex
	scripts  map[string][]types.TestStatus // "<class>.<func>"
	calls    map[string]int
	runs     []string
	started  chan string
	release  chan struct{}
	panicFor string
	errFor   string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		scripts: make(map[string][]types.TestStatus),
		calls:   make(map[string]int),
	}
}

func (e *fakeExecutor) script(class, fn string, statuses ...types.TestStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[class+"."+fn] = statuses
}

func (e *fakeExecutor) Runs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.runs...)
}

func (e *fakeExecutor) Run(_ context.Context, class *types.TestClass) (*types.StructuralResult, error) {
	return e.execute(class, class.Tests, "run "+class.Name)
}

func (e *fakeExecutor) RunMethod(_ context.Context, class *types.TestClass, method string) (*types.StructuralResult, error) {
	return e.execute(class, []string{method}, "rerun "+class.Name+"."+method)
}

func (e *fakeExecutor) execute(class *types.TestClass, tests []string, label string) (*types.StructuralResult, error) {
	e.mu.Lock()
	e.runs = append(e.runs, label)
	started, release := e.started, e.release
	e.mu.Unlock()

	if started != nil {
		started <- class.Name
	}
	if release != nil {
		<-release
	}
	if class.Name == e.panicFor {
		panic("executor exploded")
	}
	if class.Name == e.errFor {
		return nil, errors.New("go: command not found")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	result := &types.StructuralResult{Elapsed: 1500 * time.Millisecond, Output: "output of " + class.Name}
	for _, fn := range tests {
		key := class.Name + "." + fn
		status := types.TestStatusSuccess
		if script := e.scripts[key]; len(script) > 0 {
			n := e.calls[key]
			if n >= len(script) {
				n = len(script) - 1
			}
			status = script[n]
		}
		e.calls[key]++
		c := &types.CaseResult{Name: fn, Status: status, Duration: 100 * time.Millisecond}
		if status.Failed() {
			c.Message = fmt.Sprintf("%s attempt %d failed", fn, e.calls[key])
		}
		result.Cases = append(result.Cases, c)
	}
	result.Recount()
	return result, nil
}

// memoryWriter keeps written reports in memory
type memoryWriter struct {
	mu      sync.Mutex
	reports []*types.Report
	dirs    []string
	err     error
}

func (w *memoryWriter) Write(dir string, report *types.Report) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.reports = append(w.reports, report)
	w.dirs = append(w.dirs, dir)
	return dir + "/" + report.Name, nil
}

func (w *memoryWriter) Reports() []*types.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*types.Report(nil), w.reports...)
}

func (w *memoryWriter) TestIDs() []string {
	var ids []string
	for _, r := range w.Reports() {
		ids = append(ids, r.TestID)
	}
	return ids
}

// countingObserver counts lifecycle callbacks and reports
type countingObserver struct {
	mu      sync.Mutex
	started int
	stopped int
	reports []string
}

func (o *countingObserver) Started() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) Stopped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped++
}

func (o *countingObserver) ReportWritten(report *types.Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, report.TestID)
}

func (o *countingObserver) counts() (int, int, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started, o.stopped, append([]string(nil), o.reports...)
}

type harness struct {
	registry *registry.Registry
	executor *fakeExecutor
	writer   *memoryWriter
	observer *countingObserver
	resolver *fakeResolver
	packages map[string][]string
}

func newHarness(t *testing.T, packages map[string][]string) *harness {
	t.Helper()
	h := &harness{
		executor: newFakeExecutor(),
		writer:   &memoryWriter{},
		observer: &countingObserver{},
		resolver: &fakeResolver{tests: map[string][]string{}, failures: map[string]error{}},
		packages: packages,
	}
	reg, err := registry.NewRegistry(registry.Config{
		Log:        log.New(),
		Discoverer: &fakeDiscoverer{packages: packages},
		Resolver:   h.resolver,
	})
	require.NoError(t, err)
	h.registry = reg
	return h
}

func (h *harness) register(t *testing.T, componentIDs ...string) {
	t.Helper()
	for _, id := range componentIDs {
		require.NoError(t, h.registry.RegisterUnits(context.Background(), types.Component{ID: id, Dir: "/src/" + id}))
	}
}

func (h *harness) newRunner(t *testing.T, mutate func(*Config)) *Runner {
	t.Helper()
	cfg := Config{
		Log:          log.New(),
		Executor:     h.executor,
		ReportWriter: h.writer,
		Observer:     h.observer,
		ReportsDir:   "surefire-reports",
		Interval:     20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	require.NoError(t, r.BindRegistry(h.registry, ""))
	t.Cleanup(func() {
		r.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Wait(ctx)
	})
	return r
}

func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
	require.Equal(t, StateIdle, r.State())
}
