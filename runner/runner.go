package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-sentinel/discovery"
	"github.com/ethereum-optimism/infra/op-sentinel/filter"
	"github.com/ethereum-optimism/infra/op-sentinel/metrics"
	"github.com/ethereum-optimism/infra/op-sentinel/registry"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while another is active or stopping
	ErrAlreadyRunning = errors.New("runner is already running")
	// ErrNoRegistry is returned when a run is requested before a registry is bound
	ErrNoRegistry = errors.New("no test registry bound")
	// ErrRegistryRejected is returned when a registry's discovery mode is not the configured one
	ErrRegistryRejected = errors.New("test registry rejected")
)

// Registry is what the runner needs from a test registry
type Registry interface {
	Mode() string
	GetAll() []*types.TestUnit
	GetByIDs(ids []string) []*types.TestUnit
	TestIDs() []string
	AddChangeListenerWithSnapshot(listener registry.ChangeListener, seed func([]*types.TestUnit))
	RemoveChangeListener(listener registry.ChangeListener)
	Dispose()
}

// Config contains runner configuration
type Config struct {
	Log          log.Logger
	Executor     Executor
	Inspector    discovery.Inspector
	ReportWriter ReportWriter
	Observer     Observer

	// ReportsDir is used when a run does not name its own reports directory
	ReportsDir string
	RerunCount int
	// Interval between continuous passes, DefaultInterval when zero
	Interval time.Duration
	// Filter applies to continuous runs, the default exclude when nil
	Filter *filter.TestFilter
	// RegistryMode is the discovery mode a registry must have to replace the bound one
	RegistryMode string
}

// Runner executes the tests of a registry, either once or continuously, one
// unit at a time on a single worker goroutine.
type Runner struct {
	log      log.Logger
	config   Config
	pipeline *Pipeline
	notifier *Notifier
	tracer   trace.Tracer

	mu       sync.Mutex
	state    State
	registry Registry
	queue    *WorkQueue // subscribed to queueReg while continuous
	queueReg Registry
	cancel   context.CancelFunc
	done     chan struct{}

	stopped   atomic.Bool
	testCount atomic.Int64
}

// NewRunner creates a new runner instance
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Filter == nil {
		cfg.Filter = filter.MustNew(nil, nil)
	}
	if cfg.RegistryMode == "" {
		cfg.RegistryMode = discovery.ModeAuto
	}
	if cfg.ReportsDir == "" {
		return nil, fmt.Errorf("reports directory is required")
	}

	pipeline, err := NewPipeline(PipelineConfig{
		Log:        cfg.Log,
		Inspector:  cfg.Inspector,
		Executor:   cfg.Executor,
		Writer:     cfg.ReportWriter,
		RerunCount: cfg.RerunCount,
	})
	if err != nil {
		return nil, err
	}

	r := &Runner{
		log:      cfg.Log,
		config:   cfg,
		pipeline: pipeline,
		notifier: NewNotifier(cfg.Observer, cfg.Log),
		tracer:   otel.Tracer("test runner"),
		state:    StateIdle,
	}
	r.stopped.Store(true)
	metrics.RecordRunnerState(StateIdle.String(), allStates)
	return r, nil
}

// BindRegistry makes reg the registry runs are taken from. An empty mode always
// binds; otherwise the mode must be the configured registry mode.
func (r *Runner) BindRegistry(reg Registry, mode string) error {
	if mode != "" && mode != r.config.RegistryMode {
		r.log.Debug("Ignoring registry", "mode", mode, "want", r.config.RegistryMode)
		return fmt.Errorf("%w: mode %q, runner uses %q", ErrRegistryRejected, mode, r.config.RegistryMode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry = reg
	r.log.Info("Registry bound", "mode", reg.Mode())
	return nil
}

// UnbindRegistry forgets reg if it is the bound registry
func (r *Runner) UnbindRegistry(reg Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registry == reg {
		r.registry = nil
		r.log.Info("Registry unbound", "mode", reg.Mode())
	}
}

// Registry returns the bound registry, or nil
func (r *Runner) Registry() Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry
}

// Start runs every test of the registry that passes the configured filter, and
// keeps running tests as they are registered until Stop.
func (r *Runner) Start(ctx context.Context) error {
	return r.start(ctx, nil, "")
}

// StartFiltered runs once every registered test whose name passes a filter
// built from includes and excludes.
func (r *Runner) StartFiltered(ctx context.Context, includes, excludes []string, reportsDir string) error {
	f, err := filter.New(includes, excludes)
	if err != nil {
		return err
	}
	reg := r.Registry()
	if reg == nil {
		return ErrNoRegistry
	}
	ids := []string{}
	for _, unit := range reg.GetAll() {
		if f.Accept(unit.Name) {
			ids = append(ids, unit.ID)
		}
	}
	return r.start(ctx, ids, reportsDir)
}

// StartTests runs the registered tests with the given ids once, unfiltered.
// Unknown ids are ignored.
func (r *Runner) StartTests(ctx context.Context, ids []string, reportsDir string) error {
	if ids == nil {
		ids = []string{}
	}
	return r.start(ctx, ids, reportsDir)
}

// start launches the worker. A nil ids slice selects continuous mode.
func (r *Runner) start(ctx context.Context, ids []string, reportsDir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registry == nil {
		return ErrNoRegistry
	}
	if r.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, r.state)
	}
	if reportsDir == "" {
		reportsDir = r.config.ReportsDir
	}

	// Tests already executing are never interrupted, only scheduling is cancelled.
	schedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.stopped.Store(false)

	if ids == nil {
		queue := NewWorkQueue(r.config.Filter)
		r.registry.AddChangeListenerWithSnapshot(queue, queue.AddAll)
		r.queue = queue
		r.queueReg = r.registry
		r.testCount.Store(int64(queue.Len()))
		r.setStateLocked(StateRunningContinuous)
		r.log.Info("Starting continuous run", "queued", queue.Len(), "interval", r.config.Interval, "filter", r.config.Filter)
		go r.runContinuous(schedCtx, queue, reportsDir, done)
		return nil
	}

	queue := NewWorkQueue(nil)
	queue.AddAll(r.registry.GetByIDs(ids))
	r.testCount.Store(int64(queue.Len()))
	r.setStateLocked(StateRunningOnce)
	r.log.Info("Starting run", "requested", len(ids), "queued", queue.Len())
	go r.runOnce(schedCtx, queue, reportsDir, done)
	return nil
}

func (r *Runner) runOnce(ctx context.Context, queue *WorkQueue, reportsDir string, done chan struct{}) {
	defer r.finish(done)
	r.pass(ctx, StateRunningOnce, queue, reportsDir)
}

func (r *Runner) runContinuous(ctx context.Context, queue *WorkQueue, reportsDir string, done chan struct{}) {
	defer r.finish(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()
	for {
		if r.stopped.Load() {
			return
		}
		r.pass(ctx, StateRunningContinuous, queue, reportsDir)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pass drains the queue, checking the stop flag before each unit
func (r *Runner) pass(ctx context.Context, state State, queue *WorkQueue, reportsDir string) {
	if queue.Len() == 0 {
		r.testCount.Store(0)
		metrics.RecordQueueDepth(0)
		return
	}

	runID := uuid.New().String()
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("pass %s", runID))
	defer span.End()
	span.SetAttributes(attribute.String("run.mode", state.Mode()))

	// Units already running finish even when the runner is stopped.
	execCtx := context.WithoutCancel(ctx)

	r.notifier.Started()
	defer r.notifier.Stopped()

	start := time.Now()
	executed, skipped := 0, 0
	for !r.stopped.Load() {
		unit, ok := queue.Poll()
		if !ok {
			break
		}
		remaining := queue.Len()
		r.testCount.Store(int64(remaining))
		metrics.RecordQueueDepth(remaining)

		report, err := r.pipeline.Execute(execCtx, unit, runID, reportsDir)
		if err != nil {
			r.log.Error("Failed to write report", "test", unit.ID, "err", err)
		}
		if report == nil {
			skipped++
			continue
		}
		executed++
		r.notifier.ReportWritten(report)
	}

	duration := time.Since(start)
	metrics.RecordPass(state.Mode(), duration)
	r.log.Info("All tests in the queue have been processed", "run_id", runID,
		"executed", executed, "skipped", skipped, "duration", duration, "stopped", r.stopped.Load())
}

func (r *Runner) finish(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped.Store(true)
	r.testCount.Store(0)
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.setStateLocked(StateIdle)
	close(done)
	r.log.Info("Runner idle")
}

// Stop stops the active run. The unit being executed runs to completion and
// is reported, no further unit is started. Stop does not wait for it.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped.Store(true)
	if r.queue != nil {
		r.queueReg.RemoveChangeListener(r.queue)
		r.queue = nil
		r.queueReg = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.state.Running() {
		r.setStateLocked(StateStopping)
		r.log.Info("Stopping runner")
	}
}

// Wait blocks until the active run, if any, has finished or ctx is done
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose stops any run and clears the bound registry
func (r *Runner) Dispose() {
	r.Stop()
	if reg := r.Registry(); reg != nil {
		reg.Dispose()
	}
}

// TestIDs returns the ids known to the bound registry
func (r *Runner) TestIDs() []string {
	reg := r.Registry()
	if reg == nil {
		return nil
	}
	return reg.TestIDs()
}

// IsRunning reports whether a run is active and not being stopped
func (r *Runner) IsRunning() bool {
	return r.State().Running()
}

// IsStopped reports whether the runner is stopped or about to stop
func (r *Runner) IsStopped() bool {
	return r.stopped.Load()
}

// TestCount returns how many units remain in the current pass
func (r *Runner) TestCount() int {
	return int(r.testCount.Load())
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setStateLocked(state State) {
	r.state = state
	metrics.RecordRunnerState(state.String(), allStates)
}
