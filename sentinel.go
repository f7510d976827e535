package sentinel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-sentinel/discovery"
	"github.com/ethereum-optimism/infra/op-sentinel/filter"
	"github.com/ethereum-optimism/infra/op-sentinel/registry"
	"github.com/ethereum-optimism/infra/op-sentinel/reporting"
	"github.com/ethereum-optimism/infra/op-sentinel/runner"
	"github.com/ethereum-optimism/infra/op-sentinel/service"
	"github.com/ethereum-optimism/infra/op-sentinel/source"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// Sentinel implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = (*Sentinel)(nil)

// Sentinel keeps the tests of a set of Go modules running. Modules come and go
// through component sources, their test packages are tracked in a registry and
// executed by a runner controlled over the management API.
type Sentinel struct {
	config   *Config
	version  string
	registry *registry.Registry
	runner   *runner.Runner
	sources  []source.ComponentLifecycleSource
	server   *service.Server
	results  *passResults

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// collaborators are the parts that shell out to the go tool
type collaborators struct {
	executor runner.Executor
	resolver types.ClassResolver
	out      io.Writer
}

func New(config *Config, version string, shutdownCallback func(error)) (*Sentinel, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	return newSentinel(config, version, shutdownCallback, collaborators{
		executor: runner.NewGoTestExecutor(config.GoBinary, config.TestTimeout, config.Log),
		resolver: discovery.NewGoListResolver(config.GoBinary, 0, config.Log),
		out:      os.Stdout,
	})
}

func newSentinel(config *Config, version string, shutdownCallback func(error), deps collaborators) (*Sentinel, error) {
	if err := config.Check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}
	logger := config.Log

	logger.Debug("Creating sentinel with config",
		"componentsDir", config.ComponentsDir,
		"components", config.Components,
		"reportsDir", config.ReportsDir,
		"registryMode", config.RegistryMode,
		"rerunCount", config.RerunCount,
		"runInterval", config.RunInterval)

	var discoverer discovery.Discoverer
	switch config.RegistryMode {
	case discovery.ModeManifest:
		discoverer = discovery.NewManifestDiscoverer(logger)
	default:
		discoverer = discovery.NewAutoDiscoverer(logger)
	}
	reg, err := registry.NewRegistry(registry.Config{
		Log:        logger,
		Discoverer: discoverer,
		Resolver:   deps.resolver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	testFilter, err := filter.New(config.Includes, config.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter: %w", err)
	}
	results := newPassResults(deps.out)
	testRunner, err := runner.NewRunner(runner.Config{
		Log:          logger,
		Executor:     deps.executor,
		ReportWriter: reporting.NewSurefireWriter(logger),
		Observer:     results,
		ReportsDir:   config.ReportsDir,
		RerunCount:   config.RerunCount,
		Interval:     config.RunInterval,
		Filter:       testFilter,
		RegistryMode: config.RegistryMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}
	if err := testRunner.BindRegistry(reg, reg.Mode()); err != nil {
		return nil, err
	}

	server, err := service.NewServer(service.ServerConfig{
		Log:    logger,
		Host:   config.RPCHost,
		Port:   config.RPCPort,
		Runner: testRunner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create management server: %w", err)
	}

	var sources []source.ComponentLifecycleSource
	if len(config.Components) > 0 {
		sources = append(sources, source.NewStatic(config.Components, logger))
	}
	if config.ComponentsDir != "" {
		sources = append(sources, source.NewDirWatcher(config.ComponentsDir, config.SettleDelay, logger))
	}

	return &Sentinel{
		config:           config,
		version:          version,
		registry:         reg,
		runner:           testRunner,
		sources:          sources,
		server:           server,
		results:          results,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start loads the components, serves the management API and, when configured,
// starts running tests.
// Start implements the cliapp.Lifecycle interface.
func (s *Sentinel) Start(ctx context.Context) error {
	log := s.config.Log
	log.Info("Starting op-sentinel", "version", s.version)
	s.running.Store(true)

	if err := s.server.Start(); err != nil {
		return NewRuntimeError(err)
	}

	bridge := source.NewBridge(s.registry, log)
	for _, src := range s.sources {
		if err := src.Start(ctx, bridge); err != nil {
			return NewRuntimeError(fmt.Errorf("failed to start component source: %w", err))
		}
	}
	log.Info("Components loaded", "components", len(s.registry.Components()), "tests", len(s.registry.TestIDs()))

	switch {
	case s.config.RunOnce:
		return s.runOnce(ctx)
	case s.config.Autostart:
		if err := s.runner.Start(ctx); err != nil {
			return NewRuntimeError(fmt.Errorf("failed to start runner: %w", err))
		}
	default:
		log.Info("Waiting for a start request", "endpoint", s.server.Endpoint())
	}
	return nil
}

// runOnce runs every registered test once and asks the application to exit
func (s *Sentinel) runOnce(ctx context.Context) error {
	s.config.Log.Info("Starting op-sentinel in run-once mode")
	if err := s.runner.StartFiltered(ctx, s.config.Includes, s.config.Excludes, ""); err != nil {
		return NewRuntimeError(fmt.Errorf("failed to start runner: %w", err))
	}
	if err := s.runner.Wait(ctx); err != nil {
		return NewRuntimeError(fmt.Errorf("waiting for the test run: %w", err))
	}

	if failed := s.results.Failed(); len(failed) > 0 {
		s.config.Log.Warn("Run-once test run completed with failures", "failed", len(failed))
		return NewTestFailureError(failed)
	}

	s.config.Log.Info("Tests completed, exiting (run-once mode)")
	go s.shutdownCallback(nil)
	return nil
}

// Stop stops the runner, the component sources and the management server.
// Stop implements the cliapp.Lifecycle interface.
func (s *Sentinel) Stop(ctx context.Context) error {
	log := s.config.Log
	if !s.running.Swap(false) {
		log.Debug("Service already stopped, nothing to do")
		return nil
	}
	log.Info("Stopping op-sentinel")

	var result error
	s.runner.Stop()
	if err := s.runner.Wait(ctx); err != nil {
		log.Warn("Test still running at shutdown", "err", err)
		result = errors.Join(result, err)
	}
	for _, src := range s.sources {
		if err := src.Stop(); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop component source: %w", err))
		}
	}
	s.runner.UnbindRegistry(s.registry)
	s.registry.Dispose()
	if err := s.server.Stop(ctx); err != nil {
		result = errors.Join(result, fmt.Errorf("failed to stop management server: %w", err))
	}

	log.Info("op-sentinel stopped")
	return result
}

// Stopped implements the cliapp.Lifecycle interface.
func (s *Sentinel) Stopped() bool {
	return !s.running.Load()
}

// Endpoint returns the URL of the management API
func (s *Sentinel) Endpoint() string {
	return s.server.Endpoint()
}

// passResults prints the summary of each pass and remembers which test
// packages failed in the latest one.
type passResults struct {
	*reporting.SummaryPrinter

	mu     sync.Mutex
	failed []string
}

func newPassResults(out io.Writer) *passResults {
	return &passResults{SummaryPrinter: reporting.NewSummaryPrinter(out)}
}

func (p *passResults) Started() {
	p.mu.Lock()
	p.failed = nil
	p.mu.Unlock()
	p.SummaryPrinter.Started()
}

func (p *passResults) ReportWritten(report *types.Report) {
	if report.Status.Failed() {
		p.mu.Lock()
		p.failed = append(p.failed, report.TestID)
		p.mu.Unlock()
	}
	p.SummaryPrinter.ReportWritten(report)
}

// Failed returns the ids of the test packages that failed in the latest pass
func (p *passResults) Failed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failed...)
}
