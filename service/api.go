package service

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-sentinel/runner"
)

// RPCNamespace is the JSON-RPC namespace of the management API
const RPCNamespace = "runner"

// Runner is the part of the test runner exposed over the management API
type Runner interface {
	Start(ctx context.Context) error
	StartFiltered(ctx context.Context, includes, excludes []string, reportsDir string) error
	StartTests(ctx context.Context, ids []string, reportsDir string) error
	Stop()
	Dispose()
	IsRunning() bool
	IsStopped() bool
	TestCount() int
	TestIDs() []string
	State() runner.State
}

// API implements the runner_* JSON-RPC methods
type API struct {
	log    log.Logger
	runner Runner
}

func NewAPI(r Runner, logger log.Logger) *API {
	if logger == nil {
		logger = log.New()
	}
	return &API{log: logger, runner: r}
}

// Start starts a continuous run of every registered test
func (a *API) Start(ctx context.Context) error {
	a.log.Info("Management request", "method", "start")
	return a.runner.Start(ctx)
}

// StartFiltered runs once the registered tests accepted by the given patterns
func (a *API) StartFiltered(ctx context.Context, includes, excludes []string, reportsPath string) error {
	a.log.Info("Management request", "method", "startFiltered", "includes", includes, "excludes", excludes, "reports", reportsPath)
	return a.runner.StartFiltered(ctx, includes, excludes, reportsPath)
}

// StartTests runs once the registered tests with the given ids
func (a *API) StartTests(ctx context.Context, ids []string, reportsPath string) error {
	a.log.Info("Management request", "method", "startTests", "ids", len(ids), "reports", reportsPath)
	return a.runner.StartTests(ctx, ids, reportsPath)
}

func (a *API) Stop() {
	a.log.Info("Management request", "method", "stop")
	a.runner.Stop()
}

// Dispose stops the runner and clears the registry
func (a *API) Dispose() {
	a.log.Info("Management request", "method", "dispose")
	a.runner.Dispose()
}

func (a *API) IsRunning() bool {
	return a.runner.IsRunning()
}

func (a *API) IsStopped() bool {
	return a.runner.IsStopped()
}

func (a *API) TestCount() int {
	return a.runner.TestCount()
}

// TestIds lists the registered test ids, served as runner_testIds
func (a *API) TestIds() []string {
	ids := a.runner.TestIDs()
	if ids == nil {
		return []string{}
	}
	return ids
}

func (a *API) State() string {
	return a.runner.State().String()
}
