package sentinel

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-sentinel/reporting"
	"github.com/ethereum-optimism/infra/op-sentinel/service"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// mockExecutor is a mock runner.Executor keyed by package name
type mockExecutor struct {
	mock.Mock
	runs atomic.Int32
}

func (m *mockExecutor) Run(_ context.Context, class *types.TestClass) (*types.StructuralResult, error) {
	m.runs.Add(1)
	args := m.Called(class.Name)
	return args.Get(0).(*types.StructuralResult), args.Error(1)
}

func (m *mockExecutor) RunMethod(_ context.Context, class *types.TestClass, method string) (*types.StructuralResult, error) {
	args := m.Called(class.Name, method)
	return args.Get(0).(*types.StructuralResult), args.Error(1)
}

// listResolver resolves every unit to a single TestIt function
type listResolver struct{}

func (listResolver) Resolve(_ context.Context, unit *types.TestUnit) (*types.TestClass, error) {
	return &types.TestClass{Name: unit.Name, Dir: unit.Dir, Tests: []string{"TestIt"}}, nil
}

func result(status types.TestStatus) *types.StructuralResult {
	r := &types.StructuralResult{
		Cases:   []*types.CaseResult{{Name: "TestIt", Status: status}},
		Elapsed: 10 * time.Millisecond,
	}
	if status.Failed() {
		r.Cases[0].Message = "it_test.go:5: broken"
	}
	r.Recount()
	return r
}

// writeModule creates a module with one test package below root
func writeModule(t *testing.T, root, name, modulePath string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "it_test.go"),
		[]byte("package it\n\nimport \"testing\"\n\nfunc TestIt(t *testing.T) {}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module "+modulePath+"\n"), 0644))
	return dir
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		ReportsDir:   filepath.Join(t.TempDir(), "surefire-reports"),
		RegistryMode: "auto",
		RunInterval:  20 * time.Millisecond,
		SettleDelay:  20 * time.Millisecond,
		RPCHost:      "127.0.0.1",
		RPCPort:      0,
		Log:          log.New(),
	}
}

func newTestSentinel(t *testing.T, cfg *Config, executor *mockExecutor, out io.Writer, shutdown func(error)) *Sentinel {
	t.Helper()
	if out == nil {
		out = io.Discard
	}
	s, err := newSentinel(cfg, "test", shutdown, collaborators{executor: executor, resolver: listResolver{}, out: out})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
	})
	return s
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, "test", nil)
	require.Error(t, err)

	_, err = New(&Config{RegistryMode: "auto", RunInterval: time.Second}, "test", nil)
	require.Error(t, err, "there is nothing to test")
}

func TestRunOnceSuccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunOnce = true
	cfg.Components = []string{writeModule(t, t.TempDir(), "a", "example.com/a")}

	executor := &mockExecutor{}
	executor.On("Run", "example.com/a").Return(result(types.TestStatusSuccess), nil)

	shutdown := make(chan error, 1)
	var out bytes.Buffer
	s := newTestSentinel(t, cfg, executor, &out, func(err error) { shutdown <- err })

	require.NoError(t, s.Start(context.Background()))
	select {
	case err := <-shutdown:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run-once mode did not request shutdown")
	}

	executor.AssertExpectations(t)
	assert.FileExists(t, filepath.Join(cfg.ReportsDir, reporting.ReportFileName("example.com/a")))
	assert.Contains(t, out.String(), "example.com/a")
}

func TestRunOnceFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunOnce = true
	root := t.TempDir()
	cfg.Components = []string{
		writeModule(t, root, "a", "example.com/a"),
		writeModule(t, root, "b", "example.com/b"),
	}

	executor := &mockExecutor{}
	executor.On("Run", "example.com/a").Return(result(types.TestStatusSuccess), nil)
	executor.On("Run", "example.com/b").Return(result(types.TestStatusFailure), nil)

	s := newTestSentinel(t, cfg, executor, nil, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	require.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))

	var failure *TestFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, []string{"example.com/b@example.com/b"}, failure.Failed)
}

func TestRunOnceHonorsFilter(t *testing.T) {
	cfg := testConfig(t)
	cfg.RunOnce = true
	cfg.Excludes = []string{"example.com/b/**", "example.com/b"}
	root := t.TempDir()
	cfg.Components = []string{
		writeModule(t, root, "a", "example.com/a"),
		writeModule(t, root, "b", "example.com/b"),
	}

	executor := &mockExecutor{}
	executor.On("Run", "example.com/a").Return(result(types.TestStatusSuccess), nil)

	s := newTestSentinel(t, cfg, executor, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	executor.AssertExpectations(t)
	executor.AssertNotCalled(t, "Run", "example.com/b")
}

// TestAutostartPicksUpNewComponents tests that a continuous run started with an
// empty components directory runs a module added later
func TestAutostartPicksUpNewComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Autostart = true
	cfg.ComponentsDir = t.TempDir()

	executor := &mockExecutor{}
	executor.On("Run", "example.com/late").Return(result(types.TestStatusSuccess), nil)

	s := newTestSentinel(t, cfg, executor, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.registry.TestIDs())

	writeModule(t, cfg.ComponentsDir, "late", "example.com/late")

	require.Eventually(t, func() bool {
		return executor.runs.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"example.com/late@example.com/late"}, s.registry.TestIDs())
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(cfg.ReportsDir, reporting.ReportFileName("example.com/late")))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManagementAPIControlsRunner(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	cfg.Components = []string{
		writeModule(t, root, "a", "example.com/a"),
		writeModule(t, root, "b", "example.com/b"),
	}

	executor := &mockExecutor{}
	executor.On("Run", "example.com/b").Return(result(types.TestStatusSuccess), nil)

	s := newTestSentinel(t, cfg, executor, nil, nil)
	require.NoError(t, s.Start(context.Background()))

	ctx := context.Background()
	client, err := service.Dial(ctx, s.Endpoint())
	require.NoError(t, err)
	defer client.Close()

	ids, err := client.TestIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com/a@example.com/a", "example.com/b@example.com/b"}, ids)

	state, err := client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IDLE", state)

	otherReports := filepath.Join(t.TempDir(), "other")
	require.NoError(t, client.StartTests(ctx, []string{"example.com/b@example.com/b"}, otherReports))

	require.Eventually(t, func() bool {
		stopped, err := client.IsStopped(ctx)
		return err == nil && stopped
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.runner.Wait(ctx))

	executor.AssertExpectations(t)
	executor.AssertNotCalled(t, "Run", "example.com/a")
	assert.FileExists(t, filepath.Join(otherReports, reporting.ReportFileName("example.com/b")))
	assert.NoDirExists(t, cfg.ReportsDir)
}

func TestStopIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Components = []string{writeModule(t, t.TempDir(), "a", "example.com/a")}

	s := newTestSentinel(t, cfg, &mockExecutor{}, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Stopped())

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, s.Stopped())
	assert.Empty(t, s.registry.TestIDs(), "the registry is disposed")
	require.NoError(t, s.Stop(context.Background()))
}

func TestStartFailsOnMissingComponentsDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.ComponentsDir = filepath.Join(t.TempDir(), "missing")

	s := newTestSentinel(t, cfg, &mockExecutor{}, nil, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}
