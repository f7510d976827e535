package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// Executor runs resolved test classes. Both methods block until the tests finish.
type Executor interface {
	// Run executes every test of the class
	Run(ctx context.Context, class *types.TestClass) (*types.StructuralResult, error)
	// RunMethod executes a single top-level test of the class
	RunMethod(ctx context.Context, class *types.TestClass, method string) (*types.StructuralResult, error)
}

// CommandBuilder creates a command and the cleanup to call once it has finished
type CommandBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// GoTestExecutor runs tests with `go test -json` in the package directory
type GoTestExecutor struct {
	goBinary   string
	timeout    time.Duration
	log        log.Logger
	cmdBuilder CommandBuilder
	parser     OutputParser
}

var _ Executor = (*GoTestExecutor)(nil)

// NewGoTestExecutor creates an executor. A zero timeout uses DefaultTestTimeout.
func NewGoTestExecutor(goBinary string, timeout time.Duration, logger log.Logger) *GoTestExecutor {
	if goBinary == "" {
		goBinary = DefaultGoBinary
	}
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	if logger == nil {
		logger = log.New()
	}
	return &GoTestExecutor{
		goBinary:   goBinary,
		timeout:    timeout,
		log:        logger,
		cmdBuilder: testCommandContext,
		parser:     NewOutputParser(defaultOutputTailBytes),
	}
}

// testCommandContext runs the go tool with the caller's environment, plus the
// trace context so test processes can join the current span.
func testCommandContext(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Env = telemetry.InstrumentEnvironment(ctx, os.Environ())
	return cmd, func() {}
}

// Run implements Executor
func (e *GoTestExecutor) Run(ctx context.Context, class *types.TestClass) (*types.StructuralResult, error) {
	return e.execute(ctx, class, class.Tests)
}

// RunMethod implements Executor
func (e *GoTestExecutor) RunMethod(ctx context.Context, class *types.TestClass, method string) (*types.StructuralResult, error) {
	return e.execute(ctx, class, []string{method})
}

func (e *GoTestExecutor) execute(ctx context.Context, class *types.TestClass, tests []string) (*types.StructuralResult, error) {
	if class == nil || class.Dir == "" {
		return nil, errors.New("class has no package directory")
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("no tests to run in %s", class.Name)
	}

	// The go tool enforces the test timeout itself and reports it. The context
	// deadline only guards against a hung toolchain.
	ctx, cancel := context.WithTimeout(ctx, e.timeout+time.Minute)
	defer cancel()

	args := e.buildTestArgs(tests)
	cmd, cleanup := e.cmdBuilder(ctx, e.goBinary, args...)
	defer cleanup()
	cmd.Dir = class.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr := newTailBuffer(maxCaseOutputBytes)
	cmd.Stderr = stderr

	e.log.Debug("Running tests", "package", class.Name, "command", cmd.String())

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", e.goBinary, err)
	}
	result := e.parser.Parse(stdout)
	// Drain whatever the parser left so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	runErr := cmd.Wait()
	duration := time.Since(startTime)

	if result.Elapsed == 0 {
		result.Elapsed = duration
	}

	if runErr != nil {
		exitErr := &exec.ExitError{}
		switch {
		case errors.As(runErr, &exitErr) && exitErr.ExitCode() == 1 && !result.WasSuccessful():
			// Expected test failure
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			addSuiteError(result, fmt.Sprintf("test process killed after %s", duration.Round(time.Millisecond)), stderr.String())
		case errors.As(runErr, &exitErr) && exitErr.ExitCode() == 2:
			addSuiteError(result, "test compilation failed", stderr.String())
		default:
			addSuiteError(result, fmt.Sprintf("test execution failed: %v", runErr), stderr.String())
		}
	}

	return result, nil
}

func (e *GoTestExecutor) buildTestArgs(tests []string) []string {
	quoted := make([]string, len(tests))
	for i, name := range tests {
		quoted[i] = regexp.QuoteMeta(name)
	}
	return []string{
		TestCommand, JSONFlag, VerboseFlag,
		CountFlag, DisableCacheCount,
		TimeoutFlag, e.timeout.String(),
		RunFlag, fmt.Sprintf("^(%s)$", strings.Join(quoted, "|")),
		CurrentDirPattern,
	}
}

// addSuiteError records a failure of the test process itself, unless a test already explains it
func addSuiteError(result *types.StructuralResult, message, stderr string) {
	if !result.WasSuccessful() {
		return
	}
	var out bytes.Buffer
	out.WriteString(message)
	if stderr != "" {
		out.WriteString("\n")
		out.WriteString(stderr)
	}
	result.Cases = append(result.Cases, &types.CaseResult{
		Status:  types.TestStatusError,
		Message: message,
		Output:  out.String(),
	})
	result.Recount()
}
