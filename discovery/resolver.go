package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

const (
	// DefaultGoBinary is used when no go binary is configured
	DefaultGoBinary = "go"

	// DefaultListTimeout bounds a single `go test -list` invocation
	DefaultListTimeout = 2 * time.Minute
)

// CommandBuilder creates the command used to invoke the go tool
type CommandBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd

// GoListResolver resolves a TestUnit by listing the tests of its package with the go tool.
// A package that does not build cannot be listed, which is reported as a resolution failure.
type GoListResolver struct {
	goBinary   string
	timeout    time.Duration
	log        log.Logger
	cmdBuilder CommandBuilder
}

var _ types.ClassResolver = (*GoListResolver)(nil)

// NewGoListResolver creates a GoListResolver
func NewGoListResolver(goBinary string, timeout time.Duration, logger log.Logger) *GoListResolver {
	if goBinary == "" {
		goBinary = DefaultGoBinary
	}
	if timeout <= 0 {
		timeout = DefaultListTimeout
	}
	if logger == nil {
		logger = log.New()
	}
	return &GoListResolver{
		goBinary:   goBinary,
		timeout:    timeout,
		log:        logger,
		cmdBuilder: exec.CommandContext,
	}
}

// Resolve implements types.ClassResolver
func (r *GoListResolver) Resolve(ctx context.Context, unit *types.TestUnit) (*types.TestClass, error) {
	if _, err := os.Stat(unit.Dir); err != nil {
		return nil, fmt.Errorf("package directory of %s: %w", unit.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	listCmd := r.cmdBuilder(ctx, r.goBinary, "test", "-list", "^Test", ".")
	listCmd.Dir = unit.Dir

	var listOut, listOutErr bytes.Buffer
	listCmd.Stdout = &listOut
	listCmd.Stderr = &listOutErr

	r.log.Debug("Listing tests in package", "test", unit.ID, "command", listCmd.String())

	if err := listCmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("listing tests of %s timed out after %s", unit.ID, r.timeout)
		}
		return nil, fmt.Errorf("listing tests of %s: %w\nstderr: %s", unit.ID, err, listOutErr.String())
	}

	return &types.TestClass{
		Name:  unit.Name,
		Dir:   unit.Dir,
		Tests: ParseTestListOutput(listOut.Bytes()),
	}, nil
}

// ParseTestListOutput extracts test function names from `go test -list` output
func ParseTestListOutput(output []byte) []string {
	var testNames []string
	for _, line := range bytes.Split(output, []byte("\n")) {
		name := strings.TrimSpace(string(line))
		// Trailing "ok  <pkg> 0.01s" and "?  <pkg> [no test files]" lines contain spaces.
		if name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		if IsTestFuncName(name) {
			testNames = append(testNames, name)
		}
	}
	return testNames
}
