package runner

import "time"

// Test execution constants
const (
	// DefaultTestTimeout bounds one go test invocation
	DefaultTestTimeout = 10 * time.Minute

	// DefaultInterval is the delay between two continuous passes
	DefaultInterval = 5 * time.Second

	// Default go binary name
	DefaultGoBinary = "go"

	// Test command arguments
	TestCommand = "test"
	JSONFlag    = "-json"
	VerboseFlag = "-v"
	TimeoutFlag = "-timeout"
	CountFlag   = "-count"
	RunFlag     = "-run"

	// Test count to disable caching
	DisableCacheCount = "1"

	CurrentDirPattern = "."

	// defaultOutputTailBytes is how much raw test output is kept per execution
	defaultOutputTailBytes = 64 * 1024

	// maxCaseOutputBytes caps the output stored on one failed case
	maxCaseOutputBytes = 32 * 1024
)

// Skip reasons recorded for units that were never executed
const (
	SkipReasonResolve     = "resolve"
	SkipReasonNotRunnable = "not_runnable"
)
