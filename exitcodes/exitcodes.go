// Package exitcodes defines the exit codes of op-sentinel.
//
// Only run-once mode exits on its own, a continuous service exits with
// Success when interrupted.
package exitcodes

const (
	Success     = 0 // Every test passed, or the service was shut down
	TestFailure = 1 // At least one test package failed
	RuntimeErr  = 2 // Configuration or operational error
)
