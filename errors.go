package sentinel

import (
	"errors"
	"fmt"
	"strings"
)

// RuntimeError is an operational failure of the service itself, such as bad
// configuration or an unreadable components directory. It exits with code 2.
type RuntimeError struct {
	Err error
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a run in which tests failed. It exits with code 1.
type TestFailureError struct {
	Failed []string // ids of the failed test packages
}

func NewTestFailureError(failed []string) *TestFailureError {
	return &TestFailureError{Failed: failed}
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d test packages failed: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
