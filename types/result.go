package types

import (
	"time"
)

// TestStatus represents the possible outcomes of a test execution
type TestStatus string

const (
	TestStatusSuccess TestStatus = "success"
	TestStatusFailure TestStatus = "failure"
	TestStatusError   TestStatus = "error"
	TestStatusSkipped TestStatus = "skipped"
)

// String implements the Stringer interface for TestStatus
func (s TestStatus) String() string {
	return string(s)
}

// Failed reports whether the status should be considered for rerun
func (s TestStatus) Failed() bool {
	return s == TestStatusFailure || s == TestStatusError
}

// RerunAttempt records one extra execution of a failed test
type RerunAttempt struct {
	Status   TestStatus
	Message  string
	Output   string
	Duration time.Duration
}

// CaseResult is the outcome of one top-level test function.
// An empty Name marks a suite-level descriptor (build failure, TestMain exit)
// that has no test function it can be rerun by.
type CaseResult struct {
	Name     string
	Status   TestStatus
	Duration time.Duration
	Message  string // short failure message
	Output   string // full failure output
	Reruns   []RerunAttempt
	// InitialStatus is the status of the original run once the case was rerun
	InitialStatus TestStatus
}

// IsSuiteLevel reports whether the case is not bound to a test function
func (c *CaseResult) IsSuiteLevel() bool {
	return c.Name == ""
}

// StructuralResult is what the execution library reports for one run
type StructuralResult struct {
	Passed  int
	Failed  int
	Errored int
	Skipped int
	Cases   []*CaseResult
	Elapsed time.Duration
	Output  string // tail of the raw output, for system-out
}

// Total returns the number of cases that were run
func (r *StructuralResult) Total() int {
	return r.Passed + r.Failed + r.Errored + r.Skipped
}

// WasSuccessful reports whether no case failed or errored
func (r *StructuralResult) WasSuccessful() bool {
	return r.Failed == 0 && r.Errored == 0
}

// Failures returns the cases that failed or errored, in run order
func (r *StructuralResult) Failures() []*CaseResult {
	var failures []*CaseResult
	for _, c := range r.Cases {
		if c.Status.Failed() {
			failures = append(failures, c)
		}
	}
	return failures
}

// Case returns the case with the given name, or nil
func (r *StructuralResult) Case(name string) *CaseResult {
	for _, c := range r.Cases {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Reclassify moves one case from the counter of status from to the counter of status to
func (r *StructuralResult) Reclassify(from, to TestStatus) {
	if from == to {
		return
	}
	if c := r.counter(from); c != nil {
		*c--
	}
	if c := r.counter(to); c != nil {
		*c++
	}
}

func (r *StructuralResult) counter(status TestStatus) *int {
	switch status {
	case TestStatusSuccess:
		return &r.Passed
	case TestStatusFailure:
		return &r.Failed
	case TestStatusError:
		return &r.Errored
	case TestStatusSkipped:
		return &r.Skipped
	}
	return nil
}

// Recount recomputes the pass/fail/error/skip counters from the cases
func (r *StructuralResult) Recount() {
	r.Passed, r.Failed, r.Errored, r.Skipped = 0, 0, 0, 0
	for _, c := range r.Cases {
		switch c.Status {
		case TestStatusSuccess:
			r.Passed++
		case TestStatusFailure:
			r.Failed++
		case TestStatusError:
			r.Errored++
		case TestStatusSkipped:
			r.Skipped++
		}
	}
}

// Report is the durable outcome of executing one TestUnit in one pass.
// Tests and Duration come from the original execution; case statuses reflect
// the last rerun attempt of each failed test.
type Report struct {
	TestID      string
	Name        string
	ComponentID string
	RunID       string
	Status      TestStatus
	Timestamp   time.Time
	Duration    time.Duration
	Tests       int
	Failures    int
	Errors      int
	Skipped     int
	Cases       []*CaseResult
	Stdout      string
}

// DurationMillis returns the elapsed time of the original execution in milliseconds
func (r *Report) DurationMillis() int64 {
	return r.Duration.Milliseconds()
}

// FailureMessages returns the messages of all cases still failing
func (r *Report) FailureMessages() []string {
	var msgs []string
	for _, c := range r.Cases {
		if c.Status.Failed() && c.Message != "" {
			msgs = append(msgs, c.Message)
		}
	}
	return msgs
}

// DetermineStatus derives the aggregate status from the counters
func DetermineStatus(tests, failures, errors, skipped int) TestStatus {
	switch {
	case errors > 0:
		return TestStatusError
	case failures > 0:
		return TestStatusFailure
	case tests > 0 && skipped == tests:
		return TestStatusSkipped
	default:
		return TestStatusSuccess
	}
}
