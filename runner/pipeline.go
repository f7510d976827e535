package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-sentinel/discovery"
	"github.com/ethereum-optimism/infra/op-sentinel/metrics"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// ReportWriter persists one report below dir and returns where it went
type ReportWriter interface {
	Write(dir string, report *types.Report) (string, error)
}

// PipelineConfig contains pipeline configuration
type PipelineConfig struct {
	Log        log.Logger
	Inspector  discovery.Inspector
	Executor   Executor
	Writer     ReportWriter
	RerunCount int
}

// Pipeline executes one test unit: resolve, validate, run, rerun failures, write the report
type Pipeline struct {
	log        log.Logger
	inspector  discovery.Inspector
	executor   Executor
	writer     ReportWriter
	rerunCount int
	tracer     trace.Tracer
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Writer == nil {
		return nil, fmt.Errorf("report writer is required")
	}
	if cfg.RerunCount < 0 {
		return nil, fmt.Errorf("rerun count must not be negative, got %d", cfg.RerunCount)
	}
	if cfg.Inspector == nil {
		cfg.Inspector = discovery.GoInspector{}
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Pipeline{
		log:        cfg.Log,
		inspector:  cfg.Inspector,
		executor:   cfg.Executor,
		writer:     cfg.Writer,
		rerunCount: cfg.RerunCount,
		tracer:     otel.Tracer("test pipeline"),
	}, nil
}

// Execute runs unit and writes exactly one report for it. A unit that cannot be
// resolved or is not runnable is skipped: the report is nil and so is the error.
// The returned error is only set when the report could not be written.
func (p *Pipeline) Execute(ctx context.Context, unit *types.TestUnit, runID, reportsDir string) (*types.Report, error) {
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("unit %s", unit.ID))
	defer span.End()
	span.SetAttributes(attribute.String("unit.component", unit.ComponentID), attribute.String("run.id", runID))

	class, err := unit.Resolve(ctx)
	if err != nil {
		p.log.Error("Cannot resolve test", "test", unit.ID, "err", err)
		metrics.RecordSkippedUnit(SkipReasonResolve)
		return nil, nil
	}
	if !p.inspector.IsRunnable(class) {
		p.log.Debug("Skip package without runnable tests", "test", unit.ID)
		metrics.RecordSkippedUnit(SkipReasonNotRunnable)
		return nil, nil
	}

	p.log.Info("Running test", "test", unit.ID, "tests", len(class.Tests))
	timestamp := time.Now()
	result := p.run(ctx, unit, func() (*types.StructuralResult, error) {
		return p.executor.Run(ctx, class)
	})

	// Counts and time of the original run are what the report keeps.
	tests, elapsed := result.Total(), result.Elapsed

	if !result.WasSuccessful() && p.rerunCount > 0 {
		p.rerun(ctx, unit, class, result)
	}

	report := &types.Report{
		TestID:      unit.ID,
		Name:        unit.Name,
		ComponentID: unit.ComponentID,
		RunID:       runID,
		Timestamp:   timestamp,
		Duration:    elapsed,
		Tests:       tests,
		Failures:    result.Failed,
		Errors:      result.Errored,
		Skipped:     result.Skipped,
		Cases:       result.Cases,
		Stdout:      result.Output,
	}
	report.Status = types.DetermineStatus(report.Tests, report.Failures, report.Errors, report.Skipped)
	span.SetAttributes(attribute.String("unit.status", report.Status.String()))

	metrics.RecordUnit(unit.ComponentID, report.Status, elapsed)
	p.log.Info("Test finished", "test", unit.ID, "status", report.Status,
		"tests", report.Tests, "failures", report.Failures, "errors", report.Errors,
		"skipped", report.Skipped, "duration", elapsed)

	path, err := p.writer.Write(reportsDir, report)
	if err != nil {
		metrics.RecordErrorDetails("write report", err)
		return report, fmt.Errorf("writing report of %s: %w", unit.ID, err)
	}
	p.log.Debug("Report written", "test", unit.ID, "path", path)
	return report, nil
}

// rerun executes each failed test function again, up to the rerun count, until it passes.
// The case keeps its first failure and records every rerun; its status is the last attempt's.
// Only the counters of cases whose status changed are touched.
func (p *Pipeline) rerun(ctx context.Context, unit *types.TestUnit, class *types.TestClass, result *types.StructuralResult) {
	for _, c := range result.Failures() {
		if c.IsSuiteLevel() {
			p.log.Info("Skip rerun of package level failure", "test", unit.ID, "message", c.Message)
			continue
		}

		c.InitialStatus = c.Status
		for attempt := 1; attempt <= p.rerunCount; attempt++ {
			p.log.Info("Rerunning failed test", "test", unit.ID, "func", c.Name, "attempt", attempt)
			rr := p.run(ctx, unit, func() (*types.StructuralResult, error) {
				return p.executor.RunMethod(ctx, class, c.Name)
			})
			outcome := rerunOutcome(rr, c.Name)
			c.Reruns = append(c.Reruns, outcome)
			c.Status = outcome.Status
			metrics.RecordRerun(outcome.Status)
			if !outcome.Status.Failed() {
				break
			}
		}
		result.Reclassify(c.InitialStatus, c.Status)
	}
}

// run calls the executor, turning an error or a panic into a package level error case
func (p *Pipeline) run(ctx context.Context, unit *types.TestUnit, fn func() (*types.StructuralResult, error)) (result *types.StructuralResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Test executor panicked", "test", unit.ID, "panic", r)
			result = suiteErrorResult(fmt.Sprintf("test executor panicked: %v", r), string(debug.Stack()))
		}
	}()

	result, err := fn()
	if err != nil {
		p.log.Error("Test execution failed", "test", unit.ID, "err", err)
		return suiteErrorResult(err.Error(), "")
	}
	if result == nil {
		return suiteErrorResult("test executor returned no result", "")
	}
	return result
}

func suiteErrorResult(message, output string) *types.StructuralResult {
	r := &types.StructuralResult{
		Cases: []*types.CaseResult{{
			Status:  types.TestStatusError,
			Message: message,
			Output:  output,
		}},
	}
	r.Recount()
	return r
}

// rerunOutcome extracts the outcome of one test function from a rerun result
func rerunOutcome(rr *types.StructuralResult, name string) types.RerunAttempt {
	if c := rr.Case(name); c != nil {
		return types.RerunAttempt{
			Status:   c.Status,
			Message:  c.Message,
			Output:   c.Output,
			Duration: c.Duration,
		}
	}
	// The test did not run at all, e.g. the package no longer builds.
	if failures := rr.Failures(); len(failures) > 0 {
		return types.RerunAttempt{
			Status:   types.TestStatusError,
			Message:  failures[0].Message,
			Output:   failures[0].Output,
			Duration: rr.Elapsed,
		}
	}
	return types.RerunAttempt{
		Status:   types.TestStatusError,
		Message:  fmt.Sprintf("%s did not run", name),
		Duration: rr.Elapsed,
	}
}
