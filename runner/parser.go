package runner

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// Actions emitted by test2json
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPause       = "pause"
	ActionCont        = "cont"
	ActionPass        = "pass"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBench       = "bench"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// TestEvent represents a test event from go test -json output
type TestEvent struct {
	Time        time.Time
	Action      string
	Package     string
	Test        string
	Elapsed     float64
	Output      string
	FailedBuild string
}

// OutputParser turns the output of one go test -json invocation into a structural result
type OutputParser interface {
	Parse(output io.Reader) *types.StructuralResult
}

type outputParser struct {
	maxOutput int
}

// NewOutputParser creates a parser keeping at most maxOutput bytes of raw output
func NewOutputParser(maxOutput int) OutputParser {
	return &outputParser{maxOutput: maxOutput}
}

type caseState struct {
	name     string
	status   types.TestStatus
	elapsed  float64
	finished bool
	output   *tailBuffer
}

// Parse implements OutputParser. Subtests are folded into their top-level test.
// A top-level test that never finished is reported as an error, and a failed
// package without any failing test yields a suite-level case.
func (p *outputParser) Parse(output io.Reader) *types.StructuralResult {
	var (
		order          []*caseState
		cases          = make(map[string]*caseState)
		raw            = newTailBuffer(p.maxOutput)
		packageOutput  = newTailBuffer(maxCaseOutputBytes)
		packageFailed  bool
		packageElapsed float64
	)

	caseFor := func(name string) *caseState {
		c, ok := cases[name]
		if !ok {
			c = &caseState{name: name, output: newTailBuffer(maxCaseOutputBytes)}
			cases[name] = c
			order = append(order, c)
		}
		return c
	}

	scanner := bufio.NewScanner(output)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var event TestEvent
		if err := json.Unmarshal(line, &event); err != nil || event.Action == "" {
			// Plain text from the go tool, e.g. build errors.
			text := string(line) + "\n"
			raw.WriteString(text)
			packageOutput.WriteString(text)
			continue
		}
		if event.Output != "" {
			raw.WriteString(event.Output)
		}

		switch {
		case event.Action == ActionBuildOutput:
			packageOutput.WriteString(event.Output)
		case event.Action == ActionBuildFail:
			packageFailed = true
		case event.Test == "":
			switch event.Action {
			case ActionOutput:
				packageOutput.WriteString(event.Output)
			case ActionFail:
				packageFailed = true
				packageElapsed = event.Elapsed
			case ActionPass, ActionSkip:
				packageElapsed = event.Elapsed
			}
		default:
			top, _, isSubtest := strings.Cut(event.Test, "/")
			c := caseFor(top)
			if event.Action == ActionOutput {
				c.output.WriteString(event.Output)
				continue
			}
			if isSubtest {
				continue
			}
			switch event.Action {
			case ActionPass:
				c.status, c.elapsed, c.finished = types.TestStatusSuccess, event.Elapsed, true
			case ActionFail:
				c.status, c.elapsed, c.finished = types.TestStatusFailure, event.Elapsed, true
			case ActionSkip:
				c.status, c.elapsed, c.finished = types.TestStatusSkipped, event.Elapsed, true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		packageFailed = true
		packageOutput.WriteString("reading test output: " + err.Error() + "\n")
	}

	result := &types.StructuralResult{
		Elapsed: secondsToDuration(packageElapsed),
		Output:  raw.String(),
	}

	anyFailed := false
	for _, c := range order {
		cr := &types.CaseResult{
			Name:     c.name,
			Status:   c.status,
			Duration: secondsToDuration(c.elapsed),
		}
		out := c.output.String()
		if !c.finished {
			// The test binary died while this test was running, e.g. on timeout.
			cr.Status = types.TestStatusError
			out += packageOutput.String()
		}
		if cr.Status == types.TestStatusFailure && isCrash(out) {
			cr.Status = types.TestStatusError
		}
		if cr.Status != types.TestStatusSuccess {
			cr.Output = out
			cr.Message = failureMessage(out)
		}
		if cr.Status.Failed() {
			anyFailed = true
		}
		result.Cases = append(result.Cases, cr)
	}

	if packageFailed && !anyFailed {
		out := packageOutput.String()
		msg := failureMessage(out)
		if msg == "" {
			msg = "test package failed"
		}
		result.Cases = append(result.Cases, &types.CaseResult{
			Status:  types.TestStatusError,
			Message: msg,
			Output:  out,
		})
	}

	result.Recount()
	return result
}

// isCrash reports whether failure output shows a panic or a test timeout
func isCrash(output string) bool {
	return strings.Contains(output, "panic: ") || strings.Contains(output, "test timed out after")
}

// failureMessage picks the most telling line of a failure output
func failureMessage(output string) string {
	var first string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "=== ") || strings.HasPrefix(trimmed, "--- ") {
			continue
		}
		if strings.HasPrefix(trimmed, "panic: ") {
			return trimmed
		}
		if first == "" {
			first = trimmed
		}
	}
	return first
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
