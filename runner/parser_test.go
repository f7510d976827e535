package runner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

func parse(t *testing.T, lines ...string) *types.StructuralResult {
	t.Helper()
	return NewOutputParser(0).Parse(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func TestParseMixedOutcomes(t *testing.T) {
	result := parse(t,
		`{"Action":"start","Package":"example.com/m"}`,
		`{"Action":"run","Package":"example.com/m","Test":"TestPass"}`,
		`{"Action":"output","Package":"example.com/m","Test":"TestPass","Output":"=== RUN   TestPass\n"}`,
		`{"Action":"pass","Package":"example.com/m","Test":"TestPass","Elapsed":0.25}`,
		`{"Action":"run","Package":"example.com/m","Test":"TestFail"}`,
		`{"Action":"output","Package":"example.com/m","Test":"TestFail","Output":"=== RUN   TestFail\n"}`,
		`{"Action":"output","Package":"example.com/m","Test":"TestFail","Output":"    m_test.go:12: expected 1, got 2\n"}`,
		`{"Action":"output","Package":"example.com/m","Test":"TestFail","Output":"--- FAIL: TestFail (0.00s)\n"}`,
		`{"Action":"fail","Package":"example.com/m","Test":"TestFail","Elapsed":0}`,
		`{"Action":"run","Package":"example.com/m","Test":"TestSkip"}`,
		`{"Action":"output","Package":"example.com/m","Test":"TestSkip","Output":"    m_test.go:20: needs network\n"}`,
		`{"Action":"skip","Package":"example.com/m","Test":"TestSkip","Elapsed":0}`,
		`{"Action":"output","Package":"example.com/m","Output":"FAIL\n"}`,
		`{"Action":"fail","Package":"example.com/m","Elapsed":1.5}`,
	)

	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Errored)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1500*time.Millisecond, result.Elapsed)
	require.Len(t, result.Cases, 3, "a failing test explains the package failure")

	assert.Equal(t, 250*time.Millisecond, result.Case("TestPass").Duration)
	assert.Empty(t, result.Case("TestPass").Output)

	fail := result.Case("TestFail")
	assert.Equal(t, types.TestStatusFailure, fail.Status)
	assert.Equal(t, "m_test.go:12: expected 1, got 2", fail.Message)
	assert.Contains(t, fail.Output, "--- FAIL: TestFail")

	assert.Equal(t, "m_test.go:20: needs network", result.Case("TestSkip").Message)
	assert.Contains(t, result.Output, "expected 1, got 2")
}

func TestParseFoldsSubtests(t *testing.T) {
	result := parse(t,
		`{"Action":"run","Test":"TestTable"}`,
		`{"Action":"run","Test":"TestTable/case_a"}`,
		`{"Action":"pass","Test":"TestTable/case_a","Elapsed":0.01}`,
		`{"Action":"run","Test":"TestTable/case_b"}`,
		`{"Action":"output","Test":"TestTable/case_b","Output":"    t_test.go:30: case b broke\n"}`,
		`{"Action":"fail","Test":"TestTable/case_b","Elapsed":0.01}`,
		`{"Action":"fail","Test":"TestTable","Elapsed":0.02}`,
		`{"Action":"fail","Elapsed":0.1}`,
	)

	require.Len(t, result.Cases, 1)
	c := result.Cases[0]
	assert.Equal(t, "TestTable", c.Name)
	assert.Equal(t, types.TestStatusFailure, c.Status)
	assert.Equal(t, "t_test.go:30: case b broke", c.Message)
}

func TestParsePanicIsError(t *testing.T) {
	result := parse(t,
		`{"Action":"run","Test":"TestBoom"}`,
		`{"Action":"output","Test":"TestBoom","Output":"--- FAIL: TestBoom (0.00s)\n"}`,
		`{"Action":"output","Test":"TestBoom","Output":"panic: runtime error: index out of range [recovered]\n"}`,
		`{"Action":"fail","Test":"TestBoom","Elapsed":0}`,
		`{"Action":"fail","Elapsed":0.1}`,
	)

	require.Len(t, result.Cases, 1)
	assert.Equal(t, types.TestStatusError, result.Cases[0].Status)
	assert.Equal(t, "panic: runtime error: index out of range [recovered]", result.Cases[0].Message)
	assert.Equal(t, 1, result.Errored)
}

// TestParseUnfinishedTest tests that a test still running when the binary dies is an error
func TestParseUnfinishedTest(t *testing.T) {
	result := parse(t,
		`{"Action":"run","Test":"TestDone"}`,
		`{"Action":"pass","Test":"TestDone","Elapsed":0}`,
		`{"Action":"run","Test":"TestSlow"}`,
		`{"Action":"output","Output":"panic: test timed out after 1s\n"}`,
		`{"Action":"output","Output":"\trunning tests:\n"}`,
		`{"Action":"fail","Elapsed":1.01}`,
	)

	require.Len(t, result.Cases, 2)
	slow := result.Case("TestSlow")
	assert.Equal(t, types.TestStatusError, slow.Status)
	assert.Equal(t, "panic: test timed out after 1s", slow.Message)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Errored)
}

func TestParseBuildFailure(t *testing.T) {
	result := parse(t,
		`# example.com/m [example.com/m.test]`,
		`./m_test.go:5:2: undefined: missing`,
		`{"Action":"start","Package":"example.com/m"}`,
		`{"Action":"output","Package":"example.com/m","Output":"FAIL\texample.com/m [build failed]\n"}`,
		`{"Action":"fail","Package":"example.com/m","Elapsed":0}`,
	)

	require.Len(t, result.Cases, 1)
	c := result.Cases[0]
	assert.True(t, c.IsSuiteLevel())
	assert.Equal(t, types.TestStatusError, c.Status)
	assert.Equal(t, "# example.com/m [example.com/m.test]", c.Message)
	assert.Contains(t, c.Output, "undefined: missing")
	assert.False(t, result.WasSuccessful())
}

func TestParseBuildEvents(t *testing.T) {
	result := parse(t,
		`{"ImportPath":"example.com/m","Action":"build-output","Output":"m.go:3:1: syntax error\n"}`,
		`{"ImportPath":"example.com/m","Action":"build-fail"}`,
		`{"Action":"start","Package":"example.com/m"}`,
		`{"Action":"fail","Package":"example.com/m","Elapsed":0,"FailedBuild":"example.com/m"}`,
	)

	require.Len(t, result.Cases, 1)
	assert.Equal(t, "m.go:3:1: syntax error", result.Cases[0].Message)
}

func TestParseEmptyOutput(t *testing.T) {
	result := parse(t)
	assert.Empty(t, result.Cases)
	assert.True(t, result.WasSuccessful())
	assert.Zero(t, result.Total())
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "", failureMessage(""))
	assert.Equal(t, "x_test.go:1: boom", failureMessage("=== RUN   TestX\n    x_test.go:1: boom\n--- FAIL: TestX\n"))
	assert.Equal(t, "panic: oh no", failureMessage("first line\npanic: oh no\n"))
}
