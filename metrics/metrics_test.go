package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
			assert.Regexp(t, validLabelRegex, result)
		})
	}
}

func TestRecordError(t *testing.T) {
	before := testutil.ToFloat64(errorsTotal.WithLabelValues("test_error"))
	RecordError("test_error")
	assert.Equal(t, before+1, testutil.ToFloat64(errorsTotal.WithLabelValues("test_error")))

	// nil errors are not recorded
	RecordErrorDetails("test", nil)
	RecordErrorDetails("test", errors.New("sample error"))
}

func TestRecordUnit(t *testing.T) {
	before := testutil.ToFloat64(unitsExecutedTotal.WithLabelValues("example.com/a", "failure"))
	RecordUnit("example.com/a", types.TestStatusFailure, time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(unitsExecutedTotal.WithLabelValues("example.com/a", "failure")))

	// invalid results are dropped
	RecordUnit("example.com/a", types.TestStatus("bogus"), time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(unitsExecutedTotal.WithLabelValues("example.com/a", "bogus")))
}

func TestRecordGauges(t *testing.T) {
	RecordQueueDepth(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(queueDepth))

	RecordRegistrySize(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(registryUnits))

	all := []string{"IDLE", "RUNNING_ONCE"}
	RecordRunnerState("RUNNING_ONCE", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(runnerState.WithLabelValues("RUNNING_ONCE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(runnerState.WithLabelValues("IDLE")))
}

func TestRecordCounters(t *testing.T) {
	// just test that these don't panic
	RecordRerun(types.TestStatusSuccess)
	RecordSkippedUnit("resolve")
	RecordPass("continuous", time.Second)
	RecordRegistryEvent(types.RegistryEventAdd)
	RecordListenerFault("observer")
}
