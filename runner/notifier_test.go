package runner

import (
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

type lifecycleOnly struct {
	started, stopped int
}

func (o *lifecycleOnly) Started() { o.started++ }
func (o *lifecycleOnly) Stopped() { o.stopped++ }

func TestNotifierWithoutObserver(t *testing.T) {
	n := NewNotifier(nil, log.New())
	assert.NotPanics(t, func() {
		n.Started()
		n.ReportWritten(&types.Report{})
		n.Stopped()
	})
}

func TestNotifierDelivers(t *testing.T) {
	o := &countingObserver{}
	n := NewNotifier(o, log.New())
	n.Started()
	n.ReportWritten(&types.Report{TestID: "a@b"})
	n.Stopped()

	started, stopped, reports := o.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, stopped)
	assert.Equal(t, []string{"a@b"}, reports)

	// observers without report support only get lifecycle callbacks
	lo := &lifecycleOnly{}
	n = NewNotifier(lo, nil)
	n.Started()
	n.ReportWritten(&types.Report{})
	n.Stopped()
	assert.Equal(t, 1, lo.started)
	assert.Equal(t, 1, lo.stopped)
}

func TestNotifierSwallowsPanics(t *testing.T) {
	n := NewNotifier(&panickingObserver{}, log.New())
	assert.NotPanics(t, func() {
		n.Started()
		n.ReportWritten(&types.Report{})
		n.Stopped()
	})
}
