package runner

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-sentinel/metrics"
	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

// Observer is told when a pass starts and when it ends
type Observer interface {
	Started()
	Stopped()
}

// ReportObserver is an Observer that also wants every written report
type ReportObserver interface {
	ReportWritten(report *types.Report)
}

// Notifier delivers lifecycle callbacks to an optional observer. A misbehaving
// observer is logged and otherwise ignored.
type Notifier struct {
	observer Observer
	log      log.Logger
}

func NewNotifier(observer Observer, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.New()
	}
	return &Notifier{observer: observer, log: logger}
}

func (n *Notifier) Started() {
	if n.observer == nil {
		return
	}
	n.safely("started", n.observer.Started)
}

func (n *Notifier) Stopped() {
	if n.observer == nil {
		return
	}
	n.safely("stopped", n.observer.Stopped)
}

func (n *Notifier) ReportWritten(report *types.Report) {
	ro, ok := n.observer.(ReportObserver)
	if !ok {
		return
	}
	n.safely("report written", func() { ro.ReportWritten(report) })
}

func (n *Notifier) safely(callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordListenerFault("observer")
			n.log.Error("Observer failed", "callback", callback, "err", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
