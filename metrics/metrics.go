package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-sentinel/types"
)

const (
	MetricsNamespace = "sentinel"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusSuccess, types.TestStatusFailure, types.TestStatusError, types.TestStatusSkipped}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	unitsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "units_executed_total",
		Help:      "Count of executed test units by final status",
	}, []string{
		"component",
		"result",
	})

	unitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "unit_duration_seconds",
		Help:      "Duration of the original execution of a test unit",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{
		"component",
	})

	rerunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "reruns_total",
		Help:      "Count of rerun attempts of failed tests",
	}, []string{
		"result",
	})

	unitsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "units_skipped_total",
		Help:      "Count of test units skipped before execution",
	}, []string{
		"reason",
	})

	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "passes_total",
		Help:      "Count of completed passes",
	}, []string{
		"mode",
	})

	passDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "pass_duration_seconds",
		Help:      "Duration of the last completed pass",
	}, []string{
		"mode",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "queue_depth",
		Help:      "Number of test units remaining in the current pass",
	})

	registryUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "registry_units",
		Help:      "Number of test units currently known to the registry",
	})

	registryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "registry_events_total",
		Help:      "Count of registry change events",
	}, []string{
		"type",
	})

	listenerFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "listener_faults_total",
		Help:      "Count of errors and panics raised by listeners and observers",
	}, []string{
		"kind",
	})

	runnerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "runner_state",
		Help:      "Current runner state, 1 for the active state",
	}, []string{
		"state",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordUnit records the final outcome of one executed test unit
func RecordUnit(component string, result types.TestStatus, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordUnit - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "units_executed_total",
			"component", component,
			"result", result)
	}
	unitsExecutedTotal.WithLabelValues(component, string(result)).Inc()
	unitDuration.WithLabelValues(component).Observe(duration.Seconds())
}

func RecordRerun(result types.TestStatus) {
	if !isValidResult(result) {
		log.Error("RecordRerun - invalid result", "result", result)
		return
	}
	rerunsTotal.WithLabelValues(string(result)).Inc()
}

// RecordSkippedUnit counts a unit that was never executed, e.g. "resolve" or "not_runnable"
func RecordSkippedUnit(reason string) {
	unitsSkippedTotal.WithLabelValues(reason).Inc()
}

func RecordPass(mode string, duration time.Duration) {
	passesTotal.WithLabelValues(mode).Inc()
	passDuration.WithLabelValues(mode).Set(duration.Seconds())
}

func RecordQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func RecordRegistrySize(n int) {
	registryUnits.Set(float64(n))
}

func RecordRegistryEvent(eventType types.RegistryEventType) {
	registryEventsTotal.WithLabelValues(string(eventType)).Inc()
}

// RecordListenerFault counts a fault raised by a collaborator, kind is "listener" or "observer"
func RecordListenerFault(kind string) {
	if Debug {
		log.Debug("metric inc",
			"m", "listener_faults_total",
			"kind", kind)
	}
	listenerFaultsTotal.WithLabelValues(kind).Inc()
}

// RecordRunnerState marks state as the active runner state
func RecordRunnerState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		runnerState.WithLabelValues(s).Set(v)
	}
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
