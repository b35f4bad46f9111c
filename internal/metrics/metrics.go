// Package metrics holds the Prometheus metrics recorded for plugin operations.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OperationInstall   = "install"
	OperationUpdate    = "update"
	OperationUninstall = "uninstall"
	OperationList      = "list"
	OperationApply     = "apply"
)

var (
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	installsInFlight  prometheus.Gauge
)

// MustRegisterMetrics registers metrics and panics on error.
func MustRegisterMetrics(registerer prometheus.Registerer) {
	if err := RegisterMetrics(registerer); err != nil {
		panic(err)
	}
}

// RegisterMetrics registers the plugin operation metrics.
func RegisterMetrics(registerer prometheus.Registerer) error {
	return errors.Join(
		registerer.Register(operationsTotal),
		registerer.Register(operationDuration),
		registerer.Register(installsInFlight),
	)
}

func init() {
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plugctl_plugin_operations_total",
			Help: "Number of plugin operations by outcome",
		},
		[]string{"operation", "status"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plugctl_plugin_operation_duration_seconds",
			Help:    "Duration of plugin operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	installsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plugctl_plugin_installs_in_flight",
		Help: "Number of plugin installs currently running",
	})
}

// Observe records the outcome and duration of an operation started at start.
func Observe(operation, status string, start time.Time) {
	operationsTotal.WithLabelValues(operation, status).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// OperationsCounter returns the counter of an operation outcome.
func OperationsCounter(operation, status string) prometheus.Counter {
	return operationsTotal.WithLabelValues(operation, status)
}

// TrackInstall marks an install as running until the returned func is called.
func TrackInstall() (done func()) {
	installsInFlight.Inc()
	return installsInFlight.Dec
}

// WriteToTextfile writes the metrics gathered by g in the text exposition
// format, suitable for the node exporter textfile collector.
func WriteToTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
