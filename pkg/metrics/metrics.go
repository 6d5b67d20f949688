package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProvisionStageDuration tracks how long each pipeline stage takes.
	ProvisionStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nspawnd_provision_stage_duration_seconds",
			Help:    "Time taken by each provisioning pipeline stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// ProvisionJobsTotal counts completed creation jobs by terminal status.
	ProvisionJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nspawnd_provision_jobs_total",
			Help: "Total number of creation jobs by terminal status",
		},
		[]string{"status"},
	)

	// LifecycleOpDuration tracks lifecycle controller operation latency.
	LifecycleOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nspawnd_lifecycle_op_duration_seconds",
			Help:    "Time taken by lifecycle controller operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// DNATRulesInstalled is the current count of active port-forward rules.
	DNATRulesInstalled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nspawnd_dnat_rules_installed",
			Help: "Number of port-forward DNAT rules currently installed",
		},
	)

	// HostInvokerCommandsTotal counts every command the Host Invoker runs,
	// by argv[0] and outcome.
	HostInvokerCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nspawnd_host_invoker_commands_total",
			Help: "Total number of commands executed through the Host Invoker",
		},
		[]string{"command", "outcome"},
	)

	// ContainersTotal is the current container count by observed status.
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nspawnd_containers_total",
			Help: "Total number of containers by lifecycle status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(ProvisionStageDuration)
	prometheus.MustRegister(ProvisionJobsTotal)
	prometheus.MustRegister(LifecycleOpDuration)
	prometheus.MustRegister(DNATRulesInstalled)
	prometheus.MustRegister(HostInvokerCommandsTotal)
	prometheus.MustRegister(ContainersTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
