// Package obsmetrics exposes the application master's Prometheus metrics,
// registered once at package init the way the teacher's pkg/metrics does.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ContainerRegistry metrics
	RunningContainers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "am_running_containers",
			Help: "Live container count by runnable",
		},
		[]string{"runnable"},
	)

	ContainersStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "am_containers_started_total",
			Help: "Total containers started by runnable",
		},
		[]string{"runnable"},
	)

	ContainersStopped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "am_containers_stopped_total",
			Help: "Total containers stopped by runnable and reason",
		},
		[]string{"runnable", "reason"},
	)

	// ProvisioningLoop metrics
	ProvisioningLoopIterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "am_provisioning_loop_iterations_total",
			Help: "Total provisioning loop ticks",
		},
	)

	ContainerRequestsOutstanding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "am_container_requests_outstanding",
			Help: "Outstanding (unmatched) container requests by runnable",
		},
		[]string{"runnable"},
	)

	ProvisioningTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "am_provisioning_timeouts_total",
			Help: "Total provisioning timeout evaluations by runnable",
		},
		[]string{"runnable"},
	)

	// MessageBus metrics
	MessagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "am_messages_dispatched_total",
			Help: "Total control messages dispatched by scope and command",
		},
		[]string{"scope", "command"},
	)

	MessageDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "am_message_dispatch_duration_seconds",
			Help:    "Time to fully acknowledge a dispatched message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	// InstanceChangeWorker metrics
	InstanceChangesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "am_instance_changes_total",
			Help: "Total instance-count change requests processed by runnable",
		},
		[]string{"runnable"},
	)

	// MetadataClient metrics
	WatchReArms = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "am_metastore_watch_rearms_total",
			Help: "Total times a watch was re-armed after session expiry",
		},
	)

	// ResourceManagerClient metrics
	AllocateCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "am_allocate_cycles_total",
			Help: "Total allocate() polls against the resource manager",
		},
	)

	ContainersAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "am_containers_acquired_total",
			Help: "Total containers acquired from the resource manager",
		},
	)
)

func init() {
	prometheus.MustRegister(RunningContainers)
	prometheus.MustRegister(ContainersStarted)
	prometheus.MustRegister(ContainersStopped)
	prometheus.MustRegister(ProvisioningLoopIterations)
	prometheus.MustRegister(ContainerRequestsOutstanding)
	prometheus.MustRegister(ProvisioningTimeouts)
	prometheus.MustRegister(MessagesDispatched)
	prometheus.MustRegister(MessageDispatchDuration)
	prometheus.MustRegister(InstanceChangesProcessed)
	prometheus.MustRegister(WatchReArms)
	prometheus.MustRegister(AllocateCycles)
	prometheus.MustRegister(ContainersAcquired)
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

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
