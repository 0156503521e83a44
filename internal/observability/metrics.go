// Package observability exposes prometheus collectors for the sync core.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	activeListeners = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ascendr",
		Subsystem: "subscriptions",
		Name:      "active_listeners",
		Help:      "Number of live store listeners tracked by the lifecycle manager.",
	})
	snapshotsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ascendr",
		Subsystem: "subscriptions",
		Name:      "snapshots_delivered_total",
		Help:      "Store snapshots delivered to components, by subject kind.",
	}, []string{"kind"})
	snapshotsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ascendr",
		Subsystem: "subscriptions",
		Name:      "snapshots_dropped_total",
		Help:      "Snapshots dropped because their registration was already detached.",
	})
	refreshesSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ascendr",
		Subsystem: "messaging",
		Name:      "refreshes_suppressed_total",
		Help:      "Conversation refreshes suppressed by the debounce window.",
	})
	storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ascendr",
		Subsystem: "store",
		Name:      "operation_errors_total",
		Help:      "Failed store operations, by operation.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		activeListeners,
		snapshotsDelivered,
		snapshotsDropped,
		refreshesSuppressed,
		storeErrors,
	)
}

// ListenerAttached moves the active-listener gauge up.
func ListenerAttached() { activeListeners.Inc() }

// ListenerDetached moves the active-listener gauge down.
func ListenerDetached() { activeListeners.Dec() }

// RecordSnapshot counts one delivered snapshot for a subject kind.
func RecordSnapshot(kind string) { snapshotsDelivered.WithLabelValues(kind).Inc() }

// RecordDroppedSnapshot counts a snapshot discarded after detach.
func RecordDroppedSnapshot() { snapshotsDropped.Inc() }

// RecordSuppressedRefresh counts a refresh skipped by the debounce gate.
func RecordSuppressedRefresh() { refreshesSuppressed.Inc() }

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) { storeErrors.WithLabelValues(op).Inc() }
