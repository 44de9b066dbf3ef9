package resolvercore

import "github.com/prometheus/client_golang/prometheus"

// coreMetrics tracks the handful of counters and gauges an operator needs
// to see backpressure and order-lifecycle health at a glance (§5
// "Backpressure ... MUST be observable").
type coreMetrics struct {
	droppedEvents  prometheus.Counter
	ordersRejected prometheus.Counter
	activeOrders   prometheus.Gauge
	cancelSweeps   prometheus.Counter
	gasSpentWei    prometheus.Counter
}

func newCoreMetrics() *coreMetrics {
	return &coreMetrics{
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "core",
			Name:      "dropped_events_total",
			Help:      "Incoming monitor events dropped because the dispatch queue was saturated.",
		}),
		ordersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "core",
			Name:      "orders_rejected_total",
			Help:      "Orders parked in Created because the profitability policy rejected them.",
		}),
		activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resolver",
			Subsystem: "core",
			Name:      "active_orders",
			Help:      "Orders currently owned by a running orderWorker.",
		}),
		cancelSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "core",
			Name:      "cancel_sweeps_total",
			Help:      "Destination escrows cancelled by the sweeper after timeout.",
		}),
		gasSpentWei: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resolver",
			Subsystem: "core",
			Name:      "gas_spent_wei_total",
			Help:      "Cumulative native currency spent on gas across all chains, in wei.",
		}),
	}
}

func (m *coreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.droppedEvents.Describe(ch)
	m.ordersRejected.Describe(ch)
	m.activeOrders.Describe(ch)
	m.cancelSweeps.Describe(ch)
	m.gasSpentWei.Describe(ch)
}

func (m *coreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.droppedEvents.Collect(ch)
	m.ordersRejected.Collect(ch)
	m.activeOrders.Collect(ch)
	m.cancelSweeps.Collect(ch)
	m.gasSpentWei.Collect(ch)
}
