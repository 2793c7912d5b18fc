// Package metrics exposes Prometheus counters for rebalancing runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_orders_total",
			Help: "Order submissions by stage, direction and result",
		},
		[]string{"stage", "direction", "result"}, // twap|close, buy|sell, submitted|failed
	)

	skipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_skips_total",
			Help: "Instruments left untouched for a tick, by stage and reason",
		},
		[]string{"stage", "reason"},
	)

	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rebalancer_ticks_total",
			Help: "Scheduler ticks executed",
		},
	)

	bookRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rebalancer_book_retries_total",
			Help: "Order book reads repeated because the top of book was missing",
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rebalancer_runs_total",
			Help: "Finished runs by status",
		},
		[]string{"status"}, // completed|failed
	)

	runActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rebalancer_run_active",
			Help: "1 while a rebalancing run is executing",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal, skipsTotal, ticksTotal, bookRetriesTotal)
	prometheus.MustRegister(runsTotal, runActive)
}

func IncOrder(stage, direction string, succeeded bool) {
	result := "submitted"
	if !succeeded {
		result = "failed"
	}
	ordersTotal.WithLabelValues(stage, direction, result).Inc()
}

func IncSkip(stage, reason string) { skipsTotal.WithLabelValues(stage, reason).Inc() }
func IncTick()                     { ticksTotal.Inc() }
func IncBookRetry()                { bookRetriesTotal.Inc() }

// RunStarted flips the active gauge on
func RunStarted() { runActive.Set(1) }

// RunFinished counts the outcome and flips the active gauge off
func RunFinished(status string) {
	runsTotal.WithLabelValues(status).Inc()
	runActive.Set(0)
}
