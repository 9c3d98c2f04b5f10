package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_transitions_total",
			Help: "Symbol lifecycle transitions",
		},
		[]string{"from", "to"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Order milestones by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	mtxRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_order_rejections_total",
			Help: "Broker rejections by classified category",
		},
		[]string{"category"},
	)

	mtxExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_exits_total",
			Help: "Closed positions by exit reason",
		},
		[]string{"reason"},
	)

	mtxSLMods = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_stoploss_modifications_total",
			Help: "Accepted stop-loss changes by trailing reason",
		},
		[]string{"reason"},
	)

	mtxHMARefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_hma_refresh_total",
			Help: "HMA refresh attempts by outcome (updated|skipped|failed)",
		},
		[]string{"outcome"},
	)

	mtxHMALatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_hma_request_seconds",
			Help:    "Latency of HMA service requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	mtxHMARetrySet = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_hma_retry_set",
			Help: "Instruments waiting for an HMA retry",
		},
	)

	mtxActiveSymbols = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_monitored_symbols",
			Help: "Monitored symbols",
		},
	)

	mtxActivePositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_active_positions",
			Help: "Open positions",
		},
	)

	mtxFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_flagged_total",
			Help: "Records flagged after exhausting retries",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTransitions, mtxOrders, mtxRejections, mtxExits, mtxSLMods,
		mtxHMARefresh, mtxHMALatency, mtxHMARetrySet,
		mtxActiveSymbols, mtxActivePositions, mtxFlagged,
	)
}

// ObserveHMARefresh records one HMA refresh outcome. Latency is ignored for
// skipped refreshes.
func ObserveHMARefresh(outcome string, latency time.Duration) {
	mtxHMARefresh.WithLabelValues(outcome).Inc()
	if latency > 0 {
		mtxHMALatency.Observe(latency.Seconds())
	}
}

// SetHMARetrySet sets the size of the HMA retry set.
func SetHMARetrySet(n int) {
	mtxHMARetrySet.Set(float64(n))
}

// SetActive sets the monitored symbol and open position gauges.
func SetActive(symbols, positions int) {
	mtxActiveSymbols.Set(float64(symbols))
	mtxActivePositions.Set(float64(positions))
}
