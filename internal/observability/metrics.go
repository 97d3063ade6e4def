// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	TicksTotal      *prometheus.CounterVec
	TickErrors      prometheus.Counter
	OrdersPlaced    prometheus.Counter
	OrdersRejected  prometheus.Counter
	PositionsClosed *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	DailyTrades     prometheus.Gauge

	// Broker metrics
	BrokerCallLatency *prometheus.HistogramVec
	BrokerCallErrors  *prometheus.CounterVec

	// Backtest metrics
	SimulationRuns  *prometheus.CounterVec
	TradesSimulated prometheus.Counter

	// Health metrics
	LastSuccessfulTick prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fx_session_lab"
	}

	return &Metrics{
		// Engine metrics
		TicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Total number of decision ticks by resulting action",
		}, []string{"action"}),
		TickErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_errors_total",
			Help:      "Total number of ticks that ended with a recovered error",
		}),
		OrdersPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "orders_placed_total",
			Help:      "Total number of market orders confirmed open",
		}),
		OrdersRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "orders_rejected_total",
			Help:      "Total number of market orders the broker rejected",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed by exit reason",
		}, []string{"reason"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "open_positions",
			Help:      "Number of currently open positions (0 or 1)",
		}),
		DailyTrades: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "daily_trades",
			Help:      "Trades opened on the current UTC day",
		}),

		// Broker metrics
		BrokerCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "call_latency_seconds",
			Help:      "Broker API call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		BrokerCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "call_errors_total",
			Help:      "Total number of failed broker API calls",
		}, []string{"op"}),

		// Backtest metrics
		SimulationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "simulation_runs_total",
			Help:      "Total number of simulation runs by status",
		}, []string{"status"}),
		TradesSimulated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "trades_simulated_total",
			Help:      "Total number of trades simulated",
		}),

		// Health metrics
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of the last tick that completed without error",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTick increments the tick counter for an action.
func RecordTick(action string) {
	DefaultMetrics.TicksTotal.WithLabelValues(action).Inc()
}

// RecordTickError increments the recovered tick error counter.
func RecordTickError() {
	DefaultMetrics.TickErrors.Inc()
}

// RecordOrderPlaced increments the confirmed order counter.
func RecordOrderPlaced() {
	DefaultMetrics.OrdersPlaced.Inc()
}

// RecordOrderRejected increments the rejected order counter.
func RecordOrderRejected() {
	DefaultMetrics.OrdersRejected.Inc()
}

// RecordPositionClosed increments the close counter for an exit reason.
func RecordPositionClosed(reason string) {
	DefaultMetrics.PositionsClosed.WithLabelValues(reason).Inc()
}

// UpdatePositionState updates the open-position and daily-trade gauges.
func UpdatePositionState(open bool, tradesToday int) {
	if open {
		DefaultMetrics.OpenPositions.Set(1)
	} else {
		DefaultMetrics.OpenPositions.Set(0)
	}
	DefaultMetrics.DailyTrades.Set(float64(tradesToday))
}

// RecordBrokerCall records broker call latency and failures.
func RecordBrokerCall(op string, seconds float64, err error) {
	DefaultMetrics.BrokerCallLatency.WithLabelValues(op).Observe(seconds)
	if err != nil {
		DefaultMetrics.BrokerCallErrors.WithLabelValues(op).Inc()
	}
}

// MarkTickSuccess records the completion time of a clean tick.
func MarkTickSuccess(t time.Time) {
	DefaultMetrics.LastSuccessfulTick.Set(float64(t.Unix()))
}

// RecordSimulation records a simulation run and its trade count.
func RecordSimulation(status string, trades int) {
	DefaultMetrics.SimulationRuns.WithLabelValues(status).Inc()
	DefaultMetrics.TradesSimulated.Add(float64(trades))
}
