// Package metrics exposes Prometheus counters for the trade lifecycle.
//
//   - sniperbot_trades_queued_total{chain}
//   - sniperbot_trades_rejected_total{reason}   duplicate|invalid
//   - sniperbot_trade_transitions_total{status}
//   - sniperbot_exit_triggers_total{reason}
//   - sniperbot_sell_settlements_total{result}  partial|full|replay|failed
//   - sniperbot_trade_pnl_pct                   histogram of finalized pnl
//   - sniperbot_active_positions
//   - sniperbot_worker_heartbeats_total{worker}
//   - sniperbot_http_requests_total{method,status}
//
// All methods are safe on a nil *Metrics so callers can leave it unset.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors.
type Metrics struct {
	tradesQueued     *prometheus.CounterVec
	tradesRejected   *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	exitTriggers     *prometheus.CounterVec
	sellSettlements  *prometheus.CounterVec
	tradePnLPct      prometheus.Histogram
	activePositions  prometheus.Gauge
	workerHeartbeats *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tradesQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_trades_queued_total",
			Help: "Trades admitted into pending_sigma.",
		}, []string{"chain"}),
		tradesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_trades_rejected_total",
			Help: "Admissions rejected, by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_trade_transitions_total",
			Help: "Trade status transitions, by target status.",
		}, []string{"status"}),
		exitTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_exit_triggers_total",
			Help: "Sell orders created, by reason.",
		}, []string{"reason"}),
		sellSettlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_sell_settlements_total",
			Help: "Sell order outcomes.",
		}, []string{"result"}),
		tradePnLPct: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sniperbot_trade_pnl_pct",
			Help:    "Final pnl percent of sold trades.",
			Buckets: []float64{-90, -50, -25, -10, 0, 10, 25, 50, 100, 200, 500},
		}),
		activePositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sniperbot_active_positions",
			Help: "Active positions seen by the last listing.",
		}),
		workerHeartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_worker_heartbeats_total",
			Help: "Heartbeats received, by worker.",
		}, []string{"worker"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sniperbot_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "status"}),
	}
	reg.MustRegister(
		m.tradesQueued, m.tradesRejected, m.transitions, m.exitTriggers,
		m.sellSettlements, m.tradePnLPct, m.activePositions,
		m.workerHeartbeats, m.httpRequests,
	)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) TradeQueued(chain string) {
	if m == nil {
		return
	}
	m.tradesQueued.WithLabelValues(chain).Inc()
}

func (m *Metrics) TradeRejected(reason string) {
	if m == nil {
		return
	}
	m.tradesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ExitTriggered(reason string) {
	if m == nil {
		return
	}
	m.exitTriggers.WithLabelValues(reason).Inc()
}

func (m *Metrics) SellSettled(result string) {
	if m == nil {
		return
	}
	m.sellSettlements.WithLabelValues(result).Inc()
}

func (m *Metrics) TradeFinalized(pnlPct float64) {
	if m == nil {
		return
	}
	m.tradePnLPct.Observe(pnlPct)
}

func (m *Metrics) SetActivePositions(n int) {
	if m == nil {
		return
	}
	m.activePositions.Set(float64(n))
}

func (m *Metrics) Heartbeat(worker string) {
	if m == nil {
		return
	}
	m.workerHeartbeats.WithLabelValues(worker).Inc()
}

func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
