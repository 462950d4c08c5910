// Package metrics exposes Prometheus metrics for the portfolio pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Pipeline metrics
	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	signalsGenerated *prometheus.CounterVec
	signalsBlocked   *prometheus.CounterVec
	signalsExecuted  *prometheus.CounterVec
	strategyErrors   *prometheus.CounterVec
	graphWarnings    *prometheus.CounterVec
	rebalanceActions *prometheus.CounterVec
	alertsFired      *prometheus.CounterVec
	equity           prometheus.Gauge
	cash             prometheus.Gauge
	drawdown         prometheus.Gauge
	heat             prometheus.Gauge
	openPositions    prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	// Pipeline metrics
	r.cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_cycles_total",
			Help: "Total number of portfolio cycles by outcome",
		},
		[]string{"status"},
	)
	r.cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalflow_cycle_duration_seconds",
			Help:    "Portfolio cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	r.signalsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_signals_generated_total",
			Help: "Total number of signals generated",
		},
		[]string{"strategy", "action"},
	)
	r.signalsBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_signals_blocked_total",
			Help: "Total number of signals rejected before execution",
		},
		[]string{"reason"},
	)
	r.signalsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_signals_executed_total",
			Help: "Total number of signals executed",
		},
		[]string{"strategy", "action"},
	)
	r.strategyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_strategy_errors_total",
			Help: "Total number of failed strategy runs",
		},
		[]string{"strategy", "code"},
	)
	r.graphWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_graph_warnings_total",
			Help: "Total number of graph evaluation warnings",
		},
		[]string{"strategy"},
	)
	r.rebalanceActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_rebalance_actions_total",
			Help: "Total number of rebalancing actions generated",
		},
		[]string{"direction"},
	)
	r.alertsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalflow_alerts_total",
			Help: "Total number of alerts fired",
		},
		[]string{"severity"},
	)
	r.equity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalflow_portfolio_equity",
		Help: "Current portfolio equity",
	})
	r.cash = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalflow_portfolio_cash",
		Help: "Current uninvested cash",
	})
	r.drawdown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalflow_portfolio_drawdown_percent",
		Help: "Current drawdown from peak equity in percent",
	})
	r.heat = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalflow_portfolio_heat",
		Help: "Fraction of equity at risk across open positions",
	})
	r.openPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalflow_open_positions",
		Help: "Number of open positions",
	})

	reg.MustRegister(r.cycles)
	reg.MustRegister(r.cycleDuration)
	reg.MustRegister(r.signalsGenerated)
	reg.MustRegister(r.signalsBlocked)
	reg.MustRegister(r.signalsExecuted)
	reg.MustRegister(r.strategyErrors)
	reg.MustRegister(r.graphWarnings)
	reg.MustRegister(r.rebalanceActions)
	reg.MustRegister(r.alertsFired)
	reg.MustRegister(r.equity)
	reg.MustRegister(r.cash)
	reg.MustRegister(r.drawdown)
	reg.MustRegister(r.heat)
	reg.MustRegister(r.openPositions)

	return r
}

// Handler returns an http.Handler serving this registry, instrumented with
// the HTTP metrics.
func (r *Registry) Handler() http.Handler {
	return HTTPMiddleware(r)(promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{}))
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordCycle records a completed cycle and its outcome.
func (r *Registry) RecordCycle(status string, duration float64) {
	r.cycles.WithLabelValues(status).Inc()
	r.cycleDuration.Observe(duration)
}

// RecordSignal records a generated signal.
func (r *Registry) RecordSignal(strategy, action string) {
	r.signalsGenerated.WithLabelValues(strategy, action).Inc()
}

// RecordBlocked records a signal rejected with reason.
func (r *Registry) RecordBlocked(reason string) {
	r.signalsBlocked.WithLabelValues(reason).Inc()
}

// RecordExecuted records an executed signal.
func (r *Registry) RecordExecuted(strategy, action string) {
	r.signalsExecuted.WithLabelValues(strategy, action).Inc()
}

// RecordStrategyError records a failed strategy run.
func (r *Registry) RecordStrategyError(strategy, code string) {
	r.strategyErrors.WithLabelValues(strategy, code).Inc()
}

// RecordGraphWarnings adds n evaluation warnings for a strategy.
func (r *Registry) RecordGraphWarnings(strategy string, n int) {
	if n > 0 {
		r.graphWarnings.WithLabelValues(strategy).Add(float64(n))
	}
}

// RecordRebalanceAction records a generated rebalancing action.
func (r *Registry) RecordRebalanceAction(direction string) {
	r.rebalanceActions.WithLabelValues(direction).Inc()
}

// RecordAlert records a fired alert.
func (r *Registry) RecordAlert(severity string) {
	r.alertsFired.WithLabelValues(severity).Inc()
}

// SetPortfolio updates the portfolio gauges.
func (r *Registry) SetPortfolio(equity, cash, drawdown, heat float64, positions int) {
	r.equity.Set(equity)
	r.cash.Set(cash)
	r.drawdown.Set(drawdown)
	r.heat.Set(heat)
	r.openPositions.Set(float64(positions))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
