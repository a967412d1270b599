package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the business counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	SalesCompleted  prometheus.Counter
	SaleFailures    *prometheus.CounterVec
	ReturnsDone     prometheus.Counter
	LoginAttempts   *prometheus.CounterVec
	StockMovements  *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	RetriedConflict prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		SalesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "sales_completed_total",
			Help:      "Sales finalized successfully",
		}),
		SaleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "sale_failures_total",
			Help:      "Sales rejected, by reason",
		}, []string{"reason"}),
		ReturnsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "returns_processed_total",
			Help:      "Returns completed",
		}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "login_attempts_total",
			Help:      "Login attempts, by outcome",
		}, []string{"outcome"}),
		StockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "stock_movements_total",
			Help:      "Ledger movements appended, by kind",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method and status",
		}, []string{"method", "status"}),
		RetriedConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "retailpos",
			Name:      "tx_conflict_retries_total",
			Help:      "Transactions retried after a serialization conflict",
		}),
	}
	registry.MustRegister(m.SalesCompleted, m.SaleFailures, m.ReturnsDone, m.LoginAttempts,
		m.StockMovements, m.HTTPRequests, m.RetriedConflict)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SaleCompleted() {
	if m == nil {
		return
	}
	m.SalesCompleted.Inc()
}

func (m *Metrics) SaleFailed(reason string) {
	if m == nil {
		return
	}
	m.SaleFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReturnProcessed() {
	if m == nil {
		return
	}
	m.ReturnsDone.Inc()
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MovementRecorded(kind string) {
	if m == nil {
		return
	}
	m.StockMovements.WithLabelValues(kind).Inc()
}

func (m *Metrics) Request(method string, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, status).Inc()
}

func (m *Metrics) ConflictRetried() {
	if m == nil {
		return
	}
	m.RetriedConflict.Inc()
}
