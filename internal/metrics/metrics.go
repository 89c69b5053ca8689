package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caixapos"

// Metrics is safe to use through a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	SalesCommitted    *prometheus.CounterVec
	SalesAborted      prometheus.Counter
	InvoiceCollisions prometheus.Counter
	LineOutcomes      *prometheus.CounterVec
	StockMovements    *prometheus.CounterVec
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		SalesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sales",
			Name:      "committed_total",
			Help:      "Sales committed, by payment method.",
		}, []string{"payment_method"}),
		SalesAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sales",
			Name:      "aborted_total",
			Help:      "Sale commits rolled back.",
		}),
		InvoiceCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sales",
			Name:      "invoice_collisions_total",
			Help:      "Generated invoice numbers that were already taken.",
		}),
		LineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sales",
			Name:      "line_outcomes_total",
			Help:      "Committed sale lines by stock outcome.",
		}, []string{"outcome"}),
		StockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "movements_total",
			Help:      "Stock movements written, by type.",
		}, []string{"type"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.SalesCommitted,
		m.SalesAborted,
		m.InvoiceCollisions,
		m.LineOutcomes,
		m.StockMovements,
		m.Requests,
		m.LatencyMS,
	)
	return m
}

func (m *Metrics) SaleCommitted(method string) {
	if m == nil {
		return
	}
	m.SalesCommitted.WithLabelValues(method).Inc()
}

func (m *Metrics) SaleAborted() {
	if m == nil {
		return
	}
	m.SalesAborted.Inc()
}

func (m *Metrics) InvoiceCollision() {
	if m == nil {
		return
	}
	m.InvoiceCollisions.Inc()
}

func (m *Metrics) LineOutcome(outcome string) {
	if m == nil {
		return
	}
	m.LineOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StockMovement(movementType string) {
	if m == nil {
		return
	}
	m.StockMovements.WithLabelValues(movementType).Inc()
}

func (m *Metrics) ObserveRequest(route string, status string, ms float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, status).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(ms)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
