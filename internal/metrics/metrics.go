// Package metrics exposes the exchange's Prometheus collectors. A nil
// *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/tapmarket/internal/models"
)

const namespace = "tapmarket"

// Metrics holds every collector, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	passes         *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	passesSkipped  *prometheus.CounterVec
	priceUpdates   *prometheus.CounterVec
	bandViolations *prometheus.CounterVec
	drift          *prometheus.GaugeVec
	sales          *prometheus.CounterVec
	price          *prometheus.GaugeVec
	crash          prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Scheduled pricing passes by job and result.",
		}, []string{"job", "result"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of scheduled pricing passes.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"job"}),
		passesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_skipped_total",
			Help:      "Passes skipped because the previous one was still running.",
		}, []string{"job"}),
		priceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_updates_total",
			Help:      "Price changes written, by category and source.",
		}, []string{"category", "source"}),
		bandViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "band_violations_total",
			Help:      "Drinks held at their price because the adjusted value left the band.",
		}, []string{"category"}),
		drift: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "category_drift_cents",
			Help:      "Sum of base prices minus sum of prices over unlocked drinks.",
		}, []string{"category"}),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_units_total",
			Help:      "Units sold through the API.",
		}, []string{"drink"}),
		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drink_price_cents",
			Help:      "Current price of each drink.",
		}, []string{"drink", "name", "category"}),
		crash: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crash_mode",
			Help:      "1 while crash mode is on.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.passes, m.passDuration, m.passesSkipped, m.priceUpdates,
		m.bandViolations, m.drift, m.sales, m.price, m.crash,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePass records the outcome of one scheduled pass.
func (m *Metrics) ObservePass(job string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.passes.WithLabelValues(job, result).Inc()
	m.passDuration.WithLabelValues(job).Observe(took.Seconds())
}

// PassSkipped counts a pass dropped by the single-flight guard.
func (m *Metrics) PassSkipped(job string) {
	if m == nil {
		return
	}
	m.passesSkipped.WithLabelValues(job).Inc()
}

// PriceUpdates counts n price writes for category from source.
func (m *Metrics) PriceUpdates(category models.Category, source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.priceUpdates.WithLabelValues(string(category), source).Add(float64(n))
}

// BandViolations counts drinks held at their price during a tick.
func (m *Metrics) BandViolations(category models.Category, n int) {
	if m == nil || n == 0 {
		return
	}
	m.bandViolations.WithLabelValues(string(category)).Add(float64(n))
}

// Drift records the latest measured drift of category.
func (m *Metrics) Drift(category models.Category, drift models.Cents) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(string(category)).Set(float64(drift))
}

// Sale counts a logged sale.
func (m *Metrics) Sale(drinkID int64, qty int) {
	if m == nil {
		return
	}
	m.sales.WithLabelValues(strconv.FormatInt(drinkID, 10)).Add(float64(qty))
}

// Board publishes the current prices and crash flag.
func (m *Metrics) Board(board models.Board) {
	if m == nil {
		return
	}
	for _, d := range board.Drinks {
		m.price.WithLabelValues(strconv.FormatInt(d.ID, 10), d.Name, string(d.Category)).Set(float64(d.Price))
	}
	if board.Crash {
		m.crash.Set(1)
	} else {
		m.crash.Set(0)
	}
}
