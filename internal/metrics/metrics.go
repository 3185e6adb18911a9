// Package metrics defines the Prometheus collectors for the POS server.
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "multikasir"

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	salesCreated   *prometheus.CounterVec
	salesCancelled prometheus.Counter
	saleRevenue    prometheus.Counter
	stockRejected  prometheus.Counter
	saleRetries    prometheus.Counter
	authAttempts   *prometheus.CounterVec
	treeCache      *prometheus.CounterVec
}

// New registers every collector on reg. Tests pass a fresh registry so
// repeated construction never collides with the default one.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		salesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_created_total",
			Help:      "Sales recorded, by payment method",
		}, []string{"payment_method"}),
		salesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_cancelled_total",
			Help:      "Sales cancelled with stock restored",
		}),
		saleRevenue: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_revenue_total",
			Help:      "Sum of recorded sale totals",
		}),
		stockRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_rejections_total",
			Help:      "Stock decrements refused for insufficient stock",
		}),
		saleRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_number_retries_total",
			Help:      "Sale inserts retried after a sale number collision",
		}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		treeCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_tree_cache_total",
			Help:      "Category tree cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) SaleCreated(paymentMethod string, total float64) {
	if m == nil {
		return
	}
	m.salesCreated.WithLabelValues(paymentMethod).Inc()
	if total > 0 {
		m.saleRevenue.Add(total)
	}
}

func (m *Metrics) SaleCancelled() {
	if m == nil {
		return
	}
	m.salesCancelled.Inc()
}

func (m *Metrics) StockRejected() {
	if m == nil {
		return
	}
	m.stockRejected.Inc()
}

func (m *Metrics) SaleNumberRetried() {
	if m == nil {
		return
	}
	m.saleRetries.Inc()
}

func (m *Metrics) AuthAttempt(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) TreeCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.treeCache.WithLabelValues(result).Inc()
}

// Middleware records count and latency per chi route pattern, so path
// parameters never explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
