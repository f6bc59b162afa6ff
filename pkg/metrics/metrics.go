package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type CartMetrics struct {
	Operations *prometheus.CounterVec
	LatencyMS  *prometheus.HistogramVec
}

func NewCartMetrics() *CartMetrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "cart",
		Name:      "operations_total",
		Help:      "Total number of cart operations by outcome.",
	}, []string{"op", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "cart",
		Name:      "operation_duration_ms",
		Help:      "Cart operation latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"op"})

	prometheus.MustRegister(operations, latency)
	return &CartMetrics{Operations: operations, LatencyMS: latency}
}

// Observe records one finished operation.
func (m *CartMetrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.LatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
