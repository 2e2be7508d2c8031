package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking widget flows.
type BookingMetrics struct {
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	bookingsTotal   *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwidget",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total upstream scheduling API requests",
		}, []string{"endpoint", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookwidget",
			Subsystem: "upstream",
			Name:      "request_latency_seconds",
			Help:      "Latency of upstream scheduling API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookwidget",
			Subsystem: "booking",
			Name:      "appointments_total",
			Help:      "Appointment booking attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.upstreamTotal, m.upstreamLatency, m.bookingsTotal)
	return m
}

func (m *BookingMetrics) ObserveUpstream(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamTotal.WithLabelValues(endpoint, outcome).Inc()
	m.upstreamLatency.WithLabelValues(endpoint).Observe(seconds)
}

func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}
