package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Scheduling exposes counters for plan changes. A nil *Scheduling is a valid no-op.
type Scheduling struct {
	bookings     *prometheus.CounterVec
	reschedules  *prometheus.CounterVec
	cancels      *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	otpDelivered *prometheus.CounterVec
}

func NewScheduling(reg prometheus.Registerer) *Scheduling {
	m := &Scheduling{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caresync",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Plan booking attempts by outcome",
		}, []string{"outcome"}),
		reschedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caresync",
			Subsystem: "scheduling",
			Name:      "reschedules_total",
			Help:      "Session reschedule attempts by target session and outcome",
		}, []string{"session", "outcome"}),
		cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caresync",
			Subsystem: "scheduling",
			Name:      "cancellations_total",
			Help:      "Cancellations by scope (plan or session) and outcome",
		}, []string{"scope", "outcome"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "caresync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		otpDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caresync",
			Subsystem: "otp",
			Name:      "requests_total",
			Help:      "Password reset code requests by step and outcome",
		}, []string{"step", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.reschedules, m.cancels, m.httpLatency, m.otpDelivered)
	return m
}

func (m *Scheduling) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Scheduling) ObserveReschedule(session int, outcome string) {
	if m == nil {
		return
	}
	m.reschedules.WithLabelValues(strconv.Itoa(session), outcome).Inc()
}

func (m *Scheduling) ObserveCancel(scope, outcome string) {
	if m == nil {
		return
	}
	m.cancels.WithLabelValues(scope, outcome).Inc()
}

func (m *Scheduling) ObserveOTP(step, outcome string) {
	if m == nil {
		return
	}
	m.otpDelivered.WithLabelValues(step, outcome).Inc()
}

func (m *Scheduling) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
