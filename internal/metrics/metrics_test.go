package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewScheduling(reg)

	m.ObserveBooking("ok")
	m.ObserveBooking("ok")
	m.ObserveBooking("conflict")
	m.ObserveReschedule(2, "ok")
	m.ObserveCancel("plan", "not_found")
	m.ObserveOTP("send", "ok")
	m.ObserveHTTP("GET", "/api/my-appointments", 200, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookings.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reschedules.WithLabelValues("2", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancels.WithLabelValues("plan", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpDelivered.WithLabelValues("send", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpLatency))
}

func TestNilSchedulingIsNoop(t *testing.T) {
	var m *Scheduling
	assert.NotPanics(t, func() {
		m.ObserveBooking("ok")
		m.ObserveReschedule(1, "ok")
		m.ObserveCancel("session", "ok")
		m.ObserveOTP("verify", "invalid")
		m.ObserveHTTP("POST", "/api/reschedule", 409, 0.2)
	})
}
