package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	admissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_admission_decisions_total",
		Help: "Admission decisions by booking path, result and rejection reason",
	}, []string{"path", "result", "reason"})

	cancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_cancellations_total",
		Help: "Cancellation attempts by result and reason",
	}, []string{"result", "reason"})

	cancellationFees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_cancellation_fees_minor_units_total",
		Help: "Sum of cancellation fees debited from wallets",
	})

	notificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_notification_failures_total",
		Help: "Reservation events that could not be delivered",
	})

	lockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservations_admission_lock_wait_seconds",
		Help:    "Time spent waiting for the per station/model admission lock",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reservations_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})
)

// ObserveAdmission records one admission decision.
func ObserveAdmission(instant, admitted bool, reason string) {
	path := "scheduled"
	if instant {
		path = "instant"
	}
	result := "rejected"
	if admitted {
		result = "admitted"
	}
	admissionDecisions.WithLabelValues(path, result, reason).Inc()
}

// ObserveCancellation records one cancellation attempt and the fee charged.
func ObserveCancellation(ok bool, reason string, fee int64) {
	result := "failed"
	if ok {
		result = "cancelled"
	}
	cancellations.WithLabelValues(result, reason).Inc()
	if ok && fee > 0 {
		cancellationFees.Add(float64(fee))
	}
}

// NotificationFailed counts a dropped reservation event.
func NotificationFailed() {
	notificationFailures.Inc()
}

// ObserveLockWait records admission lock contention.
func ObserveLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
