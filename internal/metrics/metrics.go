// Package metrics exposes Prometheus counters for the booking service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campusbook"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of booking requests accepted as pending.",
		},
	)

	bookingDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_decision_total",
			Help:      "Count of booking transitions out of pending by resulting decision.",
		},
		[]string{"decision"},
	)

	bookingConflict = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflict_total",
			Help:      "Count of operations refused because of an overlapping approved booking.",
		},
		[]string{"operation"},
	)

	lockWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "facility_lock_wait_seconds",
			Help:      "Time spent acquiring a facility lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"backend"},
	)

	lockFallback = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facility_lock_fallback_total",
			Help:      "Count of lock acquisitions served by the local fallback.",
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of booking notifications by event type and outcome.",
		},
		[]string{"type", "status"},
	)

	notificationQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_size",
			Help:      "Current number of queued notifications.",
		},
	)

	notificationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_retries_total",
			Help:      "Total number of notification retry attempts.",
		},
	)

	notificationDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_delay_seconds",
			Help:      "Time from a booking transition to delivery of its notification.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5, 30},
		},
		[]string{"type"},
	)

	rateLimitWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_rate_limit_waits_total",
			Help:      "Total number of times delivery waited for the rate limiter.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated, bookingDecision, bookingConflict,
			lockWait, lockFallback,
			notifications, notificationQueue, notificationRetries, notificationDelay, rateLimitWaits,
		)
	})
}

func IncBookingCreated() {
	bookingCreated.Inc()
}

// IncBookingDecision counts approved, rejected, superseded or cancelled outcomes.
func IncBookingDecision(decision string) {
	bookingDecision.WithLabelValues(decision).Inc()
}

func IncBookingConflict(operation string) {
	bookingConflict.WithLabelValues(operation).Inc()
}

func ObserveLockWait(backend string, d time.Duration) {
	lockWait.WithLabelValues(backend).Observe(d.Seconds())
}

func IncLockFallback() {
	lockFallback.Inc()
}

// IncNotification counts a notification outcome: sent, failed or dropped.
func IncNotification(eventType, status string) {
	notifications.WithLabelValues(eventType, status).Inc()
}

func SetNotificationQueue(size int) {
	notificationQueue.Set(float64(size))
}

func IncNotificationRetries() {
	notificationRetries.Inc()
}

func ObserveNotificationDelay(eventType string, d time.Duration) {
	notificationDelay.WithLabelValues(eventType).Observe(d.Seconds())
}

func IncRateLimitWaits() {
	rateLimitWaits.Inc()
}
