package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tablebook"

var (
	once sync.Once

	reservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_created_total",
			Help:      "Booking attempts by outcome.",
		},
		[]string{"result"},
	)

	reservationConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_conflicts_total",
			Help:      "Booking attempts rejected as conflicts, by the step that detected them.",
		},
		[]string{"reason"},
	)

	lockAcquire = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquire_total",
			Help:      "Distributed lock acquisitions by result.",
		},
		[]string{"result"},
	)

	availabilityCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_total",
			Help:      "Availability cache lookups and invalidations by result.",
		},
		[]string{"result"},
	)

	reservationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Reservation status changes by target status.",
		},
		[]string{"status"},
	)

	bookingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "End-to-end latency of the booking protocol.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by handler and status code.",
		},
		[]string{"handler", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationsCreated,
			reservationConflicts,
			lockAcquire,
			availabilityCache,
			reservationTransitions,
			bookingDuration,
			httpRequests,
		)
	})
}

func ReservationCreated(result string) {
	reservationsCreated.WithLabelValues(result).Inc()
}

func ReservationConflict(reason string) {
	reservationConflicts.WithLabelValues(reason).Inc()
}

func LockAcquire(result string) {
	lockAcquire.WithLabelValues(result).Inc()
}

func CacheResult(result string) {
	availabilityCache.WithLabelValues(result).Inc()
}

func Transition(status string) {
	reservationTransitions.WithLabelValues(status).Inc()
}

func ObserveBooking(start time.Time) {
	bookingDuration.Observe(time.Since(start).Seconds())
}

func HTTPRequest(handler, code string) {
	httpRequests.WithLabelValues(handler, code).Inc()
}
