package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempts counts verification attempts by terminal outcome.
var Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "iattend",
	Name:      "verification_attempts_total",
	Help:      "Verification attempts by terminal outcome.",
}, []string{"outcome"})

// Similarity observes the calibrated face similarity of scored attempts.
var Similarity = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "iattend",
	Name:      "face_similarity",
	Help:      "Calibrated face similarity scores.",
	Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
})

// GeoDistance observes the measured distance to the session center, meters.
var GeoDistance = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "iattend",
	Name:      "geofence_distance_meters",
	Help:      "Distance from the session center at attempt time.",
	Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
})

// SessionsCreated counts organizer session creations.
var SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "iattend",
	Name:      "sessions_created_total",
	Help:      "Sign-in sessions created.",
})
