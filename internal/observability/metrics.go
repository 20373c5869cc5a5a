// Package observability exports tracking and solver metrics to Prometheus.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	particleTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beamline",
			Subsystem: "tracking",
			Name:      "particle_turns_total",
			Help:      "Particle turns requested from trackers.",
		},
		[]string{"backend"},
	)
	lostParticles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beamline",
			Subsystem: "tracking",
			Name:      "lost_total",
			Help:      "Particles lost during tracking.",
		},
		[]string{"backend"},
	)
	trackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beamline",
			Subsystem: "tracking",
			Name:      "duration_seconds",
			Help:      "Duration of track calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
	solverIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beamline",
			Subsystem: "solver",
			Name:      "iterations",
			Help:      "Newton iterations per closed orbit search.",
			Buckets:   prometheus.LinearBuckets(0, 2, 11),
		},
		[]string{"converged"},
	)
	solverFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beamline",
			Subsystem: "solver",
			Name:      "failures_total",
			Help:      "Closed orbit searches that did not converge.",
		},
	)
	solverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "beamline",
			Subsystem: "solver",
			Name:      "duration_seconds",
			Help:      "Duration of closed orbit searches in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(particleTurns, lostParticles, trackDuration,
			solverIterations, solverFailures, solverDuration)
	})
}

func RecordTrack(backend string, turns int64, lost int, elapsed time.Duration) {
	RegisterMetrics()
	particleTurns.WithLabelValues(backend).Add(float64(turns))
	lostParticles.WithLabelValues(backend).Add(float64(lost))
	trackDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func RecordSolve(iterations int, converged bool, elapsed time.Duration) {
	RegisterMetrics()
	solverIterations.WithLabelValues(strconv.FormatBool(converged)).Observe(float64(iterations))
	if !converged {
		solverFailures.Inc()
	}
	solverDuration.Observe(elapsed.Seconds())
}

// Recorder adapts the package recorders to the runtime and solver hooks.
type Recorder struct{}

func (Recorder) RecordTrack(backend string, turns int64, lost int, elapsed time.Duration) {
	RecordTrack(backend, turns, lost, elapsed)
}

func (Recorder) RecordSolve(iterations int, converged bool, elapsed time.Duration) {
	RecordSolve(iterations, converged, elapsed)
}
