package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	charmBuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charmforge_build_failed",
			Help: "Number of times a charm part has failed to build",
		},
		[]string{"part", "error_kind"},
	)

	charmBuildCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "charmforge_build_count",
			Help: "Total number of times a charm part has been built",
		},
	)

	charmBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "charmforge_build_duration_seconds",
			Help:    "Charm part build duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"part"},
	)

	dependencyCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "charmforge_dependency_cache_hits",
			Help: "Number of builds that reused a cached dependency environment",
		},
	)

	dependencyCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charmforge_dependency_cache_misses",
			Help: "Number of builds that had to reinstall dependencies",
		},
		[]string{"reason"},
	)
)

func BuildSucceeded(part string, startTime time.Time) {
	charmBuildCount.Inc()
	charmBuildDuration.WithLabelValues(part).Observe(time.Since(startTime).Seconds())
}

func BuildFailed(part, errorKind string) {
	charmBuildCount.Inc()
	charmBuildFailed.WithLabelValues(part, errorKind).Inc()
}

func DependencyCacheHit() {
	dependencyCacheHits.Inc()
}

func DependencyCacheMiss(reason string) {
	dependencyCacheMisses.WithLabelValues(reason).Inc()
}
