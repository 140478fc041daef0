package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	revisionDescribeFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "charmforge_revision_describe_failed_total",
			Help: "Total number of failed revision lookups",
		},
	)

	revisionDescribeCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "charmforge_revision_describe_count_total",
			Help: "Total number of revision lookups",
		},
	)
)

func RevisionDescribed() {
	revisionDescribeCount.Inc()
}

func RevisionDescribeFailed() {
	revisionDescribeFailed.Inc()
}
