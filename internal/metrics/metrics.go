// Package metrics exposes internal instrumentation for the run: counters
// and a histogram scraped by the status server's /metrics endpoint. These
// numbers are observational only — nothing in the kernel or persistence
// layer ever reads them back.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DegenerateSimulations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "montecarlo_degenerate_simulations_total",
		Help: "Permutations where the skip stage could not reach min_trades after its redraw budget.",
	})

	SentinelProfitFactorEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "montecarlo_sentinel_profit_factor_total",
		Help: "Permutations whose profit factor was reported as the sentinel value due to zero gross loss.",
	})

	CellDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "montecarlo_cell_duration_seconds",
		Help:    "Wall-clock time to produce one grid cell's full permutation count.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2h16m
	})
)

// ObserveCellDuration records how long a cell took to produce, from the
// time it entered the Producing state to the time its last metrics chunk
// was written; finalizing the summary is not included.
func ObserveCellDuration(d time.Duration) {
	CellDuration.Observe(d.Seconds())
}
