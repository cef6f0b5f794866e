package engine

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// LatencyMetrics summarizes the run's progress and commit latency, per the
// `GET metrics` contract of §6.2. Percentiles are computed over commit
// latency -- the time from a round's opening Proposal to that replica's own
// commit of it -- the same measurement the Adaptive pacemaker feeds on
// (§9), not over raw message transit time.
type LatencyMetrics struct {
	TotalBlocksCommitted      int
	TotalTimeouts             int
	ViewChangeCount           int
	AverageCommitLatencyMs    float64
	ThroughputBlocksPerSecond float64

	Count int
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
}

// Metrics computes commit-latency percentiles and run-wide counters over
// everything delivered so far. Percentile and mean fields are the zero
// value if no block has been committed by any replica yet.
func (d *Driver) Metrics() LatencyMetrics {
	m := LatencyMetrics{
		TotalBlocksCommitted: d.totalCommits,
		TotalTimeouts:        d.totalTimeouts,
		ViewChangeCount:      d.viewChanges,
	}
	if elapsedSec := float64(d.queue.Now()) / 1000.0; elapsedSec > 0 {
		m.ThroughputBlocksPerSecond = float64(d.totalCommits) / elapsedSec
	}

	latencies := append([]float64(nil), d.commitLatencies...)
	if len(latencies) == 0 {
		return m
	}
	sort.Float64s(latencies)
	m.Count = len(latencies)
	m.Mean = stat.Mean(latencies, nil)
	m.AverageCommitLatencyMs = m.Mean
	m.P50 = stat.Quantile(0.50, stat.LinInterp, latencies, nil)
	m.P95 = stat.Quantile(0.95, stat.LinInterp, latencies, nil)
	m.P99 = stat.Quantile(0.99, stat.LinInterp, latencies, nil)
	return m
}
