// internal/session/stats.go
package session

import (
	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	intervalMinMicros = 1
	intervalMaxMicros = 60 * 1_000_000
	intervalSigFig    = 3
)

// IntervalStats summarizes the producer-side time between samples of a run.
type IntervalStats struct {
	Count int64   `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P99Ms float64 `json:"p99_ms"`
	MaxMs float64 `json:"max_ms"`
}

type intervalStats struct {
	hist *hdrhistogram.Histogram
	last float64
	seen bool
}

func newIntervalStats() *intervalStats {
	return &intervalStats{hist: hdrhistogram.New(intervalMinMicros, intervalMaxMicros, intervalSigFig)}
}

// observe records the gap since the previous producer timestamp (seconds).
// Gaps outside the histogram range are clamped.
func (i *intervalStats) observe(ts float64) {
	if i.seen {
		us := int64((ts - i.last) * 1e6)
		us = max(intervalMinMicros, min(us, intervalMaxMicros))
		_ = i.hist.RecordValue(us)
	}
	i.last = ts
	i.seen = true
}

func (i *intervalStats) summary() IntervalStats {
	if i.hist.TotalCount() == 0 {
		return IntervalStats{}
	}
	return IntervalStats{
		Count: i.hist.TotalCount(),
		P50Ms: float64(i.hist.ValueAtQuantile(50)) / 1000,
		P99Ms: float64(i.hist.ValueAtQuantile(99)) / 1000,
		MaxMs: float64(i.hist.Max()) / 1000,
	}
}
