package metrics

import (
	"sort"
	"time"
)

// Stats holds duration statistics for one metric
type Stats struct {
	Count           int
	SuccessCount    int
	FailedCount     int
	Durations       []int64 // For percentile calculation
	TotalDurationMs int64
	MinDurationMs   int64
	MaxDurationMs   int64
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		Durations:     make([]int64, 0, 64),
		MinDurationMs: -1,
		MaxDurationMs: -1,
	}
}

// AddResult adds a measurement to the statistics
func (s *Stats) AddResult(durationMs int64, failed bool) {
	s.Count++
	s.TotalDurationMs += durationMs
	s.Durations = append(s.Durations, durationMs)

	if failed {
		s.FailedCount++
	} else {
		s.SuccessCount++
	}

	if s.MinDurationMs == -1 || durationMs < s.MinDurationMs {
		s.MinDurationMs = durationMs
	}
	if s.MaxDurationMs == -1 || durationMs > s.MaxDurationMs {
		s.MaxDurationMs = durationMs
	}
}

// AvgDurationMs returns the average duration in milliseconds
func (s *Stats) AvgDurationMs() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.TotalDurationMs) / float64(s.Count)
}

// Min returns the minimum duration, or 0 if no results
func (s *Stats) Min() int64 {
	if s.MinDurationMs == -1 {
		return 0
	}
	return s.MinDurationMs
}

// Max returns the maximum duration, or 0 if no results
func (s *Stats) Max() int64 {
	if s.MaxDurationMs == -1 {
		return 0
	}
	return s.MaxDurationMs
}

// Percentile calculates the percentile value (p should be between 0 and 100)
func (s *Stats) Percentile(p float64) int64 {
	if len(s.Durations) == 0 {
		return 0
	}

	sorted := make([]int64, len(s.Durations))
	copy(sorted, s.Durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Linear interpolation between lower and upper
	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight)
}

// SuccessRate returns the success rate as a percentage
func (s *Stats) SuccessRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.Count) * 100
}

// Summary is the per-metric result of a run
type Summary struct {
	Name        string
	Count       int
	Failed      int
	SuccessRate float64
	Min         time.Duration
	Avg         time.Duration
	Max         time.Duration
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	SLA         *SLA
	SLAMet      *bool
}

func summarize(name string, stats *Stats, sla *SLA) Summary {
	ms := func(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

	summary := Summary{
		Name:        name,
		Count:       stats.Count,
		Failed:      stats.FailedCount,
		SuccessRate: stats.SuccessRate(),
		Min:         ms(stats.Min()),
		Avg:         time.Duration(stats.AvgDurationMs() * float64(time.Millisecond)),
		Max:         ms(stats.Max()),
		P50:         ms(stats.Percentile(50)),
		P95:         ms(stats.Percentile(95)),
		P99:         ms(stats.Percentile(99)),
		SLA:         sla,
	}
	if sla != nil {
		met := sla.Met(stats)
		summary.SLAMet = &met
	}
	return summary
}
