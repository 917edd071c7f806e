package metrics

import (
	"math"
	"sort"
	"time"

	"netsentinel/internal/model"
)

// BadLatencyMs marks a successful sample as bad for reliability purposes.
const BadLatencyMs = 300

// Jitter returns the absolute latency delta between cur and the sample stored
// immediately before it on the same target. It is 0 unless both succeeded.
func Jitter(cur model.ProbeResult, prev *model.Sample) int {
	if !cur.Success || prev == nil || !prev.Success {
		return 0
	}
	d := cur.LatencyMs - prev.LatencyMs
	if d < 0 {
		d = -d
	}
	return d
}

// Summarize computes per-target aggregates. Latency and jitter figures use
// successful samples only and are 0 when there are none.
func Summarize(samples []model.Sample) model.TargetSummary {
	s := model.TargetSummary{Total: len(samples), ReliabilityPct: 100}
	if len(samples) == 0 {
		return s
	}

	values := make([]float64, 0, len(samples))
	var sumLatency, sumJitter int
	minLatency := math.MaxInt
	for _, m := range samples {
		if !m.Success {
			s.Bad++
			continue
		}
		if m.LatencyMs > BadLatencyMs {
			s.Bad++
		}
		s.Valid++
		values = append(values, float64(m.LatencyMs))
		sumLatency += m.LatencyMs
		sumJitter += m.JitterMs
		if m.LatencyMs < minLatency {
			minLatency = m.LatencyMs
		}
		if m.LatencyMs > s.MaxLatencyMs {
			s.MaxLatencyMs = m.LatencyMs
		}
		if m.JitterMs > s.MaxJitterMs {
			s.MaxJitterMs = m.JitterMs
		}
	}

	s.ReliabilityPct = float64(s.Total-s.Bad) / float64(s.Total) * 100
	if s.Valid == 0 {
		return s
	}

	sort.Float64s(values)
	s.MinLatencyMs = minLatency
	s.P95LatencyMs = int(percentile(values, 0.95))
	s.AvgLatencyMs = roundDiv(sumLatency, s.Valid)
	s.AvgJitterMs = roundDiv(sumJitter, s.Valid)
	return s
}

// Materialize freezes live buffers into a session. Buffers are deep-copied;
// every id in targetIDs gets an entry even if it recorded nothing.
func Materialize(id string, targetIDs []string, live map[string][]model.Sample, now time.Time) model.Session {
	start := time.Time{}
	data := make(map[string][]model.Sample, len(targetIDs))
	summary := make(map[string]model.TargetSummary, len(targetIDs))
	for _, tid := range targetIDs {
		src := live[tid]
		cp := make([]model.Sample, len(src))
		copy(cp, src)
		data[tid] = cp
		summary[tid] = Summarize(cp)
		if len(cp) > 0 && (start.IsZero() || cp[0].Timestamp.Before(start)) {
			start = cp[0].Timestamp
		}
	}
	if start.IsZero() {
		start = now
	}

	return model.Session{
		ID:        id,
		Name:      "Scan " + start.Local().Format("15:04:05"),
		StartTime: start,
		EndTime:   now,
		Targets:   data,
		Summary:   summary,
	}
}

func roundDiv(sum, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
