package model

import "time"

// Target is a monitored endpoint. Targets are fixed configuration.
type Target struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	URL      string `json:"url" yaml:"url"`
}

// Sample is a single probe outcome.
// LatencyMs and JitterMs carry no meaning when Success is false.
type Sample struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"t"`
	LatencyMs int       `json:"l"`
	JitterMs  int       `json:"j"`
	Success   bool      `json:"s"`
}

// ProbeResult is what a prober reports for one round trip.
type ProbeResult struct {
	Success   bool
	LatencyMs int
}

// TargetSummary aggregates one target's samples inside a session.
type TargetSummary struct {
	Total          int     `json:"total"`
	Valid          int     `json:"valid"`
	Bad            int     `json:"bad"`
	ReliabilityPct float64 `json:"reliability_pct"`
	AvgLatencyMs   int     `json:"avg_latency_ms"`
	AvgJitterMs    int     `json:"avg_jitter_ms"`
	MinLatencyMs   int     `json:"min_latency_ms"`
	MaxLatencyMs   int     `json:"max_latency_ms"`
	MaxJitterMs    int     `json:"max_jitter_ms"`
	P95LatencyMs   int     `json:"p95_latency_ms"`
}

// Session is a frozen recording. It is never mutated after creation.
type Session struct {
	ID        string                   `json:"id"`
	Name      string                   `json:"name"`
	StartTime time.Time                `json:"start_time"`
	EndTime   time.Time                `json:"end_time"`
	Targets   map[string][]Sample      `json:"targets"`
	Summary   map[string]TargetSummary `json:"summary"`
}

// View selects what consumers display. An empty SessionID means live data.
type View struct {
	SessionID string `json:"session_id"`
	TargetID  string `json:"target_id"`
}

// Live reports whether the view points at live data.
func (v View) Live() bool { return v.SessionID == "" }

// Snapshot is a consistent read of the whole store.
type Snapshot struct {
	Running bool                `json:"running"`
	EpochID string              `json:"epoch_id,omitempty"`
	View    View                `json:"view"`
	Targets []Target            `json:"targets"`
	Live    map[string][]Sample `json:"live"`
	History []Session           `json:"history"`
}

// CloneSamples deep-copies a per-target buffer map.
func CloneSamples(in map[string][]Sample) map[string][]Sample {
	out := make(map[string][]Sample, len(in))
	for id, samples := range in {
		cp := make([]Sample, len(samples))
		copy(cp, samples)
		out[id] = cp
	}
	return out
}
