package quality

import "netsentinel/internal/model"

// Profile is a usage category with latency and jitter ceilings. Window is the
// number of most recent samples used for the recent score.
type Profile struct {
	Name         string `json:"name"`
	MaxLatencyMs int    `json:"max_latency_ms"`
	MaxJitterMs  int    `json:"max_jitter_ms"`
	Window       int    `json:"window"`
}

var (
	Gaming    = Profile{Name: "GAMING", MaxLatencyMs: 50, MaxJitterMs: 15, Window: 180}
	VideoCall = Profile{Name: "VIDEO CALL", MaxLatencyMs: 250, MaxJitterMs: 40, Window: 300}
	Browsing  = Profile{Name: "BROWSING", MaxLatencyMs: 1500, MaxJitterMs: 9999, Window: 30}
)

// Profiles lists the built-in profiles, strictest first.
func Profiles() []Profile {
	return []Profile{Gaming, VideoCall, Browsing}
}

// Good reports whether a sample satisfies the profile. Values equal to a
// ceiling still pass.
func (p Profile) Good(s model.Sample) bool {
	return s.Success && s.LatencyMs <= p.MaxLatencyMs && s.JitterMs <= p.MaxJitterMs
}

// Score is the percentage of samples that satisfy p. An empty slice scores 100.
func Score(samples []model.Sample, p Profile) float64 {
	if len(samples) == 0 {
		return 100
	}
	good := 0
	for _, s := range samples {
		if p.Good(s) {
			good++
		}
	}
	return float64(good) * 100 / float64(len(samples))
}

// ProfileScore pairs the windowed and whole-range score of one profile.
type ProfileScore struct {
	Profile Profile `json:"profile"`
	Recent  float64 `json:"recent"`
	Total   float64 `json:"total"`
}

// Scores evaluates every built-in profile over samples, which must be in
// chronological order.
func Scores(samples []model.Sample) []ProfileScore {
	profiles := Profiles()
	out := make([]ProfileScore, 0, len(profiles))
	for _, p := range profiles {
		recent := samples
		if p.Window > 0 && len(recent) > p.Window {
			recent = recent[len(recent)-p.Window:]
		}
		out = append(out, ProfileScore{
			Profile: p,
			Recent:  Score(recent, p),
			Total:   Score(samples, p),
		})
	}
	return out
}

// Status labels one sample's latency band.
func Status(s model.Sample) string {
	switch {
	case !s.Success:
		return "Offline"
	case s.LatencyMs < 50:
		return "Excellent"
	case s.LatencyMs < 100:
		return "Good"
	case s.LatencyMs < 200:
		return "Fair"
	default:
		return "Poor"
	}
}

// Incident flags a sample for report rows.
func Incident(s model.Sample) string {
	switch {
	case !s.Success:
		return "LOSS"
	case s.LatencyMs > 200:
		return "HIGH LAT"
	default:
		return "OK"
	}
}
