package api

import (
	"time"

	"netsentinel/internal/model"
	"netsentinel/internal/quality"
)

// StateResponse is the run state without sample data.
type StateResponse struct {
	Running  bool           `json:"running"`
	EpochID  string         `json:"epoch_id,omitempty"`
	View     model.View     `json:"view"`
	Targets  []model.Target `json:"targets"`
	Sessions int            `json:"sessions"`
}

// RecordingRequest starts or stops a recording.
type RecordingRequest struct {
	Running bool `json:"running"`
}

// RecordingResponse reports the outcome of a run-state change. Session is set
// when a recording was frozen.
type RecordingResponse struct {
	Running bool           `json:"running"`
	Changed bool           `json:"changed"`
	EpochID string         `json:"epoch_id,omitempty"`
	Session *model.Session `json:"session,omitempty"`
}

// SessionInfo lists a session without its samples.
type SessionInfo struct {
	ID        string                         `json:"id"`
	Name      string                         `json:"name"`
	StartTime time.Time                      `json:"start_time"`
	EndTime   time.Time                      `json:"end_time"`
	Summary   map[string]model.TargetSummary `json:"summary"`
}

// ViewRequest selects a session (empty for live) and a target (empty keeps
// the current one).
type ViewRequest struct {
	SessionID string `json:"session_id"`
	TargetID  string `json:"target_id"`
}

// DatasetResponse carries the samples the current view selects.
type DatasetResponse struct {
	View    model.View     `json:"view"`
	Samples []model.Sample `json:"samples"`
}

// ScoresResponse carries usage-profile scores for the current dataset.
type ScoresResponse struct {
	View    model.View             `json:"view"`
	Summary model.TargetSummary    `json:"summary"`
	Scores  []quality.ProfileScore `json:"scores"`
}

func sessionInfo(s model.Session) SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Name:      s.Name,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Summary:   s.Summary,
	}
}
