package models

import (
	"time"
)

// ClassificationResult describes what happened to one meter during a cycle.
type ClassificationResult struct {
	MeterID     string    `json:"meter_id"`
	MeterName   string    `json:"meter_name"`
	Kind        Kind      `json:"kind"`
	HasPrevious bool      `json:"has_previous"`
	Previous    Amount    `json:"previous_balance"`
	Current     Amount    `json:"current_balance"`
	Delta       Amount    `json:"delta"`
	Usage       float64   `json:"usage_kwh"`
	ObservedAt  time.Time `json:"observed_at"`
	Summary     string    `json:"summary"`

	Attempts     int    `json:"attempts"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	StateUpdated bool   `json:"state_updated"`
	Note         string `json:"note,omitempty"`
}

// Notable reports whether the result deserves attention beyond a routine summary.
func (r *ClassificationResult) Notable() bool {
	switch r.Kind {
	case KindRecharge, KindAnomaly, KindFetchFailed, KindStoreFailed:
		return true
	}
	return false
}

// CycleReport is produced once per monitoring cycle.
type CycleReport struct {
	ID          string                 `json:"id"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Results     []ClassificationResult `json:"results"`
	Succeeded   int                    `json:"succeeded"`
	Failed      int                    `json:"failed"`
	Notified    bool                   `json:"notified"`
	NotifyError string                 `json:"notify_error,omitempty"`
}

// Tally recomputes the succeeded and failed counters from the results.
func (r *CycleReport) Tally() {
	r.Succeeded, r.Failed = 0, 0
	for _, res := range r.Results {
		if res.Kind.Failed() {
			r.Failed++
		} else {
			r.Succeeded++
		}
	}
}

// Count returns the number of results of the given kind.
func (r *CycleReport) Count(kind Kind) int {
	n := 0
	for _, res := range r.Results {
		if res.Kind == kind {
			n++
		}
	}
	return n
}

// Duration returns how long the cycle took.
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// AllFailed reports whether no meter could be evaluated.
func (r *CycleReport) AllFailed() bool {
	return len(r.Results) > 0 && r.Succeeded == 0
}

// Summary condenses the report for status surfaces.
func (r *CycleReport) Summary() CycleSummary {
	return CycleSummary{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Meters:      len(r.Results),
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Recharges:   r.Count(KindRecharge),
		Anomalies:   r.Count(KindAnomaly),
		Notified:    r.Notified,
		NotifyError: r.NotifyError,
	}
}

// CycleSummary is the persisted and queryable outcome of a cycle.
type CycleSummary struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Meters      int       `json:"meters"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Recharges   int       `json:"recharges"`
	Anomalies   int       `json:"anomalies"`
	Notified    bool      `json:"notified"`
	NotifyError string    `json:"notify_error,omitempty"`
	Error       string    `json:"error,omitempty"` // Set when the cycle itself aborted
}

// Outcome returns a one-word label for the cycle.
func (s *CycleSummary) Outcome() string {
	switch {
	case s.Error != "":
		return "error"
	case s.Meters > 0 && s.Succeeded == 0:
		return "failed"
	case s.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}
