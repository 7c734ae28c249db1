package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies the transition between two observations of a meter.
type Kind string

const (
	KindInitial     Kind = "initial"
	KindNoChange    Kind = "no_change"
	KindConsumption Kind = "consumption"
	KindRecharge    Kind = "recharge"
	KindAnomaly     Kind = "anomaly"
	KindFetchFailed Kind = "fetch_failed"
	KindStoreFailed Kind = "store_failed"
)

// ParseKind converts a stored kind string back into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindInitial, KindNoChange, KindConsumption, KindRecharge, KindAnomaly, KindFetchFailed, KindStoreFailed:
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// Failed reports whether the meter could not be evaluated this cycle.
func (k Kind) Failed() bool {
	return k == KindFetchFailed || k == KindStoreFailed
}

// StateRecord is the last known state of a meter, one per meter.
// Only the run orchestrator writes it.
type StateRecord struct {
	MeterID     string    `json:"meter_id"`
	Balance     Amount    `json:"balance"`
	Usage       float64   `json:"usage_kwh"`
	ObservedAt  time.Time `json:"observed_at"`  // Fetch time of the last accepted snapshot
	SourceTime  time.Time `json:"source_time"`  // Portal reading time of the last accepted snapshot, zero if unknown
	AttemptedAt time.Time `json:"attempted_at"` // Fetch time of the last classified snapshot, anomalies included
	LastKind    Kind      `json:"last_kind"`
}
