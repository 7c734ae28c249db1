package models

import (
	"errors"
	"math"
	"time"
)

// Snapshot represents a point-in-time balance reading for a meter.
// Created once per successful fetch and never modified afterwards.
type Snapshot struct {
	MeterID    string    `json:"meter_id"`
	AccountRef string    `json:"account"`
	Balance    Amount    `json:"balance"`
	Usage      float64   `json:"usage_kwh"`   // Month-to-date consumption reported by the portal
	ObservedAt time.Time `json:"observed_at"` // When the reading was fetched
	SourceTime time.Time `json:"source_time"` // Reading time reported by the portal, zero if unknown
}

// Timestamp returns the portal reading time when known, otherwise the fetch time.
func (s *Snapshot) Timestamp() time.Time {
	if !s.SourceTime.IsZero() {
		return s.SourceTime
	}
	return s.ObservedAt
}

// Validate checks that all snapshot fields are valid
func (s *Snapshot) Validate() error {
	if s.MeterID == "" {
		return errors.New("meter ID must not be empty")
	}
	if s.ObservedAt.IsZero() {
		return errors.New("observed at must be set")
	}
	if math.IsNaN(s.Usage) || math.IsInf(s.Usage, 0) {
		return errors.New("usage must be a finite number")
	}
	if s.Usage < 0 {
		return errors.New("usage must not be negative")
	}
	return nil
}
