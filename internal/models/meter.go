// Package models defines the core domain entities for meterbot.
// These models represent monitored prepaid meters, balance snapshots read from the
// provider portal, the persisted per-meter state and the per-cycle classification results.
// All input models include built-in validation to ensure data integrity throughout the application.
//
// Terminology:
//   - Meter: a prepaid electricity account registered for monitoring.
//   - Snapshot: one reading of a meter's balance and usage.
//   - Cycle: one pass over every registered meter.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Meter represents a prepaid meter being monitored.
type Meter struct {
	ID         string `json:"id" mapstructure:"id"`           // Stable key used for state records
	Name       string `json:"name" mapstructure:"name"`       // Display name used in notifications
	AccountRef string `json:"account" mapstructure:"account"` // Provider account number
}

// Validate checks that all meter fields are valid
func (m *Meter) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("meter ID must not be empty")
	}
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("meter name must not be empty")
	}
	if strings.TrimSpace(m.AccountRef) == "" {
		return errors.New("meter account must not be empty")
	}
	return nil
}

// Registry is the immutable, ordered list of monitored meters.
type Registry struct {
	meters []Meter
	byID   map[string]int
}

// NewRegistry validates meters and builds a registry preserving their order.
// Duplicate IDs or an empty list are configuration errors.
func NewRegistry(meters []Meter) (*Registry, error) {
	if len(meters) == 0 {
		return nil, &ConfigError{Field: "meters", Reason: "at least one meter is required"}
	}

	r := &Registry{
		meters: make([]Meter, len(meters)),
		byID:   make(map[string]int, len(meters)),
	}
	for i, m := range meters {
		if err := m.Validate(); err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("meters[%d]", i), Reason: err.Error()}
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, &ConfigError{Field: fmt.Sprintf("meters[%d]", i), Reason: "duplicate meter ID " + m.ID}
		}
		r.byID[m.ID] = i
		r.meters[i] = m
	}
	return r, nil
}

// Meters returns a copy of the registered meters in registration order.
func (r *Registry) Meters() []Meter {
	out := make([]Meter, len(r.meters))
	copy(out, r.meters)
	return out
}

// Get returns the meter with the given ID.
func (r *Registry) Get(id string) (Meter, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Meter{}, false
	}
	return r.meters[i], true
}

// Len returns the number of registered meters.
func (r *Registry) Len() int {
	return len(r.meters)
}

// Names returns the display names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.meters))
	for i, m := range r.meters {
		names[i] = m.Name
	}
	return names
}
