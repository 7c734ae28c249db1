package models

import (
	"time"
)

// EngineStatus is a point-in-time view of the scheduling engine.
type EngineStatus struct {
	State               string        `json:"state"`
	Schedule            string        `json:"schedule"`
	NextRun             time.Time     `json:"next_run,omitzero"`
	LastCycle           *CycleSummary `json:"last_cycle,omitempty"`
	SkippedTriggers     int64         `json:"skipped_triggers"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}
