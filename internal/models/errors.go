package models

import (
	"fmt"
)

// FetchErrorKind tells why a meter reading could not be obtained.
type FetchErrorKind string

const (
	FetchNetwork  FetchErrorKind = "network"
	FetchTimeout  FetchErrorKind = "timeout"
	FetchAuth     FetchErrorKind = "auth"
	FetchParse    FetchErrorKind = "parse"
	FetchProvider FetchErrorKind = "provider"
)

// FetchError is returned by meter fetchers. All kinds are retried the same way;
// the kind is kept for logging and reporting.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a state store failure for one meter.
type PersistenceError struct {
	MeterID string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state %s for meter %s: %v", e.Op, e.MeterID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConfigError is an unrecoverable configuration problem. It stops the scheduler.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
