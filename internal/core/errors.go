package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidScheduleDefinition is returned for malformed policy parameters
	// (non-positive interval, day of month outside 1..31, unknown unit).
	ErrInvalidScheduleDefinition = errors.New("invalid schedule definition")

	// ErrSchedulingHorizonExceeded marks a next-due search that ran out of
	// depth. The accompanying result is a best-effort date, not a failure.
	ErrSchedulingHorizonExceeded = errors.New("scheduling horizon exceeded")

	ErrInvalidOccurrenceID = errors.New("invalid occurrence id")
	ErrInvalidYearMonth    = errors.New("invalid year-month")
	ErrInvalidDirection    = errors.New("invalid direction")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrEmptyName           = errors.New("empty name")
	ErrItemNotFound        = errors.New("recurring item not found")
)

// ScheduleError describes which policy parameter is malformed.
type ScheduleError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ScheduleError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid schedule definition: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid schedule definition: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ScheduleError) Unwrap() error {
	return ErrInvalidScheduleDefinition
}
