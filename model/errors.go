package model

import "errors"

var (
	// ErrInvalidInput marks out-of-range angles, ranges or geodetic coordinates.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingObserver is returned when no observer has been persisted yet.
	ErrMissingObserver = errors.New("missing observer")
	// ErrEphemerisUnavailable wraps failures of the moon ephemeris capability.
	ErrEphemerisUnavailable = errors.New("ephemeris unavailable")
	// ErrFetchFailure wraps failures of an upstream batch source.
	ErrFetchFailure = errors.New("fetch failure")
)
