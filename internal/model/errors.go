package model

import "errors"

var (
	// ErrReferenceDataMissing marks an event pair that points at a location
	// the registry does not know. The pair is skipped.
	ErrReferenceDataMissing = errors.New("reference data missing")
	// ErrInvalidInterval marks a pair whose gap is not within (0, max gap].
	ErrInvalidInterval = errors.New("invalid interval")
)

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampScore bounds a score to [0, 100].
func ClampScore(v float64) float64 {
	return Clamp(v, 0, 100)
}
