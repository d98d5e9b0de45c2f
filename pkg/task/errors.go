package task

import (
	"errors"
)

// Failure categories the dispatch engine handles at run level rather than
// per item. Transports wrap these so callers can use errors.Is.
var (
	// ErrPrimaryRateLimit means the quota fell below the stop threshold.
	// Dispatch halts and pending work stays unresolved for a later run.
	ErrPrimaryRateLimit = errors.New("primary rate limit reached")

	// ErrSecondaryRateLimit means the remote side throttled the client for
	// abuse. The whole run is aborted.
	ErrSecondaryRateLimit = errors.New("secondary rate limit reached")
)

type partialResponder interface {
	PartialResponse() bool
}

// IsPartialResponse reports whether err describes a response whose data is
// usable although some elements were nulled out upstream.
func IsPartialResponse(err error) bool {
	var p partialResponder
	if errors.As(err, &p) {
		return p.PartialResponse()
	}
	return false
}

// RecordUnlessPartial is the error classification of families that tolerate
// partial responses.
func RecordUnlessPartial(err error) bool {
	return !IsPartialResponse(err)
}
