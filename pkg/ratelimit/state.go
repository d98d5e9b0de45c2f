// Package ratelimit implements primary quota tracking and request gating for
// the search API. It reads the X-RateLimit-* response headers and the
// rateLimit block of query results, and refuses requests once the remaining
// quota falls below the stop threshold.
//
// With a Redis client the state is shared by every harvester using the same
// token. Without one it is kept in process.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyLimit          = "ghs:rate_limit:limit"
	RedisKeyRemaining      = "ghs:rate_limit:remaining"
	RedisKeyResetTimestamp = "ghs:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "ghs:rate_limit:last_update"
)

// DefaultStopPercent is the remaining-quota percentage below which requests
// are refused.
const DefaultStopPercent = 10

// throttleFactor scales the stop threshold into the warning threshold.
const throttleFactor = 2

// State is the current primary quota.
type State struct {
	// Limit is the quota of the window. Zero means no quota is known yet.
	Limit int `json:"limit"`

	// Remaining is the quota left in the window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Known reports whether a quota was ever observed.
func (s *State) Known() bool {
	return s.Limit > 0
}

// below reports whether the remaining quota is under percent of the limit in
// a window that has not reset yet.
func (s *State) below(percent int) bool {
	if !s.Known() || s.TimeUntilReset() == 0 {
		return false
	}
	return s.Remaining*100 < percent*s.Limit
}

// NeedsCriticalBlock returns true if requests must be refused.
func (s *State) NeedsCriticalBlock(stopPercent int) bool {
	return s.below(stopPercent)
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling(stopPercent int) bool {
	return s.below(stopPercent*throttleFactor) && !s.NeedsCriticalBlock(stopPercent)
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}
