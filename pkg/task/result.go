package task

import (
	"time"
)

// PageInfo is the pagination block of a connection.
type PageInfo struct {
	StartCursor *string `json:"startCursor"`
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// RateLimit is the quota block returned alongside every query.
type RateLimit struct {
	Cost      int       `json:"cost"`
	Limit     int       `json:"limit"`
	NodeCount int       `json:"nodeCount"`
	Remaining int       `json:"remaining"`
	Used      int       `json:"used"`
	ResetAt   time.Time `json:"resetAt"`
}

// Below reports whether the remaining quota is under stopPercent of the
// limit.
func (r *RateLimit) Below(stopPercent int) bool {
	if r == nil || r.Limit <= 0 {
		return false
	}
	return r.Remaining*100 < stopPercent*r.Limit
}

// Result is the decoded response of one work-item execution.
type Result interface {
	GetRateLimit() *RateLimit
}

// RateLimitResponse is embedded by every family result.
type RateLimitResponse struct {
	RateLimit *RateLimit `json:"rateLimit"`
}

// GetRateLimit implements Result.
func (r RateLimitResponse) GetRateLimit() *RateLimit {
	return r.RateLimit
}
