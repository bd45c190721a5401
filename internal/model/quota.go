package model

import "time"

// DenyReason classifies why a consume decision was denied.
type DenyReason string

const (
	ReasonInvalidKey    DenyReason = "INVALID_KEY"
	ReasonRateLimited   DenyReason = "RATE_LIMITED"
	ReasonQuotaExceeded DenyReason = "QUOTA_EXCEEDED"
)

// Decision is the outcome of a consume call. Limit, Remaining and ResetAt
// describe the single reported window (the most restrictive one on allow,
// the exceeded one on denial).
type Decision struct {
	Allowed   bool       `json:"allowed"`
	Reason    DenyReason `json:"reason,omitempty"`
	Limit     int        `json:"limit"`
	Remaining int        `json:"remaining"`
	ResetAt   time.Time  `json:"resetAt"`
}

// WindowUsage is the per-window slice of a usage snapshot.
type WindowUsage struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// UsageSnapshot reports current consumption without mutating any window.
type UsageSnapshot struct {
	Minute WindowUsage `json:"minute"`
	Day    WindowUsage `json:"day"`
}
