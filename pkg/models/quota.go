package models

import "time"

// QuotaWindow is a time-bounded token allowance tied to a user's
// subscription. At most one active window exists per user at a time.
type QuotaWindow struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	PlanID     string    `json:"plan_id,omitempty"`
	TokenQuota int64     `json:"token_quota"`
	TokensUsed int64     `json:"tokens_used"`
	StartedAt  time.Time `json:"started_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Active     bool      `json:"active"`
}

// Remaining returns the unconsumed token allowance, floored at zero.
func (w *QuotaWindow) Remaining() int64 {
	r := w.TokenQuota - w.TokensUsed
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether the window has passed its expiry.
func (w *QuotaWindow) Expired(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && now.After(w.ExpiresAt)
}
