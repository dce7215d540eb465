// Package domain contains core domain types for the tutoring chat service.
package domain

import (
	"time"
)

// UserSession is the per-user session document. The maps the session logically
// carries (used problems, interacted threads, last-shown problems) live in
// dedicated store tables keyed by user_id; this struct holds the scalar state.
type UserSession struct {
	UserID          string    `json:"user_id"`
	FeedbackNeeded  bool      `json:"feedback_needed"`
	InteractedCount int       `json:"interacted_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FeedbackDue reports whether the next new-problem request must be blocked
// until the user submits feedback.
func (u *UserSession) FeedbackDue() bool {
	return u != nil && u.FeedbackNeeded
}
