package domain

import (
	"time"
)

// Feedback is a survey submission. Submitting one clears the user's
// feedback-needed flag.
type Feedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"feedback"`
	CreatedAt time.Time `json:"created_at"`
}

// FeatureRequest is a free-form product suggestion.
type FeatureRequest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"request"`
	CreatedAt time.Time `json:"created_at"`
}
