// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/tutorstack/mathchat/internal/domain"
)

// ErrUnavailable is returned by every operation when the backing store could
// not be opened. It is distinct from "not found" (which is a nil result) so
// callers can degrade to stateless behavior instead of treating the outage as
// a missing record.
var ErrUnavailable = errors.New("store unavailable")

// Repository defines the persistence contract for sessions, the conversation
// ledger, the problem catalog and the engagement counters.
type Repository interface {
	// GetUser retrieves a user session by id. Returns (nil, nil) when the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.UserSession, error)

	// GetOrCreateUser retrieves a user session, inserting a fresh one with
	// zeroed counters and feedback_needed=false on first access.
	GetOrCreateUser(ctx context.Context, userID string) (*domain.UserSession, error)

	// SetFeedbackNeeded sets or clears the sticky feedback flag.
	SetFeedbackNeeded(ctx context.Context, userID string, needed bool) error

	// AppendMessage appends one immutable message to the (userID, threadKey)
	// ledger, creating the user session row if it does not exist yet.
	AppendMessage(ctx context.Context, userID, threadKey string, role domain.Role, content string) error

	// GetMessages returns the ledger for (userID, threadKey) in insertion
	// order. An empty slice, not an error, when there is nothing.
	GetMessages(ctx context.Context, userID, threadKey string) ([]domain.ConversationMessage, error)

	// CountUserMessages returns how many user-role messages the thread holds.
	CountUserMessages(ctx context.Context, userID, threadKey string) (int, error)

	// SetLastProblemText records the full rendered problem text most recently
	// shown in the thread.
	SetLastProblemText(ctx context.Context, userID, threadKey, text string) error

	// SetLastProblemMeta records the catalog id and tier of the problem most
	// recently shown in the thread.
	SetLastProblemMeta(ctx context.Context, userID, threadKey, problemID string, category domain.Category) error

	// GetLastProblem returns the thread's last-shown problem record, or
	// (nil, nil) when the thread has not shown one.
	GetLastProblem(ctx context.Context, userID, threadKey string) (*domain.LastProblem, error)

	// NextUnusedProblem picks the first catalog problem in (category, topic)
	// not yet served to the user, marks it used in the same transaction, and
	// returns it. Returns (nil, nil) when the tier is exhausted. A problem id
	// marked used is never returned to the same user again.
	NextUnusedProblem(ctx context.Context, userID string, category domain.Category, topic string) (*domain.Problem, error)

	// MarkProblemUsed adds a problem id to the user's exclusion set for the
	// tier. Idempotent.
	MarkProblemUsed(ctx context.Context, userID string, category domain.Category, problemID string) error

	// UsedProblems returns the user's exclusion set for the tier.
	UsedProblems(ctx context.Context, userID string, category domain.Category) (map[string]bool, error)

	// MarkThreadInteracted atomically records that the thread crossed the
	// engagement threshold. When the thread key was not recorded before it
	// increments the user's interacted counter and returns counted=true with
	// the post-increment count; replays return counted=false.
	MarkThreadInteracted(ctx context.Context, userID, threadKey string) (counted bool, newCount int, err error)

	// InteractedThreads returns the thread keys already counted toward the
	// user's feedback cadence.
	InteractedThreads(ctx context.Context, userID string) ([]string, error)

	// ListProblems returns catalog problems for a tier, optionally filtered
	// by topic, in stable id order.
	ListProblems(ctx context.Context, category domain.Category, topic string) ([]domain.Problem, error)

	// GetProblem looks a problem up by tier and id. (nil, nil) when absent.
	GetProblem(ctx context.Context, category domain.Category, problemID string) (*domain.Problem, error)

	// FindProblem looks a problem up by id across all tiers in stable tier
	// order. (nil, nil) when absent.
	FindProblem(ctx context.Context, problemID string) (*domain.Problem, error)

	// InsertProblems seeds catalog records. Existing ids are left untouched.
	InsertProblems(ctx context.Context, problems []domain.Problem) error

	// CountProblems returns the catalog size across all tiers.
	CountProblems(ctx context.Context) (int, error)

	// InsertFeedback stores a survey submission.
	InsertFeedback(ctx context.Context, fb *domain.Feedback) error

	// InsertFeatureRequest stores a product suggestion.
	InsertFeatureRequest(ctx context.Context, fr *domain.FeatureRequest) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying database.
	Close() error
}
