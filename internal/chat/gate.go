package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tutorstack/mathchat/internal/store"
)

// feedbackEvery is the engagement cadence: feedback is requested after every
// third distinct thread that crosses the interaction threshold.
const feedbackEvery = 3

// interactionThreshold is the user-message count at which a thread counts as
// interacted. The check is edge-triggered on exactly this count.
const interactionThreshold = 2

// Gate is the per-user engagement state machine. It owns the sticky
// feedback-needed flag: set here when the interacted-thread count reaches a
// positive multiple of the cadence, cleared only by an explicit feedback
// submission.
type Gate struct {
	repo store.Repository
}

// NewGate creates a feedback gate over the repository.
func NewGate(repo store.Repository) *Gate {
	return &Gate{repo: repo}
}

// Blocked reports whether new-problem flows must be short-circuited for the
// user. Store outage degrades to not blocked.
func (g *Gate) Blocked(ctx context.Context, userID string) bool {
	user, err := g.repo.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			slog.Error("feedback gate read failed", "user_id", userID, "error", err)
		}
		return false
	}
	return user.FeedbackDue()
}

// RecordUserMessage re-evaluates the engagement transition after a user
// message was appended. When the thread's user-message count is exactly the
// threshold, the thread is counted at most once ever (atomic set-if-absent in
// the store); if that first counting lands the user's total on a positive
// multiple of the cadence, the feedback flag is raised. The flag is never
// cleared here, and the triggering turn itself proceeds unblocked: only the
// next generation request sees the raised flag.
func (g *Gate) RecordUserMessage(ctx context.Context, userID, threadKey string, userMessageCount int) {
	if userMessageCount != interactionThreshold {
		return
	}

	counted, total, err := g.repo.MarkThreadInteracted(ctx, userID, threadKey)
	if err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			slog.Error("failed to mark thread interacted", "user_id", userID, "thread_key", threadKey, "error", err)
		}
		return
	}
	if !counted {
		return
	}

	slog.Info("thread counted toward feedback cadence", "user_id", userID, "thread_key", threadKey, "interacted_count", total)

	if total > 0 && total%feedbackEvery == 0 {
		if err := g.repo.SetFeedbackNeeded(ctx, userID, true); err != nil {
			if !errors.Is(err, store.ErrUnavailable) {
				slog.Error("failed to raise feedback flag", "user_id", userID, "error", err)
			}
			return
		}
		slog.Info("feedback now required", "user_id", userID, "interacted_count", total)
	}
}

// ClearFeedback lowers the flag after an explicit feedback submission.
func (g *Gate) ClearFeedback(ctx context.Context, userID string) {
	if err := g.repo.SetFeedbackNeeded(ctx, userID, false); err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			slog.Error("failed to clear feedback flag", "user_id", userID, "error", err)
		}
	}
}
