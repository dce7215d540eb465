package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tutorstack/mathchat/internal/domain"
	"github.com/tutorstack/mathchat/internal/store"
)

// Ledger wraps the store's conversation operations with the degradation
// policy: store failures are logged and converted to safe defaults (empty
// history, no-op writes) so a store outage silently disables history instead
// of failing turns.
type Ledger struct {
	repo store.Repository
}

// NewLedger creates a conversation ledger over the repository.
func NewLedger(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Append records one immutable message under (userID, threadKey). Append is
// side-effect-only; failures degrade to a no-op.
func (l *Ledger) Append(ctx context.Context, userID, threadKey string, role domain.Role, content string) {
	if err := l.repo.AppendMessage(ctx, userID, threadKey, role, content); err != nil {
		logStoreErr("append message", err, userID, threadKey)
	}
}

// History returns the thread's messages in append order, empty on outage.
func (l *Ledger) History(ctx context.Context, userID, threadKey string) []domain.ConversationMessage {
	msgs, err := l.repo.GetMessages(ctx, userID, threadKey)
	if err != nil {
		logStoreErr("load history", err, userID, threadKey)
		return nil
	}
	return msgs
}

// UserMessageCount returns the number of user-role messages in the thread,
// zero on outage.
func (l *Ledger) UserMessageCount(ctx context.Context, userID, threadKey string) int {
	n, err := l.repo.CountUserMessages(ctx, userID, threadKey)
	if err != nil {
		logStoreErr("count user messages", err, userID, threadKey)
		return 0
	}
	return n
}

// LastProblemText returns the rendered text last shown in the thread, empty
// if none.
func (l *Ledger) LastProblemText(ctx context.Context, userID, threadKey string) string {
	lp, err := l.repo.GetLastProblem(ctx, userID, threadKey)
	if err != nil {
		logStoreErr("load last problem", err, userID, threadKey)
		return ""
	}
	if lp == nil {
		return ""
	}
	return lp.Text
}

// LastProblemMeta returns the catalog id and tier last shown in the thread.
func (l *Ledger) LastProblemMeta(ctx context.Context, userID, threadKey string) (string, domain.Category) {
	lp, err := l.repo.GetLastProblem(ctx, userID, threadKey)
	if err != nil {
		logStoreErr("load last problem", err, userID, threadKey)
		return "", ""
	}
	if lp == nil {
		return "", ""
	}
	return lp.ProblemID, lp.Category
}

// SetLastProblemText persists the rendered text last shown in the thread.
func (l *Ledger) SetLastProblemText(ctx context.Context, userID, threadKey, text string) {
	if err := l.repo.SetLastProblemText(ctx, userID, threadKey, text); err != nil {
		logStoreErr("set last problem text", err, userID, threadKey)
	}
}

// SetLastProblemMeta persists the catalog id and tier last shown in the thread.
func (l *Ledger) SetLastProblemMeta(ctx context.Context, userID, threadKey, problemID string, category domain.Category) {
	if err := l.repo.SetLastProblemMeta(ctx, userID, threadKey, problemID, category); err != nil {
		logStoreErr("set last problem meta", err, userID, threadKey)
	}
}

func logStoreErr(op string, err error, userID, threadKey string) {
	if errors.Is(err, store.ErrUnavailable) {
		slog.Debug("store unavailable, degrading", "op", op, "user_id", userID, "thread_key", threadKey)
		return
	}
	slog.Error("store operation failed", "op", op, "user_id", userID, "thread_key", threadKey, "error", err)
}
