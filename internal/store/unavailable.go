package store

import (
	"context"

	"github.com/tutorstack/mathchat/internal/domain"
)

// Unavailable is the degraded-mode Repository used when the database could
// not be opened at startup. Reads return ErrUnavailable so callers can tell
// an outage apart from an empty result; dependent features silently degrade
// to stateless behavior instead of crashing request handling.
type Unavailable struct{}

// NewUnavailable returns the degraded-mode repository.
func NewUnavailable() Repository {
	return Unavailable{}
}

func (Unavailable) GetUser(context.Context, string) (*domain.UserSession, error) {
	return nil, ErrUnavailable
}

func (Unavailable) GetOrCreateUser(context.Context, string) (*domain.UserSession, error) {
	return nil, ErrUnavailable
}

func (Unavailable) SetFeedbackNeeded(context.Context, string, bool) error { return ErrUnavailable }

func (Unavailable) AppendMessage(context.Context, string, string, domain.Role, string) error {
	return ErrUnavailable
}

func (Unavailable) GetMessages(context.Context, string, string) ([]domain.ConversationMessage, error) {
	return nil, ErrUnavailable
}

func (Unavailable) CountUserMessages(context.Context, string, string) (int, error) {
	return 0, ErrUnavailable
}

func (Unavailable) SetLastProblemText(context.Context, string, string, string) error {
	return ErrUnavailable
}

func (Unavailable) SetLastProblemMeta(context.Context, string, string, string, domain.Category) error {
	return ErrUnavailable
}

func (Unavailable) GetLastProblem(context.Context, string, string) (*domain.LastProblem, error) {
	return nil, ErrUnavailable
}

func (Unavailable) NextUnusedProblem(context.Context, string, domain.Category, string) (*domain.Problem, error) {
	return nil, ErrUnavailable
}

func (Unavailable) MarkProblemUsed(context.Context, string, domain.Category, string) error {
	return ErrUnavailable
}

func (Unavailable) UsedProblems(context.Context, string, domain.Category) (map[string]bool, error) {
	return nil, ErrUnavailable
}

func (Unavailable) MarkThreadInteracted(context.Context, string, string) (bool, int, error) {
	return false, 0, ErrUnavailable
}

func (Unavailable) InteractedThreads(context.Context, string) ([]string, error) {
	return nil, ErrUnavailable
}

func (Unavailable) ListProblems(context.Context, domain.Category, string) ([]domain.Problem, error) {
	return nil, ErrUnavailable
}

func (Unavailable) GetProblem(context.Context, domain.Category, string) (*domain.Problem, error) {
	return nil, ErrUnavailable
}

func (Unavailable) FindProblem(context.Context, string) (*domain.Problem, error) {
	return nil, ErrUnavailable
}

func (Unavailable) InsertProblems(context.Context, []domain.Problem) error { return ErrUnavailable }

func (Unavailable) CountProblems(context.Context) (int, error) { return 0, ErrUnavailable }

func (Unavailable) InsertFeedback(context.Context, *domain.Feedback) error { return ErrUnavailable }

func (Unavailable) InsertFeatureRequest(context.Context, *domain.FeatureRequest) error {
	return ErrUnavailable
}

func (Unavailable) Ping(context.Context) error { return ErrUnavailable }

func (Unavailable) Close() error { return nil }
