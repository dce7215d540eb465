package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/tutorstack/mathchat/internal/domain"
	"github.com/tutorstack/mathchat/internal/store"
)

// fakeRepo is an in-memory Repository for orchestrator and handler tests.
type fakeRepo struct {
	mu         sync.Mutex
	users      map[string]*domain.UserSession
	messages   map[string][]domain.ConversationMessage // key: userID + "\x00" + threadKey
	last       map[string]*domain.LastProblem
	used       map[string]map[string]bool // key: userID + "\x00" + category
	interacted map[string]map[string]bool // userID -> thread keys
	problems   []domain.Problem
	feedback   []*domain.Feedback
	features   []*domain.FeatureRequest
	seq        int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:      make(map[string]*domain.UserSession),
		messages:   make(map[string][]domain.ConversationMessage),
		last:       make(map[string]*domain.LastProblem),
		used:       make(map[string]map[string]bool),
		interacted: make(map[string]map[string]bool),
	}
}

func threadID(userID, threadKey string) string { return userID + "\x00" + threadKey }

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) GetOrCreateUser(_ context.Context, userID string) (*domain.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		u = &domain.UserSession{UserID: userID}
		f.users[userID] = u
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) SetFeedbackNeeded(_ context.Context, userID string, needed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		u = &domain.UserSession{UserID: userID}
		f.users[userID] = u
	}
	u.FeedbackNeeded = needed
	return nil
}

func (f *fakeRepo) AppendMessage(_ context.Context, userID, threadKey string, role domain.Role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = &domain.UserSession{UserID: userID}
	}
	f.seq++
	key := threadID(userID, threadKey)
	f.messages[key] = append(f.messages[key], domain.ConversationMessage{
		Seq:       f.seq,
		Role:      role,
		Content:   content,
		ThreadKey: threadKey,
	})
	return nil
}

func (f *fakeRepo) GetMessages(_ context.Context, userID, threadKey string) ([]domain.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[threadID(userID, threadKey)]
	out := make([]domain.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeRepo) CountUserMessages(_ context.Context, userID, threadKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages[threadID(userID, threadKey)] {
		if m.Role == domain.RoleUser {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) SetLastProblemText(_ context.Context, userID, threadKey, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := threadID(userID, threadKey)
	lp, ok := f.last[key]
	if !ok {
		lp = &domain.LastProblem{ThreadKey: threadKey}
		f.last[key] = lp
	}
	lp.Text = text
	return nil
}

func (f *fakeRepo) SetLastProblemMeta(_ context.Context, userID, threadKey, problemID string, category domain.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := threadID(userID, threadKey)
	lp, ok := f.last[key]
	if !ok {
		lp = &domain.LastProblem{ThreadKey: threadKey}
		f.last[key] = lp
	}
	lp.ProblemID = problemID
	lp.Category = category
	return nil
}

func (f *fakeRepo) GetLastProblem(_ context.Context, userID, threadKey string) (*domain.LastProblem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lp, ok := f.last[threadID(userID, threadKey)]
	if !ok {
		return nil, nil
	}
	cp := *lp
	return &cp, nil
}

func (f *fakeRepo) NextUnusedProblem(_ context.Context, userID string, category domain.Category, topic string) (*domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	usedKey := threadID(userID, string(category))
	for _, p := range f.sortedProblems(category, topic) {
		if f.used[usedKey][p.ID] {
			continue
		}
		if f.used[usedKey] == nil {
			f.used[usedKey] = make(map[string]bool)
		}
		f.used[usedKey][p.ID] = true
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRepo) sortedProblems(category domain.Category, topic string) []domain.Problem {
	var out []domain.Problem
	for _, p := range f.problems {
		if p.Category != category {
			continue
		}
		if topic != "" && p.Topic != topic {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeRepo) MarkProblemUsed(_ context.Context, userID string, category domain.Category, problemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := threadID(userID, string(category))
	if f.used[key] == nil {
		f.used[key] = make(map[string]bool)
	}
	f.used[key][problemID] = true
	return nil
}

func (f *fakeRepo) UsedProblems(_ context.Context, userID string, category domain.Category) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for id := range f.used[threadID(userID, string(category))] {
		out[id] = true
	}
	return out, nil
}

func (f *fakeRepo) MarkThreadInteracted(_ context.Context, userID, threadKey string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.interacted[userID] == nil {
		f.interacted[userID] = make(map[string]bool)
	}
	if f.interacted[userID][threadKey] {
		return false, len(f.interacted[userID]), nil
	}
	f.interacted[userID][threadKey] = true
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = &domain.UserSession{UserID: userID}
	}
	f.users[userID].InteractedCount = len(f.interacted[userID])
	return true, len(f.interacted[userID]), nil
}

func (f *fakeRepo) InteractedThreads(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.interacted[userID] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeRepo) ListProblems(_ context.Context, category domain.Category, topic string) ([]domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedProblems(category, topic), nil
}

func (f *fakeRepo) GetProblem(_ context.Context, category domain.Category, problemID string) (*domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.problems {
		if p.Category == category && p.ID == problemID {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindProblem(_ context.Context, problemID string) (*domain.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cat := range domain.Categories() {
		for _, p := range f.problems {
			if p.Category == cat && p.ID == problemID {
				cp := p
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeRepo) InsertProblems(_ context.Context, problems []domain.Problem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.problems = append(f.problems, problems...)
	return nil
}

func (f *fakeRepo) CountProblems(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.problems), nil
}

func (f *fakeRepo) InsertFeedback(_ context.Context, fb *domain.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, fb)
	return nil
}

func (f *fakeRepo) InsertFeatureRequest(_ context.Context, fr *domain.FeatureRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.features = append(f.features, fr)
	return nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

var _ store.Repository = (*fakeRepo)(nil)
