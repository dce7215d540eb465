package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tutorstack/mathchat/internal/domain"
)

func newTestServer(t *testing.T, repo *fakeRepo) *httptest.Server {
	t.Helper()
	o := newTestOrchestrator(repo, &fakeModel{tokens: []string{"model reply"}})
	h := NewHandler(o, repo, NewRateLimiter(100, time.Minute))
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// sseData extracts the decoded data payloads from an SSE body.
func sseData(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(body, "\n") {
		rest, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal([]byte(rest), &s); err != nil {
			t.Fatalf("data payload %q is not a JSON string: %v", rest, err)
		}
		out = append(out, s)
	}
	return out
}

func TestHandleAssistantStreamsProblem(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	seedTestCatalog(t, repo)
	srv := newTestServer(t, repo)

	resp, err := http.Post(srv.URL+"/api/assistant", "application/json",
		strings.NewReader(`{"message":"3","userId":"u1","threadKey":"t1"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	frags := sseData(t, buf.String())
	if len(frags) != 1 {
		t.Fatalf("fragments = %d, want 1", len(frags))
	}
	if !strings.HasPrefix(frags[0], "First algebra problem.") {
		t.Errorf("fragment:\n%s", frags[0])
	}
}

func TestHandleAssistantRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	srv := newTestServer(t, repo)

	for _, body := range []string{
		`{"userId":"u1","threadKey":"t1"}`,
		`{"message":"hi","threadKey":"t1"}`,
		`{"message":"hi","userId":"u1"}`,
		`not json`,
	} {
		resp, err := http.Post(srv.URL+"/api/assistant", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}

	// Nothing leaked into the ledger.
	if msgs, _ := repo.GetMessages(context.Background(), "u1", "t1"); len(msgs) != 0 {
		t.Errorf("rejected requests reached the ledger: %v", msgs)
	}
}

func TestHandleAssistantRateLimit(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	seedTestCatalog(t, repo)
	o := newTestOrchestrator(repo, &fakeModel{})
	h := NewHandler(o, repo, NewRateLimiter(2, time.Minute))
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	var last int
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/api/assistant", "application/json",
			strings.NewReader(`{"message":"hello","userId":"limited","threadKey":"t"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last)
	}
}

func TestHandleHistory(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	ctx := context.Background()
	repo.AppendMessage(ctx, "u1", "t1", domain.RoleUser, "hello")
	repo.AppendMessage(ctx, "u1", "t1", domain.RoleAssistant, "hi there")
	repo.AppendMessage(ctx, "u1", "other", domain.RoleUser, "unrelated")
	srv := newTestServer(t, repo)

	resp, err := http.Get(srv.URL + "/api/history?userId=u1&threadKey=t1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var payload struct {
		Conversation []domain.ConversationMessage `json:"conversation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Conversation) != 2 {
		t.Fatalf("messages = %d, want 2", len(payload.Conversation))
	}
	if payload.Conversation[0].Content != "hello" || payload.Conversation[1].Content != "hi there" {
		t.Errorf("conversation out of order: %+v", payload.Conversation)
	}

	// Missing params are a client error.
	resp2, err := http.Get(srv.URL + "/api/history?userId=u1")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("missing threadKey: status = %d, want 400", resp2.StatusCode)
	}
}

func TestHandleProblemsAnnotatesChattedThreads(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	seedTestCatalog(t, repo)
	ctx := context.Background()
	repo.MarkThreadInteracted(ctx, "u1", "alg-1")
	srv := newTestServer(t, repo)

	resp, err := http.Get(srv.URL + "/api/problems?category=regularProblems&topic=Algebra&userId=u1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var problems []struct {
		ID            string `json:"id"`
		ChattedBefore bool   `json:"chattedBefore"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&problems); err != nil {
		t.Fatal(err)
	}
	if len(problems) != 2 {
		t.Fatalf("problems = %d, want 2", len(problems))
	}
	byID := make(map[string]bool)
	for _, p := range problems {
		byID[p.ID] = p.ChattedBefore
	}
	if !byID["alg-1"] || byID["alg-2"] {
		t.Errorf("annotations = %v", byID)
	}

	// Unknown categories are rejected.
	resp2, err := http.Get(srv.URL + "/api/problems?category=bogus")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus category: status = %d, want 400", resp2.StatusCode)
	}
}

func TestHandleFeedbackClearsGate(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	ctx := context.Background()
	repo.SetFeedbackNeeded(ctx, "u1", true)
	srv := newTestServer(t, repo)

	resp, err := http.Post(srv.URL+"/api/feedback", "application/json",
		strings.NewReader(`{"userId":"u1","feedback":"great tutor"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	user, _ := repo.GetUser(ctx, "u1")
	if user.FeedbackNeeded {
		t.Error("feedback flag not cleared")
	}
	if len(repo.feedback) != 1 || repo.feedback[0].Content != "great tutor" {
		t.Errorf("stored feedback = %+v", repo.feedback)
	}
}

func TestHandleSessionBootstrap(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	ctx := context.Background()
	repo.MarkThreadInteracted(ctx, "student@example.com", "alg-1")
	srv := newTestServer(t, repo)

	// Known email: interacted threads come back.
	resp, err := http.Post(srv.URL+"/api/email", "application/json",
		strings.NewReader(`{"email":"student@example.com"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload struct {
		UserID             string   `json:"userId"`
		InteractedProblems []string `json:"interactedProblems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.UserID != "student@example.com" {
		t.Errorf("userId = %q", payload.UserID)
	}
	if len(payload.InteractedProblems) != 1 || payload.InteractedProblems[0] != "alg-1" {
		t.Errorf("interactedProblems = %v", payload.InteractedProblems)
	}

	// No email: an anonymous id is minted and the session exists.
	resp2, err := http.Post(srv.URL+"/api/email", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var anon struct {
		UserID             string   `json:"userId"`
		InteractedProblems []string `json:"interactedProblems"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&anon); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(anon.UserID, "anon_") {
		t.Errorf("minted id = %q", anon.UserID)
	}
	if user, _ := repo.GetUser(ctx, anon.UserID); user == nil {
		t.Error("anonymous session not created")
	}
	if len(anon.InteractedProblems) != 0 {
		t.Errorf("fresh user interactedProblems = %v", anon.InteractedProblems)
	}
}
