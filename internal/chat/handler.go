package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tutorstack/mathchat/internal/domain"
	"github.com/tutorstack/mathchat/internal/identity"
	"github.com/tutorstack/mathchat/internal/store"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// Handler exposes the assistant HTTP surface.
type Handler struct {
	orchestrator *Orchestrator
	repo         store.Repository
	rateLimiter  *RateLimiter
	maxBodySize  int64
}

// NewHandler creates the assistant HTTP handler. The rate limiter is shared
// with the websocket transport so switching transports does not reset a
// user's allowance.
func NewHandler(orchestrator *Orchestrator, repo store.Repository, rateLimiter *RateLimiter) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		repo:         repo,
		rateLimiter:  rateLimiter,
		maxBodySize:  defaultMaxRequestBodySize,
	}
}

// RegisterRoutes registers the assistant routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/assistant", h.HandleAssistant)
		r.Get("/history", h.HandleHistory)
		r.Get("/problems", h.HandleProblems)
		r.Post("/feedback", h.HandleFeedback)
		r.Post("/feature-request", h.HandleFeatureRequest)
		r.Post("/email", h.HandleSessionBootstrap)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// sseSink streams turn fragments as SSE events. Writes after the client has
// gone away return an error so the orchestrator stops sending; a mutex guards
// against interleaved writes from the keepalive path.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	failed  bool
}

// Send writes one fragment as a JSON-encoded string in a data: payload.
func (s *sseSink) Send(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errors.New("sse connection closed")
	}

	data, err := json.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("marshal fragment: %w", err)
	}
	if err := writeSSE(s.w, "message", string(data)); err != nil {
		s.failed = true
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleAssistant handles POST /api/assistant. Validation failures are
// client errors before any side effect; once the stream headers are
// committed, failures surface as in-band tokens.
func (h *Handler) HandleAssistant(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.rateLimiter.Allow(req.UserID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	slog.Info("assistant turn",
		"user_id", req.UserID,
		"thread_key", req.ThreadKey,
		"message_length", len(req.Message),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	// Commit headers before any async work; everything after this point is
	// signaled in-band.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.orchestrator.RunTurn(r.Context(), req, &sseSink{w: w, flusher: flusher})
}

// HandleHistory handles GET /api/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	threadKey := strings.TrimSpace(r.URL.Query().Get("threadKey"))
	if userID == "" || threadKey == "" {
		Error(w, http.StatusBadRequest, "userId and threadKey are required")
		return
	}

	msgs, err := h.repo.GetMessages(r.Context(), userID, threadKey)
	if err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.Error("failed to load history", "user_id", userID, "thread_key", threadKey, "error", err)
	}
	if msgs == nil {
		msgs = []domain.ConversationMessage{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"conversation": msgs})
}

// annotatedProblem is a catalog record with the per-user chat badge.
type annotatedProblem struct {
	domain.Problem
	ChattedBefore bool `json:"chattedBefore"`
}

// HandleProblems handles GET /api/problems.
func (h *Handler) HandleProblems(w http.ResponseWriter, r *http.Request) {
	category := domain.Category(strings.TrimSpace(r.URL.Query().Get("category")))
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))

	if category == "" {
		category = domain.CategoryRegular
	}
	if !category.Valid() {
		Error(w, http.StatusBadRequest, "unknown category")
		return
	}

	problems, err := h.repo.ListProblems(r.Context(), category, topic)
	if err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.Error("failed to list problems", "category", category, "error", err)
	}

	chatted := make(map[string]bool)
	if userID != "" {
		keys, err := h.repo.InteractedThreads(r.Context(), userID)
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			slog.Error("failed to load interacted threads", "user_id", userID, "error", err)
		}
		for _, k := range keys {
			chatted[k] = true
		}
	}

	annotated := make([]annotatedProblem, 0, len(problems))
	for _, p := range problems {
		annotated = append(annotated, annotatedProblem{Problem: p, ChattedBefore: chatted[p.ID]})
	}
	JSON(w, http.StatusOK, annotated)
}

type feedbackRequest struct {
	UserID   string `json:"userId"`
	Feedback string `json:"feedback"`
}

// HandleFeedback handles POST /api/feedback. Submitting feedback is the one
// transition that clears the feedback-needed flag.
func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		Error(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.repo.InsertFeedback(r.Context(), &domain.Feedback{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Content:   req.Feedback,
		CreatedAt: time.Now(),
	}); err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.Error("failed to store feedback", "user_id", req.UserID, "error", err)
	}

	h.orchestrator.Gate().ClearFeedback(r.Context(), req.UserID)
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type featureRequestBody struct {
	UserID  string `json:"userId"`
	Request string `json:"request"`
}

// HandleFeatureRequest handles POST /api/feature-request.
func (h *Handler) HandleFeatureRequest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req featureRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Request) == "" {
		Error(w, http.StatusBadRequest, "userId and request are required")
		return
	}

	if err := h.repo.InsertFeatureRequest(r.Context(), &domain.FeatureRequest{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Content:   req.Request,
		CreatedAt: time.Now(),
	}); err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.Error("failed to store feature request", "user_id", req.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store feature request")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bootstrapRequest struct {
	Email string `json:"email"`
}

// HandleSessionBootstrap handles POST /api/email: resolves the user id (the
// provided email, or a freshly minted anonymous id), creates the session
// document immediately, and returns the thread keys already counted toward
// feedback so the client can render its "already chatted" badges.
func (h *Handler) HandleSessionBootstrap(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := strings.TrimSpace(req.Email)
	if userID == "" {
		userID = identity.NewAnonID()
	}

	if _, err := h.repo.GetOrCreateUser(r.Context(), userID); err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.Error("failed to bootstrap user", "user_id", userID, "error", err)
	}

	interacted, err := h.repo.InteractedThreads(r.Context(), userID)
	if err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.Error("failed to load interacted threads", "user_id", userID, "error", err)
	}
	if interacted == nil {
		interacted = []string{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"userId":             userID,
		"interactedProblems": interacted,
	})
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
