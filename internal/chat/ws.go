package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// wsFrame is one websocket message in either direction. Inbound frames carry
// a turn request; outbound frames carry streamed fragments or an end marker.
type wsFrame struct {
	Type              string `json:"type"`
	Message           string `json:"message,omitempty"`
	UserID            string `json:"userId,omitempty"`
	ThreadKey         string `json:"problemId,omitempty"`
	SelectedProblemID string `json:"selectedProblemId,omitempty"`
	Content           string `json:"content,omitempty"`
	Error             string `json:"error,omitempty"`
}

// WebSocketHandler serves the assistant over a persistent websocket. Each
// inbound frame is a full turn request; the reply streams back as fragment
// frames followed by a done frame, mirroring the SSE endpoint.
type WebSocketHandler struct {
	orchestrator  *Orchestrator
	rateLimiter   *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the websocket transport.
func NewWebSocketHandler(orchestrator *Orchestrator, rateLimiter *RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator:  orchestrator,
		rateLimiter:   rateLimiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "invalid message"})
			continue
		}

		req := TurnRequest{
			Message:           frame.Message,
			UserID:            frame.UserID,
			ThreadKey:         frame.ThreadKey,
			SelectedProblemID: frame.SelectedProblemID,
		}
		if err := req.Validate(); err != nil {
			h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: err.Error()})
			continue
		}
		if !h.rateLimiter.Allow(req.UserID) {
			h.writeFrame(ctx, ws, wsFrame{Type: "error", Error: "rate limit exceeded"})
			continue
		}

		h.orchestrator.RunTurn(ctx, req, &wsSink{ctx: ctx, ws: ws})
		h.writeFrame(ctx, ws, wsFrame{Type: "done"})
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeFrame(ctx context.Context, ws *websocket.Conn, frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal websocket frame", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write websocket frame", "error", err)
	}
}

// wsSink streams turn fragments as websocket text frames.
type wsSink struct {
	ctx context.Context
	ws  *websocket.Conn
}

func (s *wsSink) Send(fragment string) error {
	data, err := json.Marshal(wsFrame{Type: "fragment", Content: fragment})
	if err != nil {
		return err
	}
	return s.ws.Write(s.ctx, websocket.MessageText, data)
}
