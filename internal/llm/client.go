// Package llm provides a streaming client for the completion API.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrDisabled is yielded when no completion backend is configured.
	ErrDisabled = errors.New("completion API disabled")

	errStreamStatus = errors.New("completion API returned error status")
)

// Message is one entry of the ordered model input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer submits an ordered message list and yields response tokens as
// they arrive. The sequence ends after the final token; a non-nil error ends
// it early.
type Completer interface {
	StreamCompletion(ctx context.Context, messages []Message) iter.Seq2[string, error]
}

// Config holds completion client configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client is an HTTP chat-completions client that streams tokens over SSE.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a streaming completion client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion API key required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamCompletion submits the ordered message list and yields content deltas.
// The request timeout doubles as the model-call deadline: expiry surfaces as a
// stream error, not a hang.
func (c *Client) StreamCompletion(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqBody := completionRequest{
			Model:    c.model,
			Messages: messages,
			Stream:   true,
		}

		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			yield("", fmt.Errorf("encode completion request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", &buf)
		if err != nil {
			yield("", fmt.Errorf("build completion request: %w", err))
			return
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			yield("", fmt.Errorf("completion request failed: %w", err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Warn("failed to close completion response body", "error", closeErr)
			}
		}()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", fmt.Errorf("%w: %d: %s", errStreamStatus, resp.StatusCode, string(raw)))
			return
		}

		br := bufio.NewReader(resp.Body)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", fmt.Errorf("read completion stream: %w", err))
				return
			}
			line = strings.TrimRight(line, "\r\n")

			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				if data == "[DONE]" {
					return
				}
				continue
			}

			var chunk completionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Warn("skipping malformed completion chunk", "error", err)
				continue
			}
			if chunk.Error != nil {
				yield("", fmt.Errorf("completion stream error: %s", chunk.Error.Message))
				return
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
	}
}

// Disabled is a Completer that yields ErrDisabled. Used when no API key is
// configured so explanation turns fail in-band instead of at startup.
type Disabled struct{}

// StreamCompletion yields a single ErrDisabled.
func (Disabled) StreamCompletion(context.Context, []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", ErrDisabled)
	}
}

var (
	_ Completer = (*Client)(nil)
	_ Completer = Disabled{}
)
