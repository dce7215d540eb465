package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// TranscriptEvent is one NDJSON record of the conversation transcript.
type TranscriptEvent struct {
	Timestamp string `json:"ts"`
	UserID    string `json:"user_id"`
	ThreadKey string `json:"thread_key"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// TranscriptLogger records conversation turns for offline review. Log must
// never block the request path.
type TranscriptLogger interface {
	Log(event TranscriptEvent)
	Close() error
}

type noopTranscriptLogger struct{}

func (noopTranscriptLogger) Log(TranscriptEvent) {}
func (noopTranscriptLogger) Close() error        { return nil }

// NewNoopTranscriptLogger returns a logger that discards everything.
func NewNoopTranscriptLogger() TranscriptLogger {
	return noopTranscriptLogger{}
}

// TranscriptLogConfig controls NDJSON transcript logging.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// fileTranscriptLogger writes one NDJSON file per (user, thread) under Dir.
// Events flow through a bounded queue drained by a single goroutine; when the
// queue is full the event is dropped and counted rather than stalling a turn.
type fileTranscriptLogger struct {
	dir     string
	queue   chan TranscriptEvent
	done    chan struct{}
	dropped atomic.Int64
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewTranscriptLogger creates the NDJSON transcript logger. Returns the noop
// logger when disabled.
func NewTranscriptLogger(cfg TranscriptLogConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return noopTranscriptLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript log dir required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript log dir: %w", err)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &fileTranscriptLogger{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEvent, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	l.wg.Add(1)
	go l.drain()
	return l, nil
}

// Log enqueues an event, dropping it when the queue is full.
func (l *fileTranscriptLogger) Log(event TranscriptEvent) {
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n%100 == 1 {
			l.logger.Warn("transcript log queue full, dropping events", "dropped_total", n)
		}
	}
}

// Close stops the drain goroutine after flushing queued events.
func (l *fileTranscriptLogger) Close() error {
	close(l.done)
	l.wg.Wait()
	return nil
}

func (l *fileTranscriptLogger) drain() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.done:
			// Flush whatever is still queued.
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *fileTranscriptLogger) write(event TranscriptEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("failed to marshal transcript event", "error", err)
		return
	}

	userDir := filepath.Join(l.dir, sanitizePathComponent(event.UserID))
	if err := os.MkdirAll(userDir, 0755); err != nil {
		l.logger.Warn("failed to create transcript user dir", "error", err)
		return
	}
	path := filepath.Join(userDir, sanitizePathComponent(event.ThreadKey)+".ndjson")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.logger.Warn("failed to open transcript file", "path", path, "error", err)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Warn("failed to close transcript file", "path", path, "error", closeErr)
		}
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("failed to write transcript event", "path", path, "error", err)
	}
}

// sanitizePathComponent keeps transcript file names inside the log dir no
// matter what a client puts in userId or threadKey.
func sanitizePathComponent(s string) string {
	if s == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == '-' || r == '_' || r == '.' || r == '@':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	cleaned := string(out)
	if cleaned == "." || cleaned == ".." {
		return "unknown"
	}
	return cleaned
}
