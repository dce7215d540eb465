package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tutorstack/mathchat/internal/catalog"
	"github.com/tutorstack/mathchat/internal/domain"
	"github.com/tutorstack/mathchat/internal/llm"
	"github.com/tutorstack/mathchat/internal/store"
)

// errorToken is the single in-band token emitted when a turn fails after the
// stream has been committed.
const errorToken = "[ERROR]"

// Sink receives response fragments for one turn. A fragment is either a whole
// synthesized message or an incremental model token. Send returning an error
// means the client is gone; the orchestrator suppresses further sends but
// still completes server-side persistence.
type Sink interface {
	Send(fragment string) error
}

// TurnRequest is the inbound assistant request body.
type TurnRequest struct {
	Message           string `json:"message"`
	UserID            string `json:"userId"`
	ThreadKey         string `json:"threadKey"`
	SelectedProblemID string `json:"selectedProblemId,omitempty"`
}

// Validate checks the required fields. Failures happen before any side effect.
func (r *TurnRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return errors.New("message is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("userId is required")
	}
	if strings.TrimSpace(r.ThreadKey) == "" {
		return errors.New("threadKey is required")
	}
	return nil
}

// Orchestrator dispatches one assistant turn: classify the command, enforce
// the feedback gate, maintain the ledger and engagement counters, and run one
// of the four response strategies.
type Orchestrator struct {
	repo         store.Repository
	ledger       *Ledger
	gate         *Gate
	cursor       *catalog.Cursor
	model        llm.Completer
	translog     TranscriptLogger
	systemPrompt string
}

// NewOrchestrator wires the turn dispatcher.
func NewOrchestrator(repo store.Repository, cursor *catalog.Cursor, model llm.Completer, translog TranscriptLogger) *Orchestrator {
	if translog == nil {
		translog = noopTranscriptLogger{}
	}
	return &Orchestrator{
		repo:         repo,
		ledger:       NewLedger(repo),
		gate:         NewGate(repo),
		cursor:       cursor,
		model:        model,
		translog:     translog,
		systemPrompt: systemPrompt,
	}
}

// Gate exposes the engagement gate, shared with the feedback handler.
func (o *Orchestrator) Gate() *Gate {
	return o.gate
}

// RunTurn executes one assistant turn against the sink. The request must be
// validated first; by the time RunTurn runs, the response channel is already
// open and failures are signaled in-band.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest, sink Sink) {
	cmd := Classify(req.Message, req.SelectedProblemID)

	if _, err := o.repo.GetOrCreateUser(ctx, req.UserID); err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.Error("failed to load user session", "user_id", req.UserID, "error", err)
	}

	// Generation flows check the gate before the user message is appended:
	// a gated command is deliberately never recorded.
	if cmd.IsGeneration() && o.gate.Blocked(ctx, req.UserID) {
		slog.Info("generation blocked by feedback gate", "user_id", req.UserID, "thread_key", req.ThreadKey)
		o.send(sink, "")
		return
	}

	o.ledger.Append(ctx, req.UserID, req.ThreadKey, domain.RoleUser, req.Message)
	o.logTurn(req, "user", req.Message)
	count := o.ledger.UserMessageCount(ctx, req.UserID, req.ThreadKey)
	o.gate.RecordUserMessage(ctx, req.UserID, req.ThreadKey, count)

	switch cmd.Kind {
	case KindGenerate, KindSelect:
		o.runGeneration(ctx, req, cmd, sink)
	case KindAnswer:
		o.runAnswerCheck(ctx, req, cmd, sink)
	default:
		o.runModelTurn(ctx, req, cmd, sink)
	}
}

// runGeneration serves a catalog problem. No model call is made on this path.
func (o *Orchestrator) runGeneration(ctx context.Context, req TurnRequest, cmd Command, sink Sink) {
	var p *domain.Problem
	var err error

	if cmd.Kind == KindSelect {
		_, hint := o.ledger.LastProblemMeta(ctx, req.UserID, req.ThreadKey)
		p, err = o.cursor.Take(ctx, req.UserID, cmd.ProblemID, hint)
	} else {
		p, err = o.cursor.Next(ctx, req.UserID, cmd.Category, cmd.Topic)
	}
	if err != nil {
		slog.Error("problem resolution failed", "user_id", req.UserID, "error", err)
		o.send(sink, errorToken)
		return
	}

	if p == nil {
		o.reply(ctx, req, sink, msgNoMoreProblems)
		return
	}

	reply := RenderProblem(p)
	o.ledger.SetLastProblemText(ctx, req.UserID, req.ThreadKey, reply)
	o.ledger.SetLastProblemMeta(ctx, req.UserID, req.ThreadKey, p.ID, p.Category)
	o.reply(ctx, req, sink, reply)
}

// runAnswerCheck grades a submitted letter against the thread's last-shown
// problem. No model call is made on this path.
func (o *Orchestrator) runAnswerCheck(ctx context.Context, req TurnRequest, cmd Command, sink Sink) {
	problemID, hint := o.ledger.LastProblemMeta(ctx, req.UserID, req.ThreadKey)
	if problemID == "" {
		o.reply(ctx, req, sink, msgAnswerNoProblem)
		return
	}

	p, err := o.cursor.Lookup(ctx, problemID, hint)
	if err != nil {
		slog.Error("answer check lookup failed", "user_id", req.UserID, "problem_id", problemID, "error", err)
		o.send(sink, errorToken)
		return
	}
	if p == nil {
		o.reply(ctx, req, sink, msgAnswerNoProblem)
		return
	}

	o.reply(ctx, req, sink, RenderAnswerCheck(cmd.Letter, p))
}

// runModelTurn handles explanation commands and free-form questions by
// calling the completion API with the assembled thread input.
func (o *Orchestrator) runModelTurn(ctx context.Context, req TurnRequest, cmd Command, sink Sink) {
	lastText := o.ledger.LastProblemText(ctx, req.UserID, req.ThreadKey)

	if cmd.Kind == KindExplain && lastText == "" {
		o.reply(ctx, req, sink, msgNoPriorProblem)
		return
	}

	messages := []llm.Message{{Role: "system", Content: o.systemPrompt}}
	for _, m := range o.ledger.History(ctx, req.UserID, req.ThreadKey) {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if lastText != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: "The problem currently being discussed:\n" + CoreProblemText(lastText),
		})
	}

	// The model call and the trailing persistence outlive a client
	// disconnect: sends are suppressed, the ledger write still completes.
	turnCtx := context.WithoutCancel(ctx)

	var full strings.Builder
	clientGone := false
	for token, err := range o.model.StreamCompletion(turnCtx, messages) {
		if err != nil {
			slog.Error("completion stream failed", "user_id", req.UserID, "thread_key", req.ThreadKey, "error", err)
			o.send(sink, errorToken)
			return
		}
		full.WriteString(token)
		if !clientGone {
			if sendErr := sink.Send(token); sendErr != nil {
				clientGone = true
				slog.Info("client disconnected mid-stream", "user_id", req.UserID, "thread_key", req.ThreadKey)
			}
		}
	}

	final := postProcess(cmd, full.String())
	if cmd.Kind == KindExplain && !clientGone {
		o.send(sink, "\n\n"+followUpMenu)
	}

	o.ledger.Append(turnCtx, req.UserID, req.ThreadKey, domain.RoleAssistant, final)
	o.logTurn(req, "assistant", final)
}

// reply streams a whole synthesized message and persists it as one assistant
// ledger entry.
func (o *Orchestrator) reply(ctx context.Context, req TurnRequest, sink Sink, text string) {
	o.send(sink, text)
	o.ledger.Append(context.WithoutCancel(ctx), req.UserID, req.ThreadKey, domain.RoleAssistant, text)
	o.logTurn(req, "assistant", text)
}

func (o *Orchestrator) send(sink Sink, fragment string) {
	if err := sink.Send(fragment); err != nil {
		slog.Debug("sink write failed", "error", err)
	}
}

func (o *Orchestrator) logTurn(req TurnRequest, role, content string) {
	o.translog.Log(TranscriptEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		UserID:    req.UserID,
		ThreadKey: req.ThreadKey,
		Role:      role,
		Content:   content,
	})
}
