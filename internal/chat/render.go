package chat

import (
	"fmt"
	"strings"

	"github.com/tutorstack/mathchat/internal/domain"
)

// Fixed assistant messages. These are synthesized server-side; no model call
// is made for the paths that emit them.
const (
	msgNoMoreProblems = "You've worked through every problem I have in that category. Pick a different category, or ask me anything about the problems you've already seen."

	msgNoPriorProblem = "I don't see a previous problem in this conversation yet. Generate a problem first (options 1-6), then ask me to explain it."

	msgAnswerNoProblem = "I couldn't find the problem you're answering. Generate a problem first (options 1-6), then send your answer choice."

	solvabilityNote = "This one is meant to stretch you. It looks harder than it is, and it is fully solvable with the concepts you already know."
)

// Trailing-section markers recognized by CoreProblemText. The timed-practice
// footer always begins with footerMarker, so stripping at the first marker
// recovers the problem body from the stored rendered text.
const (
	hintsMarker  = "Hints:"
	footerMarker = "On the real test,"
)

// followUpMenu lists the explanation commands appended to every problem and
// answer-check reply.
const followUpMenu = "When you're ready, reply with:\n" +
	"7. Step-by-step solution\n" +
	"8. Desmos graphing walkthrough\n" +
	"9. Key concept review\n" +
	"10. Why the wrong answers are wrong"

// practiceSeconds returns the timed-practice allotment for a tier.
func practiceSeconds(category domain.Category) int {
	switch category {
	case domain.CategoryExtraDifficult:
		return 120
	case domain.CategoryHard:
		return 90
	default:
		return 60
	}
}

// formatHints renders the first three hints on one line: "Hints: 1. h1 2. h2 3. h3".
func formatHints(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	n := len(hints)
	if n > 3 {
		n = 3
	}
	var b strings.Builder
	b.WriteString("Hints:")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, " %d. %s", i+1, hints[i])
	}
	return b.String()
}

// RenderProblem builds the full assistant reply for a served problem: body,
// tier-specific addenda, timed-practice footer and the follow-up menu. The
// result is also what gets persisted as the thread's last problem text.
func RenderProblem(p *domain.Problem) string {
	sections := []string{strings.TrimSpace(p.Body)}

	if p.Category == domain.CategoryHard {
		if hints := formatHints(p.Hints); hints != "" {
			sections = append(sections, hints)
		}
	}
	if p.Category == domain.CategoryHard || p.Category == domain.CategoryExtraDifficult {
		sections = append(sections, solvabilityNote)
	}

	footer := fmt.Sprintf("%s you would have about %d seconds to solve a problem like this. Set a timer and try it under time pressure.",
		footerMarker, practiceSeconds(p.Category))
	sections = append(sections, footer, followUpMenu)

	return strings.Join(sections, "\n\n")
}

// RenderAnswerCheck builds the reply for a submitted answer letter.
func RenderAnswerCheck(letter string, p *domain.Problem) string {
	correct := strings.ToUpper(strings.TrimSpace(p.CorrectAnswer))
	var verdict string
	if strings.EqualFold(letter, correct) {
		verdict = fmt.Sprintf("Correct! %s is the right answer.", correct)
	} else {
		verdict = fmt.Sprintf("Not quite. The correct answer is %s.", correct)
	}
	return verdict + "\n\n" + followUpMenu
}

// CoreProblemText strips the known trailing sections (hints, solvability
// note, footer, menu) from a stored rendered problem text, recovering the
// problem body for injection into model input.
func CoreProblemText(stored string) string {
	cut := len(stored)
	if i := strings.Index(stored, hintsMarker); i >= 0 && i < cut {
		cut = i
	}
	if i := strings.Index(stored, footerMarker); i >= 0 && i < cut {
		cut = i
	}
	return strings.TrimSpace(stored[:cut])
}

// CleanDesmosOutput removes a stray "plaintext" language line that the model
// sometimes emits immediately inside a fenced code block. No-op when the
// output carries no fence.
func CleanDesmosOutput(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	inFence := false
	justOpened := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			justOpened = !inFence
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if justOpened && strings.TrimSpace(line) == "plaintext" {
			justOpened = false
			continue
		}
		justOpened = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// postProcess applies the per-command cleanup and footer rules to the fully
// accumulated model output, after stream completion and before ledger
// persistence.
func postProcess(cmd Command, text string) string {
	if cmd.Kind != KindExplain {
		return text
	}
	if cmd.Explain == ExplainDesmos {
		text = CleanDesmosOutput(text)
	}
	return strings.TrimRight(text, "\n") + "\n\n" + followUpMenu
}
