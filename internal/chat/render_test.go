package chat

import (
	"strings"
	"testing"

	"github.com/tutorstack/mathchat/internal/domain"
)

func regularProblem() *domain.Problem {
	return &domain.Problem{
		ID:            "reg-1",
		Category:      domain.CategoryRegular,
		Topic:         "Algebra",
		Body:          "If 3x + 7 = 25, what is x?\n\nA) 4\nB) 6\nC) 8\nD) 10",
		CorrectAnswer: "B",
	}
}

func hardProblem() *domain.Problem {
	return &domain.Problem{
		ID:            "hard-1",
		Category:      domain.CategoryHard,
		Topic:         "Algebra",
		Body:          "A tricky system of equations.",
		Hints:         []string{"first hint", "second hint", "third hint", "fourth hint"},
		CorrectAnswer: "C",
	}
}

func TestRenderProblemRegular(t *testing.T) {
	t.Parallel()

	out := RenderProblem(regularProblem())

	if !strings.HasPrefix(out, "If 3x + 7 = 25") {
		t.Errorf("output does not start with the problem body:\n%s", out)
	}
	if strings.Contains(out, "Hints:") {
		t.Error("regular problem must not carry hints")
	}
	if strings.Contains(out, solvabilityNote) {
		t.Error("regular problem must not carry the solvability note")
	}
	if !strings.Contains(out, "On the real test,") || !strings.Contains(out, "60 seconds") {
		t.Errorf("missing 60-second practice footer:\n%s", out)
	}
	if !strings.Contains(out, followUpMenu) {
		t.Error("missing follow-up menu")
	}
}

func TestRenderProblemHard(t *testing.T) {
	t.Parallel()

	out := RenderProblem(hardProblem())

	if !strings.Contains(out, "Hints: 1. first hint 2. second hint 3. third hint") {
		t.Errorf("hints not rendered on one line:\n%s", out)
	}
	if strings.Contains(out, "fourth hint") {
		t.Error("more than three hints rendered")
	}
	if !strings.Contains(out, solvabilityNote) {
		t.Error("hard problem must carry the solvability note")
	}
	if !strings.Contains(out, "90 seconds") {
		t.Errorf("missing 90-second practice footer:\n%s", out)
	}
}

func TestRenderProblemExtraDifficult(t *testing.T) {
	t.Parallel()

	p := &domain.Problem{
		ID:       "xd-1",
		Category: domain.CategoryExtraDifficult,
		Body:     "A cubic with integer roots.",
		// Extra-difficult entries may carry hints in the catalog; they are
		// not rendered for this tier.
		Hints:         []string{"unused"},
		CorrectAnswer: "B",
	}
	out := RenderProblem(p)

	if strings.Contains(out, "Hints:") {
		t.Error("extra-difficult problem must not render hints")
	}
	if !strings.Contains(out, solvabilityNote) {
		t.Error("extra-difficult problem must carry the solvability note")
	}
	if !strings.Contains(out, "120 seconds") {
		t.Errorf("missing 120-second practice footer:\n%s", out)
	}
}

func TestRenderAnswerCheck(t *testing.T) {
	t.Parallel()

	p := regularProblem()

	right := RenderAnswerCheck("B", p)
	if !strings.Contains(right, "Correct!") {
		t.Errorf("correct answer not acknowledged: %q", right)
	}
	if !strings.Contains(right, followUpMenu) {
		t.Error("answer check missing follow-up menu")
	}

	lower := RenderAnswerCheck("b", p)
	if !strings.Contains(lower, "Correct!") {
		t.Errorf("case-insensitive match failed: %q", lower)
	}

	wrong := RenderAnswerCheck("A", p)
	if !strings.Contains(wrong, "The correct answer is B.") {
		t.Errorf("wrong answer verdict missing the correct letter: %q", wrong)
	}
}

func TestCoreProblemText(t *testing.T) {
	t.Parallel()

	for _, p := range []*domain.Problem{regularProblem(), hardProblem()} {
		stored := RenderProblem(p)
		core := CoreProblemText(stored)
		if core != strings.TrimSpace(p.Body) {
			t.Errorf("CoreProblemText(%s) = %q, want %q", p.ID, core, p.Body)
		}
	}

	// Text without any marker passes through untouched.
	if got := CoreProblemText("plain body"); got != "plain body" {
		t.Errorf("CoreProblemText = %q", got)
	}
}

func TestCleanDesmosOutput(t *testing.T) {
	t.Parallel()

	in := "Type this into Desmos:\n```\nplaintext\ny = 2x - 2\ny = x^2 - 4x + 7\n```\nThen look at the intersection."
	out := CleanDesmosOutput(in)
	if strings.Contains(out, "plaintext") {
		t.Errorf("stray language line not removed:\n%s", out)
	}
	if !strings.Contains(out, "y = 2x - 2") {
		t.Errorf("fence content lost:\n%s", out)
	}

	// The word outside a fence is left alone.
	prose := "This is plaintext prose without a fence."
	if got := CleanDesmosOutput(prose); got != prose {
		t.Errorf("no-fence input modified: %q", got)
	}

	// Only the line just inside the fence is removed.
	deep := "```\ny = x\nplaintext\n```"
	if got := CleanDesmosOutput(deep); !strings.Contains(got, "plaintext") {
		t.Errorf("mid-fence line wrongly removed:\n%s", got)
	}
}

func TestPostProcess(t *testing.T) {
	t.Parallel()

	explain := Command{Kind: KindExplain, Explain: ExplainSolution}
	out := postProcess(explain, "Step one.\nStep two.\n")
	if !strings.HasSuffix(out, followUpMenu) {
		t.Errorf("explain output missing trailing menu:\n%s", out)
	}

	desmos := Command{Kind: KindExplain, Explain: ExplainDesmos}
	out = postProcess(desmos, "```\nplaintext\ny = x\n```")
	if strings.Contains(out, "plaintext") {
		t.Errorf("desmos cleanup not applied:\n%s", out)
	}

	free := Command{Kind: KindFreeForm}
	if got := postProcess(free, "just an answer"); got != "just an answer" {
		t.Errorf("free-form output modified: %q", got)
	}
}
