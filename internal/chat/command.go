// Package chat implements the tutoring conversation orchestrator.
package chat

import (
	"strings"

	"github.com/tutorstack/mathchat/internal/domain"
)

// CommandKind tags the decoded inbound command.
type CommandKind int

const (
	// KindGenerate requests a fresh problem from a tier.
	KindGenerate CommandKind = iota
	// KindSelect requests a specific catalog problem by id.
	KindSelect
	// KindExplain requests a model explanation of the last problem.
	KindExplain
	// KindAnswer submits a multiple-choice answer.
	KindAnswer
	// KindFreeForm is any other user message.
	KindFreeForm
)

// ExplainKind identifies the explanation menu option.
type ExplainKind int

const (
	// ExplainSolution walks through the solution step by step.
	ExplainSolution ExplainKind = 7
	// ExplainDesmos walks through a Desmos graphing approach.
	ExplainDesmos ExplainKind = 8
	// ExplainConcept reviews the key concept behind the problem.
	ExplainConcept ExplainKind = 9
	// ExplainWrongAnswers covers why the other choices fail.
	ExplainWrongAnswers ExplainKind = 10
)

// Command is the closed decoding of an inbound message. Exactly the fields
// relevant to its Kind are populated.
type Command struct {
	Kind      CommandKind
	Category  domain.Category
	Topic     string
	ProblemID string
	Explain   ExplainKind
	Letter    string
	Text      string
}

// IsGeneration reports whether the command starts a new-problem flow, the
// only flow the feedback gate blocks.
func (c Command) IsGeneration() bool {
	return c.Kind == KindGenerate || c.Kind == KindSelect
}

// menu maps the numeric generation commands to (tier, topic).
var menu = map[string]struct {
	category domain.Category
	topic    string
}{
	"1": {domain.CategoryRegular, ""},
	"2": {domain.CategoryRegular, "Geometry"},
	"3": {domain.CategoryRegular, "Algebra"},
	"4": {domain.CategoryRegular, "Advanced Math"},
	"5": {domain.CategoryHard, ""},
	"6": {domain.CategoryExtraDifficult, ""},
}

var explainKinds = map[string]ExplainKind{
	"7":  ExplainSolution,
	"8":  ExplainDesmos,
	"9":  ExplainConcept,
	"10": ExplainWrongAnswers,
}

// Classify decodes the inbound message once, at the orchestrator boundary.
// An explicit selectedProblemID wins over whatever the message says.
func Classify(message, selectedProblemID string) Command {
	if selectedProblemID != "" {
		return Command{Kind: KindSelect, ProblemID: selectedProblemID}
	}

	trimmed := strings.TrimSpace(message)

	if entry, ok := menu[trimmed]; ok {
		return Command{Kind: KindGenerate, Category: entry.category, Topic: entry.topic}
	}
	if kind, ok := explainKinds[trimmed]; ok {
		return Command{Kind: KindExplain, Explain: kind}
	}

	upper := strings.ToUpper(trimmed)
	if len(upper) == 1 && upper >= "A" && upper <= "D" {
		return Command{Kind: KindAnswer, Letter: upper}
	}

	return Command{Kind: KindFreeForm, Text: message}
}
