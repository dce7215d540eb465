package domain

// Category names a problem catalog tier.
type Category string

const (
	// CategoryRegular is the standard difficulty tier.
	CategoryRegular Category = "regularProblems"
	// CategoryHard is the hard tier; problems carry at least three hints.
	CategoryHard Category = "hardProblems"
	// CategoryExtraDifficult is the hardest tier.
	CategoryExtraDifficult Category = "extraDifficultProblems"
)

// Categories returns all catalog tiers in their stable lookup order. The order
// matters for the linear fallback search when a thread's stored category is
// unknown; problem ids are assumed unique across tiers.
func Categories() []Category {
	return []Category{CategoryRegular, CategoryHard, CategoryExtraDifficult}
}

// Valid reports whether c names a known catalog tier.
func (c Category) Valid() bool {
	switch c {
	case CategoryRegular, CategoryHard, CategoryExtraDifficult:
		return true
	}
	return false
}

// Problem is a read-only catalog record.
type Problem struct {
	ID            string   `json:"id"`
	Category      Category `json:"category"`
	Topic         string   `json:"topic"`
	Body          string   `json:"text"`
	Hints         []string `json:"hints,omitempty"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// LastProblem records what a thread most recently showed: the full rendered
// text plus the catalog id and tier it came from. The thread key is the
// client-chosen conversation grouping and is not necessarily the catalog id.
type LastProblem struct {
	ThreadKey string   `json:"thread_key"`
	Text      string   `json:"text"`
	ProblemID string   `json:"problem_id"`
	Category  Category `json:"category"`
}
