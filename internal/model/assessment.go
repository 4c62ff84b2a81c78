package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentKind distinguishes quizzes from period evaluations. Both run on the same engine.
type AssessmentKind string

const (
	KindQuiz       AssessmentKind = "QUIZ"
	KindEvaluation AssessmentKind = "EVALUATION"
)

// Valid reports whether k is a known kind.
func (k AssessmentKind) Valid() bool {
	return k == KindQuiz || k == KindEvaluation
}

// Slug returns the URL path segment for the kind.
func (k AssessmentKind) Slug() string {
	if k == KindEvaluation {
		return "evaluations"
	}
	return "quizzes"
}

// KindFromSlug maps a URL path segment ("quizzes", "evaluations") back to a kind.
func KindFromSlug(slug string) (AssessmentKind, bool) {
	switch slug {
	case "quizzes":
		return KindQuiz, true
	case "evaluations":
		return KindEvaluation, true
	}
	return "", false
}

// Schedule is the availability window. Nil bounds are treated as malformed by the resolver.
type Schedule struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// AssessmentDefinition is a scheduled, timed set of multiple-choice questions.
// It is immutable once an attempt has started.
type AssessmentDefinition struct {
	ID           uuid.UUID      `json:"id"`
	Kind         AssessmentKind `json:"kind"`
	Name         string         `json:"name"`
	Description  *string        `json:"description,omitempty"`
	Questions    []Question     `json:"questions"`
	Schedule     Schedule       `json:"schedule"`
	GlobalActive bool           `json:"global_active"`
	InstructorID int            `json:"instructor_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// GlobalBudgetSeconds is the sum of all per-question budgets.
func (d *AssessmentDefinition) GlobalBudgetSeconds() int {
	total := 0
	for _, q := range d.Questions {
		total += q.PerQuestionSeconds
	}
	return total
}

// QuestionIndex returns the position of the question with the given id, or -1.
func (d *AssessmentDefinition) QuestionIndex(id uuid.UUID) int {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return i
		}
	}
	return -1
}

// ForStudent returns a deep copy without correct flags or explanations.
func (d *AssessmentDefinition) ForStudent() *AssessmentDefinition {
	out := *d
	out.InstructorID = 0
	out.Questions = make([]Question, len(d.Questions))
	for i, q := range d.Questions {
		q.Options = make([]Option, len(d.Questions[i].Options))
		for j, o := range d.Questions[i].Options {
			o.IsCorrect = false
			o.Explanation = nil
			q.Options[j] = o
		}
		out.Questions[i] = q
	}
	return &out
}

// CreateAssessmentRequest is the authoring payload for a new assessment.
// Struct-level rules (one correct option, end after start) are registered in the validator package.
type CreateAssessmentRequest struct {
	Kind         AssessmentKind    `json:"kind" binding:"required,oneof=QUIZ EVALUATION"`
	Name         string            `json:"name" binding:"required,min=3,max=255"`
	Description  *string           `json:"description" binding:"omitempty,max=2000"`
	Start        time.Time         `json:"start" binding:"required"`
	End          time.Time         `json:"end" binding:"required"`
	GlobalActive bool              `json:"global_active"`
	Questions    []QuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// SetActiveRequest toggles the global activation flag.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}
