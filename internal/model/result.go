package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultSummary is the sealed outcome of an attempt. The backend computes it once at finalize
// and returns the stored copy afterwards.
type ResultSummary struct {
	AttemptID    uuid.UUID    `json:"attempt_id"`
	AssessmentID uuid.UUID    `json:"assessment_id"`
	Score        float64      `json:"score"`
	Correct      int          `json:"correct"`
	Total        int          `json:"total"`
	CompletedAt  time.Time    `json:"completed_at"`
	Items        []ResultItem `json:"items"`
}

// ResultItem is the breakdown for one question. CorrectAnswer is only present when the
// student's answer was wrong or missing.
type ResultItem struct {
	QuestionID    uuid.UUID   `json:"question_id"`
	QuestionText  string      `json:"question_text"`
	StudentAnswer AnswerView  `json:"student_answer"`
	IsCorrect     bool        `json:"is_correct"`
	CorrectAnswer *AnswerView `json:"correct_answer,omitempty"`
}

// AnswerView is an option as shown in results.
type AnswerView struct {
	OptionID    *uuid.UUID `json:"option_id,omitempty"`
	Text        string     `json:"text,omitempty"`
	Explanation *string    `json:"explanation,omitempty"`
	Unanswered  bool       `json:"unanswered,omitempty"`
}

// Grade builds the summary for the given final answers. Questions without an answer (or with a
// selection that does not belong to the question) count as unanswered.
func Grade(def *AssessmentDefinition, attemptID uuid.UUID, answers map[uuid.UUID]uuid.UUID, completedAt time.Time) *ResultSummary {
	sum := &ResultSummary{
		AttemptID:    attemptID,
		AssessmentID: def.ID,
		Total:        len(def.Questions),
		CompletedAt:  completedAt,
		Items:        make([]ResultItem, 0, len(def.Questions)),
	}

	for i := range def.Questions {
		q := &def.Questions[i]
		item := ResultItem{QuestionID: q.ID, QuestionText: q.Text}

		var chosen *Option
		if optID, ok := answers[q.ID]; ok {
			chosen = q.Option(optID)
		}

		if chosen == nil {
			item.StudentAnswer = AnswerView{Unanswered: true}
		} else {
			id := chosen.ID
			item.StudentAnswer = AnswerView{OptionID: &id, Text: chosen.Text, Explanation: chosen.Explanation}
			item.IsCorrect = chosen.IsCorrect
		}

		if item.IsCorrect {
			sum.Correct++
		} else if correct := q.CorrectOption(); correct != nil {
			id := correct.ID
			item.CorrectAnswer = &AnswerView{OptionID: &id, Text: correct.Text, Explanation: correct.Explanation}
		}

		sum.Items = append(sum.Items, item)
	}

	if sum.Total > 0 {
		sum.Score = float64(sum.Correct) / float64(sum.Total) * 100
	}
	return sum
}
