package model

import "github.com/google/uuid"

// MinPerQuestionSeconds is the smallest per-question budget an author may set.
const MinPerQuestionSeconds = 10

// Question is a single multiple-choice question.
type Question struct {
	ID                 uuid.UUID `json:"id"`
	Text               string    `json:"text"`
	PerQuestionSeconds int       `json:"per_question_seconds"`
	Options            []Option  `json:"options"`
	AttachmentURL      *string   `json:"attachment_url,omitempty"`
	OrderNum           int       `json:"order_num"`
}

// CorrectOption returns the option flagged correct, or nil.
func (q *Question) CorrectOption() *Option {
	for i := range q.Options {
		if q.Options[i].IsCorrect {
			return &q.Options[i]
		}
	}
	return nil
}

// Option looks up an option of this question by id.
func (q *Question) Option(id uuid.UUID) *Option {
	for i := range q.Options {
		if q.Options[i].ID == id {
			return &q.Options[i]
		}
	}
	return nil
}

// Option is one answer choice. Exactly one option per question is correct.
type Option struct {
	ID          uuid.UUID `json:"id"`
	Text        string    `json:"text"`
	IsCorrect   bool      `json:"is_correct,omitempty"`
	Explanation *string   `json:"explanation,omitempty"`
}

// QuestionRequest is the authoring payload for a question.
type QuestionRequest struct {
	Text               string          `json:"text" binding:"required,min=1,max=2000"`
	PerQuestionSeconds int             `json:"per_question_seconds" binding:"required,min=10,max=3600"`
	AttachmentURL      *string         `json:"attachment_url" binding:"omitempty,url"`
	Options            []OptionRequest `json:"options" binding:"required,min=2,max=10,dive"`
}

// OptionRequest is the authoring payload for an option.
type OptionRequest struct {
	Text        string  `json:"text" binding:"required,min=1,max=1000"`
	IsCorrect   bool    `json:"is_correct"`
	Explanation *string `json:"explanation" binding:"omitempty,max=2000"`
}
