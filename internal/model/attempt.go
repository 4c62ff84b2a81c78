package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states as stored by the backend.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
)

// Attempt is one student's single run through an assessment.
type Attempt struct {
	ID           uuid.UUID     `json:"id"`
	AssessmentID uuid.UUID     `json:"assessment_id"`
	StudentID    int           `json:"student_id"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Status       AttemptStatus `json:"status"`
	// BudgetSeconds is the global budget fixed when the attempt was created.
	BudgetSeconds int            `json:"budget_seconds"`
	Score         *float64       `json:"score,omitempty"`
	Summary       *ResultSummary `json:"summary,omitempty"`
	Answers       []AnswerRecord `json:"answers,omitempty"`
}

// Completed reports whether the attempt has been sealed.
func (a *Attempt) Completed() bool {
	return a.Status == AttemptStatusCompleted
}

// ElapsedSeconds is the whole seconds between StartedAt and now, never negative.
func (a *Attempt) ElapsedSeconds(now time.Time) int {
	d := now.Sub(a.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// Expired reports whether the global budget (plus grace) has elapsed at now.
func (a *Attempt) Expired(now time.Time, grace time.Duration) bool {
	return now.Sub(a.StartedAt) >= time.Duration(a.BudgetSeconds)*time.Second+grace
}

// AnswerRecord is the current selection for one question. A nil selection means unanswered.
type AnswerRecord struct {
	QuestionID       uuid.UUID  `json:"question_id"`
	SelectedOptionID *uuid.UUID `json:"selected_option_id"`
	TimeTakenSeconds *int       `json:"time_taken_seconds"`
	Seq              int64      `json:"seq,omitempty"`
}

// StartAttemptRequest starts (or resumes) the attempt for the authenticated student.
type StartAttemptRequest struct {
	AssessmentID uuid.UUID      `json:"assessment_id" binding:"required"`
	Kind         AssessmentKind `json:"kind" binding:"required,oneof=QUIZ EVALUATION"`
}

// StartAttemptResponse is either a running attempt or the already-completed short-circuit.
type StartAttemptResponse struct {
	AttemptID        uuid.UUID      `json:"attempt_id"`
	StartedAt        time.Time      `json:"started_at"`
	ElapsedSeconds   int            `json:"elapsed_seconds"`
	Answers          []AnswerRecord `json:"answers,omitempty"`
	AlreadyCompleted bool           `json:"already_completed,omitempty"`
	Summary          *ResultSummary `json:"summary,omitempty"`
}

// SubmitAnswerRequest persists one selection. Repeated calls per question are allowed; the
// highest seq wins.
type SubmitAnswerRequest struct {
	AttemptID  uuid.UUID `json:"attempt_id" binding:"required"`
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	OptionID   uuid.UUID `json:"option_id" binding:"required"`
	TimeTaken  *int      `json:"time_taken" binding:"omitempty,min=0"`
	Seq        int64     `json:"seq" binding:"min=0"`
}

// FinalizeAttemptRequest seals an attempt.
type FinalizeAttemptRequest struct {
	AttemptID uuid.UUID `json:"attempt_id" binding:"required"`
}

// FinalizeAttemptResponse wraps the summary and tells whether this call sealed the attempt.
type FinalizeAttemptResponse struct {
	Summary          *ResultSummary `json:"summary"`
	AlreadyFinalized bool           `json:"already_finalized"`
}

// AttemptResult is one row of an instructor's result listing.
type AttemptResult struct {
	AttemptID   uuid.UUID     `json:"attempt_id"`
	StudentID   int           `json:"student_id"`
	NISN        string        `json:"nisn"`
	Name        string        `json:"name"`
	Status      AttemptStatus `json:"status"`
	Score       *float64      `json:"score"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at"`
}
