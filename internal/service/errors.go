package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// Assessment and attempt errors. Handlers map them to response codes with errors.Is.
var (
	ErrAssessmentNotFound  = errors.New("assessment not found")
	ErrAssessmentMalformed = errors.New("assessment definition is malformed")
	ErrNotAssessmentOwner  = errors.New("not the author of this assessment")
	ErrNotStartable        = errors.New("assessment is not available for this student")
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrAttemptCompleted    = errors.New("attempt is already completed")
	ErrQuestionMismatch    = errors.New("question does not belong to this assessment")
	ErrOptionMismatch      = errors.New("option does not belong to this question")
)

// CompletedError carries the stored summary of an attempt that can no longer change.
// It matches ErrAttemptCompleted.
type CompletedError struct {
	AttemptID uuid.UUID
	Summary   *model.ResultSummary
}

func (e *CompletedError) Error() string {
	return fmt.Sprintf("attempt %s is already completed", e.AttemptID)
}

func (e *CompletedError) Is(target error) bool {
	return target == ErrAttemptCompleted
}
