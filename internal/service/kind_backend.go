package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// KindBackend serves the engine's Backend contract in-process for one assessment kind and one
// authenticated student. Quizzes and evaluations differ only in the kind it is built with.
type KindBackend struct {
	kind      model.AssessmentKind
	studentID int
	svc       *AttemptService
}

var _ assess.Backend = (*KindBackend)(nil)

// NewKindBackend binds the attempt service to a kind and a student.
func NewKindBackend(svc *AttemptService, kind model.AssessmentKind, studentID int) *KindBackend {
	return &KindBackend{kind: kind, studentID: studentID, svc: svc}
}

func (b *KindBackend) FetchDefinition(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentDefinition, error) {
	def, err := b.svc.assessments.StudentDefinition(ctx, b.kind, assessmentID)
	if err != nil {
		return nil, engineError("fetch definition", assessmentID, err)
	}
	return def, nil
}

func (b *KindBackend) CheckAccess(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.AccessCheckResponse, error) {
	res, err := b.svc.access.Check(ctx, assessmentID, studentID)
	if err != nil {
		return nil, engineError("check access", assessmentID, err)
	}
	return res, nil
}

func (b *KindBackend) Start(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.StartAttemptResponse, error) {
	res, err := b.svc.Start(ctx, b.kind, assessmentID, studentID)
	if err != nil {
		return nil, engineError("start", assessmentID, err)
	}
	if res.AlreadyCompleted {
		return nil, &assess.ConflictError{AttemptID: res.AttemptID, Summary: res.Summary, Reason: "attempt already completed"}
	}
	return res, nil
}

func (b *KindBackend) Answer(ctx context.Context, req model.SubmitAnswerRequest) error {
	if err := b.svc.Answer(ctx, b.studentID, &req); err != nil {
		return engineError("answer", req.AttemptID, err)
	}
	return nil
}

func (b *KindBackend) Finalize(ctx context.Context, attemptID uuid.UUID) (*model.ResultSummary, error) {
	res, err := b.svc.Finalize(ctx, b.studentID, attemptID)
	if err != nil {
		return nil, engineError("finalize", attemptID, err)
	}
	return res.Summary, nil
}

// engineError maps service errors onto the engine's taxonomy. Anything unrecognised is treated
// as transient so the engine retries it.
func engineError(op string, id uuid.UUID, err error) error {
	var completed *CompletedError
	switch {
	case errors.As(err, &completed):
		return &assess.ConflictError{AttemptID: completed.AttemptID, Summary: completed.Summary, Reason: "attempt already completed"}
	case errors.Is(err, ErrAssessmentNotFound):
		return &assess.NotFoundError{Resource: "assessment", ID: id.String()}
	case errors.Is(err, ErrAttemptNotFound):
		return &assess.NotFoundError{Resource: "attempt", ID: id.String()}
	case errors.Is(err, ErrAssessmentMalformed):
		return &assess.ValidationError{Reason: err.Error()}
	case errors.Is(err, ErrQuestionMismatch):
		return &assess.ValidationError{Field: "question_id", Reason: err.Error()}
	case errors.Is(err, ErrOptionMismatch):
		return &assess.ValidationError{Field: "option_id", Reason: err.Error()}
	case errors.Is(err, ErrNotStartable):
		return errors.Join(assess.ErrNotStartable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &assess.NetworkError{Op: op, Err: err}
}
