package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// Stores are satisfied by the pgx repositories. Lookups report a missing row as pgx.ErrNoRows.

// AssessmentStore persists assessment definitions.
type AssessmentStore interface {
	Create(ctx context.Context, def *model.AssessmentDefinition) error
	GetDefinition(ctx context.Context, id uuid.UUID) (*model.AssessmentDefinition, error)
	GetOwner(ctx context.Context, id uuid.UUID) (int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	ListByInstructor(ctx context.Context, instructorID, limit, offset int) ([]model.AssessmentDefinition, int, error)
	ListOpenIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AttemptStore persists attempts.
type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error)
	Complete(ctx context.Context, id uuid.UUID, sum *model.ResultSummary) (bool, error)
	ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]model.Attempt, error)
	ListResults(ctx context.Context, assessmentID uuid.UUID, limit, offset int) ([]model.AttemptResult, int, error)
}

// AnswerStore persists answers with last-seq-wins semantics.
type AnswerStore interface {
	Upsert(ctx context.Context, attemptID uuid.UUID, rec model.AnswerRecord) error
	UpsertBatch(ctx context.Context, rows []repository.AnswerRow) error
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.AnswerRecord, error)
}

// OverrideStore persists per-student access overrides.
type OverrideStore interface {
	Get(ctx context.Context, assessmentID uuid.UUID, studentID int) (*bool, error)
	Set(ctx context.Context, o *model.AccessOverride) error
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessOverride, error)
}

var (
	_ AssessmentStore = (*repository.AssessmentRepository)(nil)
	_ AttemptStore    = (*repository.AttemptRepository)(nil)
	_ AnswerStore     = (*repository.AnswerRepository)(nil)
	_ OverrideStore   = (*repository.OverrideRepository)(nil)
)
