// Package assess runs a single student's timed attempt at an assessment.
//
// One Session owns one attempt. Timer ticks, user actions and network results are all
// serialized through the session's event loop into a pure state machine, so no two of them
// ever mutate the attempt concurrently. Persistence is delegated to a Backend: the same engine
// drives quizzes and evaluations, in process on the server or remotely over HTTP.
package assess

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// Backend is the capability an assessment kind exposes to the engine.
//
// Implementations translate their own failure modes into the engine's taxonomy:
// *NotFoundError for a missing assessment or attempt, *ConflictError when the attempt is already
// sealed (Start on a completed attempt, Answer after completion, Finalize after another caller
// sealed it), and *NetworkError for transient transport failures.
type Backend interface {
	FetchDefinition(ctx context.Context, assessmentID uuid.UUID) (*model.AssessmentDefinition, error)
	CheckAccess(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.AccessCheckResponse, error)
	Start(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.StartAttemptResponse, error)
	Answer(ctx context.Context, req model.SubmitAnswerRequest) error
	Finalize(ctx context.Context, attemptID uuid.UUID) (*model.ResultSummary, error)
}
