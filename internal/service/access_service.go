package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/availability"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// AccessService answers "may this student start this assessment" and manages overrides.
type AccessService struct {
	assessments *AssessmentService
	overrides   OverrideStore
	attempts    AttemptStore
	monitor     *MonitorService
	loc         *time.Location
	clk         clock.Clock
	log         zerolog.Logger
}

// NewAccessService creates a new AccessService. loc is the location whose calendar day closes
// an assessment window.
func NewAccessService(
	assessments *AssessmentService,
	overrides OverrideStore,
	attempts AttemptStore,
	monitor *MonitorService,
	loc *time.Location,
	clk clock.Clock,
	log zerolog.Logger,
) *AccessService {
	return &AccessService{
		assessments: assessments,
		overrides:   overrides,
		attempts:    attempts,
		monitor:     monitor,
		loc:         loc,
		clk:         clk,
		log:         log.With().Str("component", "access_service").Logger(),
	}
}

// Check returns the student's override seed and whether their attempt is already sealed.
func (s *AccessService) Check(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.AccessCheckResponse, error) {
	if _, err := s.assessments.Definition(ctx, assessmentID); err != nil {
		return nil, err
	}

	override, err := s.overrides.Get(ctx, assessmentID, studentID)
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	out := &model.AccessCheckResponse{Override: override}

	attempt, err := s.attempts.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
	switch {
	case err == nil:
		if attempt.Completed() {
			out.Completed = true
			out.AttemptID = &attempt.ID
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return out, nil
}

// Availability evaluates the student-facing state at the service clock's now.
func (s *AccessService) Availability(ctx context.Context, kind model.AssessmentKind, assessmentID uuid.UUID, studentID int) (availability.Result, error) {
	def, err := s.assessments.Definition(ctx, assessmentID)
	if err != nil {
		return availability.Result{}, err
	}
	if def.Kind != kind {
		return availability.Result{}, ErrAssessmentNotFound
	}
	check, err := s.Check(ctx, assessmentID, studentID)
	if err != nil {
		return availability.Result{}, err
	}
	return s.Evaluate(def, check), nil
}

// Evaluate applies the completed gate and the resolver to already loaded inputs. A definition
// that cannot be run resolves to DISABLED unless the student already completed it.
func (s *AccessService) Evaluate(def *model.AssessmentDefinition, check *model.AccessCheckResponse) availability.Result {
	res := availability.Evaluate(availability.Input{
		Now:          s.clk.Now(),
		Schedule:     availability.FromModel(def.Schedule, s.loc),
		GlobalActive: def.GlobalActive,
		Override:     check.Override,
		Completed:    check.Completed,
	})
	if res.State == availability.StateCompleted {
		return res
	}
	if err := assess.ValidateDefinition(def); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", def.ID.String()).Msg("Malformed assessment reported as disabled")
		return availability.Result{State: availability.StateDisabled, Diagnostic: err.Error()}
	}
	return res
}

// SetOverride sets or clears (nil Active) a student's override.
func (s *AccessService) SetOverride(ctx context.Context, instructorID int, assessmentID uuid.UUID, req *model.SetOverrideRequest) (*model.AccessOverride, error) {
	if err := s.assessments.Authorize(ctx, instructorID, assessmentID); err != nil {
		return nil, err
	}

	o := &model.AccessOverride{
		AssessmentID: assessmentID,
		StudentID:    req.StudentID,
		Active:       req.Active,
		UpdatedBy:    instructorID,
		UpdatedAt:    s.clk.Now(),
	}
	if err := s.overrides.Set(ctx, o); err != nil {
		return nil, fmt.Errorf("set override: %w", err)
	}

	s.monitor.Publish(ctx, assessmentID, MonitorEvent{
		Type:      EventOverrideChanged,
		StudentID: req.StudentID,
		Active:    req.Active,
	})
	s.log.Info().
		Str("assessment_id", assessmentID.String()).
		Int("student_id", req.StudentID).
		Interface("active", req.Active).
		Msg("Access override changed")
	return o, nil
}

// ListOverrides returns all overrides of an assessment owned by the instructor.
func (s *AccessService) ListOverrides(ctx context.Context, instructorID int, assessmentID uuid.UUID) ([]model.AccessOverride, error) {
	if err := s.assessments.Authorize(ctx, instructorID, assessmentID); err != nil {
		return nil, err
	}
	list, err := s.overrides.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.AccessOverride{}
	}
	return list, nil
}
