package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assessment/internal/availability"
	"github.com/stemsi/exstem-assessment/internal/model"
)

func TestAccessService_Availability(t *testing.T) {
	tests := []struct {
		name     string
		advance  time.Duration
		active   bool
		override *bool
		want     availability.State
	}{
		{name: "open inside the window", active: true, want: availability.StateOpen},
		{name: "globally disabled", active: false, want: availability.StateDisabled},
		{name: "override enables a disabled assessment", active: false, override: boolPtr(true), want: availability.StateOpen},
		{name: "override disables an open assessment", active: true, override: boolPtr(false), want: availability.StateDisabled},
		{name: "closed after the last day", advance: 72 * time.Hour, active: true, want: availability.StateClosedExpired},
		{name: "override reopens after the last day", advance: 72 * time.Hour, active: true, override: boolPtr(true), want: availability.StateOpenOverride},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			if !tt.active {
				require.NoError(t, f.assessments.SetActive(ctx, testInstructorID, f.def.ID, false))
			}
			if tt.override != nil {
				_, err := f.access.SetOverride(ctx, testInstructorID, f.def.ID, &model.SetOverrideRequest{StudentID: testStudentID, Active: tt.override})
				require.NoError(t, err)
			}
			f.clk.Add(tt.advance)

			res, err := f.access.Availability(ctx, model.KindQuiz, f.def.ID, testStudentID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.State)
		})
	}
}

func TestAccessService_NotYetOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := createRequest(model.KindEvaluation, 1, 30)
	req.Start = fixtureNow.Add(90 * time.Second)
	def, err := f.assessments.Create(ctx, testInstructorID, req)
	require.NoError(t, err)

	res, err := f.access.Availability(ctx, model.KindEvaluation, def.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, availability.StateNotYetOpen, res.State)
	assert.Equal(t, int64(90), res.SecondsUntilOpen)
}

func TestAccessService_CompletedGateWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t)
	_, err := f.attempts.Finalize(ctx, testStudentID, res.AttemptID)
	require.NoError(t, err)

	_, err = f.access.SetOverride(ctx, testInstructorID, f.def.ID, &model.SetOverrideRequest{StudentID: testStudentID, Active: boolPtr(true)})
	require.NoError(t, err)

	state, err := f.access.Availability(ctx, model.KindQuiz, f.def.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, availability.StateCompleted, state.State)
}

func TestAccessService_MalformedDefinitionIsDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a row edited outside the authoring API: question 2 loses its options.
	f.assessmentStore.mu.Lock()
	stored := f.assessmentStore.defs[f.def.ID]
	questions := append([]model.Question(nil), stored.Questions...)
	questions[1].Options = questions[1].Options[:1]
	stored.Questions = questions
	f.assessmentStore.mu.Unlock()
	f.mr.FlushAll()

	res, err := f.access.Availability(ctx, model.KindQuiz, f.def.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, availability.StateDisabled, res.State)
	assert.Contains(t, res.Diagnostic, "at least two options")
	assert.False(t, res.CanStart())
}

func TestAccessService_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.access.Availability(ctx, model.KindEvaluation, f.def.ID, testStudentID)
	assert.ErrorIs(t, err, ErrAssessmentNotFound, "kind mismatch")

	_, err = f.access.Check(ctx, uuid.New(), testStudentID)
	assert.ErrorIs(t, err, ErrAssessmentNotFound)

	_, err = f.access.SetOverride(ctx, testInstructorID+1, f.def.ID, &model.SetOverrideRequest{StudentID: testStudentID, Active: boolPtr(true)})
	assert.ErrorIs(t, err, ErrNotAssessmentOwner)

	_, err = f.access.ListOverrides(ctx, testInstructorID+1, f.def.ID)
	assert.ErrorIs(t, err, ErrNotAssessmentOwner)
}

func TestAccessService_ClearOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.access.SetOverride(ctx, testInstructorID, f.def.ID, &model.SetOverrideRequest{StudentID: testStudentID, Active: boolPtr(false)})
	require.NoError(t, err)
	check, err := f.access.Check(ctx, f.def.ID, testStudentID)
	require.NoError(t, err)
	require.NotNil(t, check.Override)
	assert.False(t, *check.Override)

	_, err = f.access.SetOverride(ctx, testInstructorID, f.def.ID, &model.SetOverrideRequest{StudentID: testStudentID})
	require.NoError(t, err)
	check, err = f.access.Check(ctx, f.def.ID, testStudentID)
	require.NoError(t, err)
	assert.Nil(t, check.Override)
	assert.False(t, check.Completed)
}
