package assess

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assessment/internal/model"
)

func startedMachine(t *testing.T, n, perQuestion, elapsed int) *machine {
	t.Helper()
	now := time.Now()
	m := newMachine(testDefinition(n, perQuestion, now.Add(-time.Hour), now.Add(time.Hour)))
	require.NoError(t, m.confirm())
	require.Equal(t, []effect{{kind: effectStart}}, m.begin())
	m.started(uuid.New(), elapsed, nil)
	return m
}

func hasFinalize(effects []effect) bool {
	for _, e := range effects {
		if e.kind == effectFinalize {
			return true
		}
	}
	return false
}

func TestValidateDefinition(t *testing.T) {
	now := time.Now()
	good := testDefinition(2, 10, now, now)

	noQuestions := testDefinition(0, 10, now, now)
	zeroBudget := testDefinition(2, 10, now, now)
	zeroBudget.Questions[1].PerQuestionSeconds = 0
	oneOption := testDefinition(1, 10, now, now)
	oneOption.Questions[0].Options = oneOption.Questions[0].Options[:1]
	duplicate := testDefinition(2, 10, now, now)
	duplicate.Questions[1].ID = duplicate.Questions[0].ID

	tests := []struct {
		name    string
		def     *model.AssessmentDefinition
		wantErr bool
	}{
		{name: "valid", def: good},
		{name: "nil", def: nil, wantErr: true},
		{name: "no questions", def: noQuestions, wantErr: true},
		{name: "zero budget", def: zeroBudget, wantErr: true},
		{name: "single option", def: oneOption, wantErr: true},
		{name: "duplicate ids", def: duplicate, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDefinition(tt.def)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
		})
	}
}

func TestMachine_BudgetFixedAtConfirm(t *testing.T) {
	now := time.Now()
	def := testDefinition(3, 20, now, now)
	m := newMachine(def)
	require.NoError(t, m.confirm())
	assert.Equal(t, 60, m.globalRemaining)

	// Later edits to the definition do not change a confirmed attempt's budget.
	def.Questions[0].PerQuestionSeconds = 999
	m.started(uuid.New(), 0, nil)
	assert.Equal(t, 60, m.globalRemaining)

	assert.ErrorIs(t, m.confirm(), ErrWrongPhase)
}

func TestMachine_BudgetIsSumOfQuestionTimes(t *testing.T) {
	now := time.Now()
	def := testDefinition(3, 10, now, now)
	for i, secs := range []int{30, 45, 20} {
		def.Questions[i].PerQuestionSeconds = secs
	}
	m := newMachine(def)
	require.NoError(t, m.confirm())
	assert.Equal(t, 95, m.globalRemaining)
	assert.Equal(t, 30, m.questionRemaining)
}

func TestMachine_TicksDecrementBothTimers(t *testing.T) {
	m := startedMachine(t, 3, 10, 0)

	for i := 0; i < 4; i++ {
		assert.Empty(t, m.tick())
	}
	assert.Equal(t, 26, m.globalRemaining)
	assert.Equal(t, 6, m.questionRemaining)
	assert.Equal(t, 0, m.index)
}

func TestMachine_QuestionTimeoutAdvances(t *testing.T) {
	m := startedMachine(t, 3, 10, 0)

	for i := 0; i < 10; i++ {
		m.tick()
	}
	assert.Equal(t, 1, m.index)
	assert.Equal(t, 10, m.questionRemaining)
	assert.Equal(t, 20, m.globalRemaining)
	assert.Equal(t, PhaseInProgress, m.phase)
}

func TestMachine_LastQuestionTimeoutFinalizes(t *testing.T) {
	m := startedMachine(t, 2, 10, 0)
	_, err := m.next()
	require.NoError(t, err)

	var effects []effect
	for i := 0; i < 10; i++ {
		effects = m.tick()
	}
	assert.True(t, hasFinalize(effects))
	assert.Equal(t, PhaseFinalizing, m.phase)
	assert.False(t, m.timedOut)
	assert.Equal(t, ReasonFinished, m.reason)
	assert.Equal(t, 10, m.globalRemaining)
}

func TestMachine_GlobalTimeoutWinsOverQuestionTimeout(t *testing.T) {
	// 20s budget, 10s already used: global and question timers reach zero on the same tick.
	m := startedMachine(t, 2, 10, 10)

	var effects []effect
	for i := 0; i < 10; i++ {
		effects = m.tick()
	}
	assert.True(t, hasFinalize(effects))
	assert.True(t, m.timedOut)
	assert.Equal(t, ReasonTimedOut, m.reason)
	assert.Equal(t, 0, m.globalRemaining)
	assert.Equal(t, 0, m.index)

	assert.Empty(t, m.tick(), "ticks after finalize are ignored")
}

func TestMachine_ResumeFromElapsed(t *testing.T) {
	now := time.Now()
	m := newMachine(testDefinition(4, 30, now, now))
	require.NoError(t, m.confirm())

	m.started(uuid.New(), 45, []int{0, 2})

	assert.Equal(t, 75, m.globalRemaining)
	assert.Equal(t, 2, m.index)
	assert.Equal(t, 30, m.questionRemaining)
	assert.NoError(t, m.previous())
	assert.Equal(t, 1, m.index)
}

func TestMachine_ResumeAfterBudgetFinalizes(t *testing.T) {
	now := time.Now()
	m := newMachine(testDefinition(2, 10, now, now))
	require.NoError(t, m.confirm())

	effects := m.started(uuid.New(), 500, nil)

	assert.True(t, hasFinalize(effects))
	assert.True(t, m.timedOut)
	assert.Equal(t, 0, m.globalRemaining)
}

func TestMachine_Navigation(t *testing.T) {
	m := startedMachine(t, 3, 10, 0)

	assert.ErrorIs(t, m.previous(), ErrNotVisited)

	m.tick()
	_, err := m.next()
	require.NoError(t, err)
	assert.Equal(t, 1, m.index)
	assert.Equal(t, 10, m.questionRemaining)

	m.tick()
	m.tick()
	require.NoError(t, m.previous())
	assert.Equal(t, 0, m.index)
	assert.Equal(t, 10, m.questionRemaining, "question timer resets on navigation")
	assert.Equal(t, 27, m.globalRemaining, "global timer is unaffected by navigation")

	_, _ = m.next()
	effects, err := m.next()
	require.NoError(t, err)
	assert.Empty(t, effects)
	assert.Equal(t, 2, m.index)

	effects, err = m.next()
	require.NoError(t, err)
	assert.True(t, hasFinalize(effects), "next on the last question finalizes")
}

func TestMachine_SelectOption(t *testing.T) {
	m := startedMachine(t, 2, 10, 0)
	q0 := m.def.Questions[0]
	q1 := m.def.Questions[1]

	m.tick()
	m.tick()
	effects, err := m.selectOption(q0.ID, q0.Options[1].ID)
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, effectRecord, effects[0].kind)
	assert.Equal(t, 8, *effects[0].secondsRemaining)

	_, err = m.selectOption(q1.ID, q1.Options[0].ID)
	assert.ErrorIs(t, err, ErrNotCurrentItem)

	_, err = m.selectOption(q0.ID, q1.Options[0].ID)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	m.finishManually()
	_, err = m.selectOption(q0.ID, q0.Options[0].ID)
	assert.ErrorIs(t, err, ErrNotInProgress)
}

func TestMachine_RetryAndAdopt(t *testing.T) {
	m := startedMachine(t, 2, 10, 0)
	m.finishManually()

	m.fail(stageFinalize, &NetworkError{Op: "finalize", Err: errors.New("connection reset")})
	assert.True(t, m.retryable())
	effects, err := m.retry()
	require.NoError(t, err)
	assert.True(t, hasFinalize(effects))

	m.fail(stageFinalize, &NotFoundError{Resource: "attempt", ID: "x"})
	assert.False(t, m.retryable())
	_, err = m.retry()
	assert.ErrorIs(t, err, ErrNotRetryable)

	stored := &model.ResultSummary{Score: 50}
	m.adopt(&ConflictError{Summary: stored})
	assert.Equal(t, PhaseCompleted, m.phase)
	assert.Same(t, stored, m.summary)
	assert.Equal(t, ReasonFinished, m.reason)

	assert.Nil(t, m.adopt(&ConflictError{Summary: &model.ResultSummary{Score: 0}}))
	assert.Same(t, stored, m.summary, "completed attempts never change summary")
}

func TestMachine_AdoptWithoutSummaryRefinalizes(t *testing.T) {
	m := startedMachine(t, 2, 10, 0)

	effects := m.adopt(&ConflictError{Reason: "attempt already completed"})
	assert.True(t, hasFinalize(effects))
	assert.Equal(t, PhaseFinalizing, m.phase)
}
