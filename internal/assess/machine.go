package assess

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// Phase is the lifecycle position of an attempt.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseConfirmed  Phase = "CONFIRMED"
	PhaseInProgress Phase = "IN_PROGRESS"
	PhaseFinalizing Phase = "FINALIZING"
	PhaseCompleted  Phase = "COMPLETED"
	PhaseErrored    Phase = "ERRORED"
)

// CompletionReason explains how an attempt reached COMPLETED. Only the message shown to the
// student depends on it; the summary is the same.
type CompletionReason string

const (
	ReasonFinished         CompletionReason = "FINISHED"
	ReasonTimedOut         CompletionReason = "TIMED_OUT"
	ReasonAlreadyCompleted CompletionReason = "ALREADY_COMPLETED"
)

type stage int

const (
	stageStart stage = iota + 1
	stageFinalize
)

type effectKind int

const (
	effectStart effectKind = iota + 1
	effectRecord
	effectFinalize
)

type effect struct {
	kind             effectKind
	questionID       uuid.UUID
	optionID         uuid.UUID
	secondsRemaining *int
}

// machine is the attempt state. It performs no I/O: every transition returns the effects the
// session loop must carry out.
type machine struct {
	def *model.AssessmentDefinition

	phase             Phase
	budget            int
	globalRemaining   int
	questionRemaining int
	index             int
	furthest          int
	timedOut          bool
	reason            CompletionReason
	attemptID         uuid.UUID
	summary           *model.ResultSummary
	err               error
	failed            stage
}

func newMachine(def *model.AssessmentDefinition) *machine {
	return &machine{def: def, phase: PhaseIdle}
}

// ValidateDefinition rejects definitions a session cannot run.
func ValidateDefinition(def *model.AssessmentDefinition) error {
	if def == nil {
		return &ValidationError{Reason: "assessment definition is missing"}
	}
	if len(def.Questions) == 0 {
		return &ValidationError{Field: "questions", Reason: "assessment has no questions"}
	}
	seen := make(map[uuid.UUID]struct{}, len(def.Questions))
	for i, q := range def.Questions {
		if _, dup := seen[q.ID]; dup {
			return &ValidationError{Field: "questions", Reason: "duplicate question id " + q.ID.String()}
		}
		seen[q.ID] = struct{}{}
		if q.PerQuestionSeconds <= 0 {
			return &ValidationError{Field: "per_question_seconds", Reason: "question " + strconv.Itoa(i+1) + " has no time budget"}
		}
		if len(q.Options) < 2 {
			return &ValidationError{Field: "options", Reason: "question " + strconv.Itoa(i+1) + " needs at least two options"}
		}
	}
	return nil
}

func (m *machine) current() *model.Question {
	return &m.def.Questions[m.index]
}

func (m *machine) last() bool {
	return m.index == len(m.def.Questions)-1
}

func (m *machine) confirm() error {
	if m.phase != PhaseIdle {
		return ErrWrongPhase
	}
	if err := ValidateDefinition(m.def); err != nil {
		return err
	}
	m.budget = m.def.GlobalBudgetSeconds()
	m.globalRemaining = m.budget
	m.questionRemaining = m.current().PerQuestionSeconds
	m.phase = PhaseConfirmed
	return nil
}

func (m *machine) begin() []effect {
	if m.phase != PhaseConfirmed {
		return nil
	}
	return []effect{{kind: effectStart}}
}

// started enters IN_PROGRESS. elapsed is measured by the server from the attempt's start,
// so a reload resumes with the remaining time rather than a fresh budget. answered holds the
// positions of answers the server already has; the session resumes at the furthest of them.
func (m *machine) started(attemptID uuid.UUID, elapsed int, answered []int) []effect {
	if m.phase != PhaseConfirmed {
		return nil
	}
	m.attemptID = attemptID
	m.globalRemaining = max(m.budget-max(elapsed, 0), 0)
	m.index = 0
	for _, i := range answered {
		m.index = max(m.index, i)
	}
	m.furthest = m.index
	m.questionRemaining = m.current().PerQuestionSeconds
	m.phase = PhaseInProgress
	m.err = nil

	if m.globalRemaining == 0 {
		return m.expire()
	}
	return nil
}

func (m *machine) tick() []effect {
	if m.phase != PhaseInProgress {
		return nil
	}
	m.globalRemaining--
	m.questionRemaining--

	if m.globalRemaining <= 0 {
		return m.expire()
	}
	if m.questionRemaining <= 0 {
		if m.last() {
			m.questionRemaining = 0
			return m.finish()
		}
		m.moveTo(m.index + 1)
	}
	return nil
}

func (m *machine) expire() []effect {
	m.globalRemaining = 0
	m.timedOut = true
	m.reason = ReasonTimedOut
	return m.beginFinalize()
}

func (m *machine) beginFinalize() []effect {
	m.phase = PhaseFinalizing
	m.err = nil
	m.failed = 0
	return []effect{{kind: effectFinalize}}
}

func (m *machine) moveTo(i int) {
	m.index = i
	m.furthest = max(m.furthest, i)
	m.questionRemaining = m.current().PerQuestionSeconds
}

func (m *machine) selectOption(questionID, optionID uuid.UUID) ([]effect, error) {
	if m.phase != PhaseInProgress {
		return nil, ErrNotInProgress
	}
	q := m.current()
	if q.ID != questionID {
		return nil, ErrNotCurrentItem
	}
	if q.Option(optionID) == nil {
		return nil, &ValidationError{Field: "option_id", Reason: "option does not belong to the question"}
	}
	remaining := m.questionRemaining
	return []effect{{
		kind:             effectRecord,
		questionID:       questionID,
		optionID:         optionID,
		secondsRemaining: &remaining,
	}}, nil
}

func (m *machine) next() ([]effect, error) {
	if m.phase != PhaseInProgress {
		return nil, ErrNotInProgress
	}
	if m.last() {
		return m.finish(), nil
	}
	m.moveTo(m.index + 1)
	return nil, nil
}

func (m *machine) previous() error {
	if m.phase != PhaseInProgress {
		return ErrNotInProgress
	}
	if m.index == 0 {
		return ErrNotVisited
	}
	m.moveTo(m.index - 1)
	return nil
}

func (m *machine) finish() []effect {
	if m.reason == "" {
		m.reason = ReasonFinished
	}
	return m.beginFinalize()
}

func (m *machine) finishManually() ([]effect, error) {
	if m.phase != PhaseInProgress {
		return nil, ErrNotInProgress
	}
	return m.finish(), nil
}

func (m *machine) finalized(summary *model.ResultSummary) {
	if m.phase != PhaseFinalizing {
		return
	}
	m.complete(summary)
}

func (m *machine) complete(summary *model.ResultSummary) {
	if m.reason == "" {
		m.reason = ReasonFinished
	}
	m.phase = PhaseCompleted
	m.summary = summary
	m.err = nil
	m.failed = 0
}

// adopt takes the server's state after a conflict. A conflict that carries the stored summary
// completes the attempt; one that does not re-runs finalize, which is idempotent on the server.
func (m *machine) adopt(ce *ConflictError) []effect {
	if m.phase == PhaseCompleted {
		return nil
	}
	if ce.AttemptID != uuid.Nil {
		m.attemptID = ce.AttemptID
	}
	if ce.Summary != nil {
		if m.reason == "" {
			m.reason = ReasonAlreadyCompleted
		}
		m.complete(ce.Summary)
		return nil
	}
	if m.phase == PhaseFinalizing {
		return nil
	}
	if m.attemptID == uuid.Nil {
		m.fail(stageStart, ce)
		return nil
	}
	return m.beginFinalize()
}

func (m *machine) fail(s stage, err error) {
	m.phase = PhaseErrored
	m.failed = s
	m.err = err
}

func (m *machine) retryable() bool {
	return m.phase == PhaseErrored && m.failed != 0 && !IsNotFound(m.err)
}

func (m *machine) retry() ([]effect, error) {
	if !m.retryable() {
		return nil, ErrNotRetryable
	}
	switch m.failed {
	case stageStart:
		m.phase = PhaseConfirmed
		m.err = nil
		m.failed = 0
		return m.begin(), nil
	default:
		return m.beginFinalize(), nil
	}
}

// Snapshot is a read-only view of the attempt, published after every transition.
type Snapshot struct {
	Phase                    Phase                `json:"phase"`
	AttemptID                *uuid.UUID           `json:"attempt_id,omitempty"`
	QuestionCount            int                  `json:"question_count"`
	CurrentQuestionIndex     int                  `json:"current_question_index"`
	CurrentQuestionID        *uuid.UUID           `json:"current_question_id,omitempty"`
	FurthestQuestionIndex    int                  `json:"furthest_question_index"`
	GlobalSecondsRemaining   int                  `json:"global_seconds_remaining"`
	QuestionSecondsRemaining int                  `json:"question_seconds_remaining"`
	Answers                  []model.AnswerRecord `json:"answers"`
	TimedOut                 bool                 `json:"timed_out"`
	Reason                   CompletionReason     `json:"reason,omitempty"`
	Summary                  *model.ResultSummary `json:"summary,omitempty"`
	Error                    string               `json:"error,omitempty"`
	Retryable                bool                 `json:"retryable"`
}

func (m *machine) snapshot(answers []model.AnswerRecord) Snapshot {
	s := Snapshot{
		Phase:                    m.phase,
		QuestionCount:            len(m.def.Questions),
		CurrentQuestionIndex:     m.index,
		FurthestQuestionIndex:    m.furthest,
		GlobalSecondsRemaining:   m.globalRemaining,
		QuestionSecondsRemaining: m.questionRemaining,
		Answers:                  answers,
		TimedOut:                 m.timedOut,
		Reason:                   m.reason,
		Summary:                  m.summary,
		Retryable:                m.retryable(),
	}
	if m.attemptID != uuid.Nil {
		id := m.attemptID
		s.AttemptID = &id
	}
	if len(m.def.Questions) > 0 {
		id := m.current().ID
		s.CurrentQuestionID = &id
	}
	if m.err != nil {
		s.Error = m.err.Error()
	}
	return s
}
