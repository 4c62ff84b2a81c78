package assess

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/availability"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// TickInterval is the resolution of both countdowns.
const TickInterval = time.Second

type actionKind int

const (
	actSelect actionKind = iota + 1
	actNext
	actPrevious
	actFinish
	actRetry
)

type action struct {
	kind       actionKind
	questionID uuid.UUID
	optionID   uuid.UUID
	reply      chan error
}

type resultKind int

const (
	resStart resultKind = iota + 1
	resFinalize
	resConflict
)

type result struct {
	kind     resultKind
	start    *model.StartAttemptResponse
	summary  *model.ResultSummary
	conflict *ConflictError
	err      error
}

// Session drives one student's attempt at one assessment.
//
// Load and Confirm run on the caller's goroutine. Run then owns the attempt: every timer tick,
// action and network result is applied on its goroutine, in arrival order. Action methods
// block until Run has applied them.
type Session struct {
	backend      Backend
	assessmentID uuid.UUID
	studentID    int
	clock        clock.Clock
	loc          *time.Location
	log          zerolog.Logger
	ledgerOpts   []LedgerOption

	def      *model.AssessmentDefinition
	override *bool
	access   availability.Result
	m        *machine
	ledger   *Ledger

	actions chan action
	results chan result
	updates chan Snapshot
	done    chan struct{}
	running atomic.Bool

	mu     sync.RWMutex
	latest Snapshot
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the session's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithLocation sets the location whose calendar day closes the schedule window.
func WithLocation(loc *time.Location) Option {
	return func(s *Session) { s.loc = loc }
}

// WithLedgerOptions passes options through to the answer ledger.
func WithLedgerOptions(opts ...LedgerOption) Option {
	return func(s *Session) { s.ledgerOpts = append(s.ledgerOpts, opts...) }
}

// NewSession creates an idle session.
func NewSession(backend Backend, assessmentID uuid.UUID, studentID int, opts ...Option) *Session {
	s := &Session{
		backend:      backend,
		assessmentID: assessmentID,
		studentID:    studentID,
		clock:        clock.New(),
		loc:          time.Local,
		log:          zerolog.Nop(),
		actions:      make(chan action),
		results:      make(chan result, 8),
		updates:      make(chan Snapshot, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().
		Str("component", "attempt-session").
		Str("assessment_id", assessmentID.String()).
		Int("student_id", studentID).
		Logger()
	return s
}

// Load fetches the definition and the student's access state.
func (s *Session) Load(ctx context.Context) (availability.Result, error) {
	def, err := s.backend.FetchDefinition(ctx, s.assessmentID)
	if err != nil {
		return availability.Result{}, err
	}
	if err := ValidateDefinition(def); err != nil {
		// Broken authoring data is shown as a disabled assessment, never started.
		s.def = def
		s.access = availability.Result{State: availability.StateDisabled, Diagnostic: err.Error()}
		s.log.Warn().Err(err).Msg("Assessment definition is malformed")
		return s.access, nil
	}
	info, err := s.backend.CheckAccess(ctx, s.assessmentID, s.studentID)
	if err != nil {
		return availability.Result{}, err
	}

	s.def = def
	s.override = info.Override
	s.m = newMachine(def)
	s.ledger = NewLedger(s.backend, def, s.clock, s.log, s.ledgerOpts...)
	s.access = availability.Evaluate(availability.Input{
		Now:          s.clock.Now(),
		Schedule:     availability.FromModel(def.Schedule, s.loc),
		GlobalActive: def.GlobalActive,
		Override:     info.Override,
		Completed:    info.Completed,
	})
	s.publish()

	s.log.Debug().Str("state", string(s.access.State)).Msg("Session loaded")
	return s.access, nil
}

// Definition returns the loaded definition.
func (s *Session) Definition() *model.AssessmentDefinition {
	return s.def
}

// Access re-evaluates availability at now. A completed gate or a malformed definition found by
// Load is sticky.
func (s *Session) Access(now time.Time) availability.Result {
	if s.access.State == availability.StateCompleted || s.m == nil {
		return s.access
	}
	return availability.Resolve(now, availability.FromModel(s.def.Schedule, s.loc), s.def.GlobalActive, s.override)
}

// WatchAccess emits the availability state every second until start may be offered.
func (s *Session) WatchAccess(ctx context.Context) <-chan availability.Result {
	return availability.Watch(ctx, s.clock, s.Access, availability.UntilStartable)
}

// Confirm records the student's consent to begin. The global budget is fixed here. A completed
// attempt may be confirmed too, which re-opens its summary without starting any timer.
func (s *Session) Confirm() error {
	if s.def == nil {
		return ErrWrongPhase
	}
	if s.m == nil {
		return ErrNotStartable
	}
	s.access = s.Access(s.clock.Now())
	if !s.access.CanStart() && s.access.State != availability.StateCompleted {
		return ErrNotStartable
	}
	if err := s.m.confirm(); err != nil {
		return err
	}
	s.publish()
	return nil
}

// Run owns the attempt until it completes, fails terminally or ctx is cancelled. Cancelling
// ctx abandons the session without finalizing; the attempt stays resumable.
func (s *Session) Run(ctx context.Context) error {
	if s.m == nil || s.m.phase != PhaseConfirmed {
		return ErrWrongPhase
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	defer func() {
		close(s.updates)
		close(s.done)
	}()

	// Cancel before waiting on the ledger: its workers post conflicts under runCtx and would
	// block on a full results buffer once the loop has stopped reading.
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.ledger.Close()
	}()

	s.ledger.onConflict = func(ce *ConflictError) {
		s.post(runCtx, result{kind: resConflict, conflict: ce})
	}

	ticker := s.clock.Ticker(TickInterval)
	defer ticker.Stop()

	s.exec(runCtx, s.m.begin())
	s.publish()

	for {
		var (
			reply    chan error
			replyErr error
		)
		select {
		case <-ctx.Done():
			s.log.Info().Str("phase", string(s.m.phase)).Msg("Session abandoned")
			return ctx.Err()
		case <-ticker.C:
			s.exec(runCtx, s.m.tick())
		case a := <-s.actions:
			effects, err := s.apply(a)
			s.exec(runCtx, effects)
			reply, replyErr = a.reply, err
		case r := <-s.results:
			s.exec(runCtx, s.handle(runCtx, r))
		}
		// Publish before replying so a caller sees its own action in Snapshot.
		s.publish()
		if reply != nil {
			reply <- replyErr
		}

		switch s.m.phase {
		case PhaseCompleted:
			s.log.Info().Str("reason", string(s.m.reason)).Msg("Attempt completed")
			return nil
		case PhaseErrored:
			if !s.m.retryable() {
				s.log.Error().Err(s.m.err).Msg("Session failed")
				return s.m.err
			}
		}
	}
}

func (s *Session) apply(a action) ([]effect, error) {
	switch a.kind {
	case actSelect:
		return s.m.selectOption(a.questionID, a.optionID)
	case actNext:
		return s.m.next()
	case actPrevious:
		return nil, s.m.previous()
	case actFinish:
		return s.m.finishManually()
	case actRetry:
		return s.m.retry()
	}
	return nil, errors.New("unknown action")
}

func (s *Session) handle(ctx context.Context, r result) []effect {
	if r.kind == resConflict {
		return s.adopt(r.conflict)
	}

	if ce, ok := AsConflict(r.err); ok {
		if r.kind == resFinalize && ce.Summary == nil {
			s.m.fail(stageFinalize, ce)
			return nil
		}
		return s.adopt(ce)
	}

	switch r.kind {
	case resStart:
		if s.m.phase != PhaseConfirmed {
			return nil
		}
		if r.err != nil {
			s.log.Error().Err(r.err).Msg("Failed to start attempt")
			s.m.fail(stageStart, r.err)
			return nil
		}
		if r.start.AlreadyCompleted {
			return s.adopt(&ConflictError{AttemptID: r.start.AttemptID, Summary: r.start.Summary, Reason: "attempt already completed"})
		}
		s.ledger.Bind(ctx, r.start.AttemptID)
		s.ledger.Seed(r.start.Answers)
		s.log.Info().
			Str("attempt_id", r.start.AttemptID.String()).
			Int("elapsed_seconds", r.start.ElapsedSeconds).
			Msg("Attempt started")
		return s.m.started(r.start.AttemptID, r.start.ElapsedSeconds, s.ledger.AnsweredIndexes())

	case resFinalize:
		if s.m.phase != PhaseFinalizing {
			return nil
		}
		if r.err != nil {
			s.log.Error().Err(r.err).Msg("Failed to finalize attempt")
			s.m.fail(stageFinalize, r.err)
			return nil
		}
		s.m.finalized(r.summary)
	}
	return nil
}

// adopt is the single place where the server's state replaces local state.
func (s *Session) adopt(ce *ConflictError) []effect {
	s.log.Info().Str("reason", ce.Reason).Msg("Adopting server state")
	return s.m.adopt(ce)
}

func (s *Session) exec(ctx context.Context, effects []effect) {
	for _, e := range effects {
		switch e.kind {
		case effectStart:
			go s.start(ctx)
		case effectRecord:
			s.ledger.Record(e.questionID, e.optionID, e.secondsRemaining)
		case effectFinalize:
			if s.m.timedOut {
				s.drainSelections()
			}
			go s.finalize(ctx, s.m.attemptID)
		}
	}
}

// drainSelections records selections that were queued behind the expiring tick. Their remaining
// time is unknown, so their time taken stays empty.
func (s *Session) drainSelections() {
	for {
		select {
		case a := <-s.actions:
			if a.kind != actSelect {
				a.reply <- ErrNotInProgress
				continue
			}
			q := s.questionByID(a.questionID)
			if q == nil || q.Option(a.optionID) == nil {
				a.reply <- &ValidationError{Field: "option_id", Reason: "option does not belong to the question"}
				continue
			}
			s.ledger.Record(a.questionID, a.optionID, nil)
			a.reply <- nil
		default:
			return
		}
	}
}

func (s *Session) questionByID(id uuid.UUID) *model.Question {
	if i := s.def.QuestionIndex(id); i >= 0 {
		return &s.def.Questions[i]
	}
	return nil
}

func (s *Session) start(ctx context.Context) {
	res, err := s.backend.Start(ctx, s.assessmentID, s.studentID)
	s.post(ctx, result{kind: resStart, start: res, err: err})
}

func (s *Session) finalize(ctx context.Context, attemptID uuid.UUID) {
	if err := s.ledger.Flush(ctx); err != nil {
		s.post(ctx, result{kind: resFinalize, err: err})
		return
	}
	summary, err := s.backend.Finalize(ctx, attemptID)
	s.post(ctx, result{kind: resFinalize, summary: summary, err: err})
}

func (s *Session) post(ctx context.Context, r result) {
	select {
	case s.results <- r:
	case <-ctx.Done():
	}
}

func (s *Session) publish() {
	snap := s.m.snapshot(s.ledger.Answers())

	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()

	if s.running.Load() {
		select {
		case s.updates <- snap:
		default:
			select {
			case <-s.updates:
			default:
			}
			select {
			case s.updates <- snap:
			default:
			}
		}
	}
}

// Snapshot returns the most recently published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Updates streams snapshots while Run is active. Only the latest unread snapshot is kept. The
// channel is closed when Run returns.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Summary is the result once COMPLETED, otherwise nil.
func (s *Session) Summary() *model.ResultSummary {
	return s.Snapshot().Summary
}

// Select records an option for the current question.
func (s *Session) Select(ctx context.Context, questionID, optionID uuid.UUID) error {
	return s.do(ctx, action{kind: actSelect, questionID: questionID, optionID: optionID})
}

// Next advances, or finalizes on the last question.
func (s *Session) Next(ctx context.Context) error {
	return s.do(ctx, action{kind: actNext})
}

// Previous returns to the previous, already visited question.
func (s *Session) Previous(ctx context.Context) error {
	return s.do(ctx, action{kind: actPrevious})
}

// Finish finalizes the attempt now.
func (s *Session) Finish(ctx context.Context) error {
	return s.do(ctx, action{kind: actFinish})
}

// Retry re-runs the step that failed: start or finalize.
func (s *Session) Retry(ctx context.Context) error {
	return s.do(ctx, action{kind: actRetry})
}

func (s *Session) do(ctx context.Context, a action) error {
	a.reply = make(chan error, 1)
	select {
	case s.actions <- a:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-a.reply:
		return err
	case <-s.done:
		select {
		case err := <-a.reply:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
