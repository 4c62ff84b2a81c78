package assess

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// fakeBackend is an in-memory server: it keeps one attempt, applies answers by sequence number
// and seals the attempt on the first finalize.
type fakeBackend struct {
	mu sync.Mutex

	def      *model.AssessmentDefinition
	override *bool

	attemptID uuid.UUID
	started   bool
	elapsed   int
	answers   map[uuid.UUID]model.AnswerRecord
	summary   *model.ResultSummary

	startErr      error
	answerHook    func(req model.SubmitAnswerRequest) error
	finalizeErrs  []error
	answerCalls   int
	finalizeCalls int
	startCalls    int
}

func newFakeBackend(def *model.AssessmentDefinition) *fakeBackend {
	return &fakeBackend{
		def:       def,
		attemptID: uuid.New(),
		answers:   make(map[uuid.UUID]model.AnswerRecord),
	}
}

func (f *fakeBackend) FetchDefinition(_ context.Context, id uuid.UUID) (*model.AssessmentDefinition, error) {
	if id != f.def.ID {
		return nil, &NotFoundError{Resource: "assessment", ID: id.String()}
	}
	return f.def.ForStudent(), nil
}

func (f *fakeBackend) CheckAccess(_ context.Context, _ uuid.UUID, _ int) (*model.AccessCheckResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &model.AccessCheckResponse{Override: f.override, Completed: f.summary != nil}
	if f.started {
		id := f.attemptID
		resp.AttemptID = &id
	}
	return resp, nil
}

func (f *fakeBackend) Start(_ context.Context, _ uuid.UUID, _ int) (*model.StartAttemptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		err := f.startErr
		f.startErr = nil
		return nil, err
	}
	if f.summary != nil {
		return nil, &ConflictError{AttemptID: f.attemptID, Summary: f.summary, Reason: "attempt already completed"}
	}
	f.started = true
	resp := &model.StartAttemptResponse{AttemptID: f.attemptID, ElapsedSeconds: f.elapsed}
	for _, q := range f.def.Questions {
		if rec, ok := f.answers[q.ID]; ok {
			resp.Answers = append(resp.Answers, rec)
		}
	}
	return resp, nil
}

func (f *fakeBackend) Answer(_ context.Context, req model.SubmitAnswerRequest) error {
	f.mu.Lock()
	f.answerCalls++
	hook := f.answerHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(req); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.summary != nil {
		return &ConflictError{AttemptID: f.attemptID, Summary: f.summary, Reason: "attempt already completed"}
	}
	if cur, ok := f.answers[req.QuestionID]; ok && cur.Seq > req.Seq {
		return nil
	}
	opt := req.OptionID
	f.answers[req.QuestionID] = model.AnswerRecord{
		QuestionID:       req.QuestionID,
		SelectedOptionID: &opt,
		TimeTakenSeconds: req.TimeTaken,
		Seq:              req.Seq,
	}
	return nil
}

func (f *fakeBackend) Finalize(_ context.Context, attemptID uuid.UUID) (*model.ResultSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeCalls++
	if len(f.finalizeErrs) > 0 {
		err := f.finalizeErrs[0]
		f.finalizeErrs = f.finalizeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.summary != nil {
		return nil, &ConflictError{AttemptID: attemptID, Summary: f.summary, Reason: "attempt already finalized"}
	}
	final := make(map[uuid.UUID]uuid.UUID, len(f.answers))
	for qid, rec := range f.answers {
		final[qid] = *rec.SelectedOptionID
	}
	f.summary = model.Grade(f.def, attemptID, final, time.Date(2025, time.January, 11, 9, 0, 0, 0, time.UTC))
	return f.summary, nil
}

func (f *fakeBackend) stored(questionID uuid.UUID) (model.AnswerRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.answers[questionID]
	return rec, ok
}

func (f *fakeBackend) counts() (answers, finalizes, starts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answerCalls, f.finalizeCalls, f.startCalls
}

// testDefinition builds n questions of perQuestion seconds each. The first option of every
// question is the correct one.
func testDefinition(n, perQuestion int, start, end time.Time) *model.AssessmentDefinition {
	def := &model.AssessmentDefinition{
		ID:           uuid.New(),
		Kind:         model.KindQuiz,
		Name:         "Fractions",
		GlobalActive: true,
		Schedule:     model.Schedule{Start: &start, End: &end},
	}
	for i := 0; i < n; i++ {
		explanation := "because"
		def.Questions = append(def.Questions, model.Question{
			ID:                 uuid.New(),
			Text:               "Question " + string(rune('A'+i)),
			PerQuestionSeconds: perQuestion,
			OrderNum:           i + 1,
			Options: []model.Option{
				{ID: uuid.New(), Text: "right", IsCorrect: true, Explanation: &explanation},
				{ID: uuid.New(), Text: "wrong"},
			},
		})
	}
	return def
}

func fastBackOff(tries uint) LedgerOption {
	return WithAnswerBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }, tries)
}

type harness struct {
	t      *testing.T
	fb     *fakeBackend
	clock  *clock.Mock
	s      *Session
	cancel context.CancelFunc
	errCh  chan error
}

// newHarness builds a session over a fresh backend whose schedule is open at the mock's epoch.
func newHarness(t *testing.T, n, perQuestion int) *harness {
	t.Helper()
	mock := clock.NewMock()
	def := testDefinition(n, perQuestion, mock.Now().Add(-time.Hour), mock.Now().Add(24*time.Hour))
	return newHarnessFor(t, mock, newFakeBackend(def))
}

func newHarnessFor(t *testing.T, mock *clock.Mock, fb *fakeBackend) *harness {
	t.Helper()
	s := NewSession(fb, fb.def.ID, 7,
		WithClock(mock),
		WithLocation(time.UTC),
		WithLedgerOptions(fastBackOff(3)),
	)
	return &harness{t: t, fb: fb, clock: mock, s: s, errCh: make(chan error, 1)}
}

// run loads, confirms and starts the session loop.
func (h *harness) run() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.t.Cleanup(cancel)

	_, err := h.s.Load(ctx)
	require.NoError(h.t, err)
	require.NoError(h.t, h.s.Confirm())

	go func() { h.errCh <- h.s.Run(ctx) }()
}

func (h *harness) waitFor(cond func(Snapshot) bool, msg string) Snapshot {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return cond(h.s.Snapshot()) }, 2*time.Second, 2*time.Millisecond, msg)
	return h.s.Snapshot()
}

func (h *harness) waitPhase(p Phase) Snapshot {
	h.t.Helper()
	return h.waitFor(func(s Snapshot) bool { return s.Phase == p }, "waiting for phase "+string(p))
}

// tick advances the mock clock one second at a time, waiting for each tick to be applied.
func (h *harness) tick(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		before := h.s.Snapshot()
		require.Equal(h.t, PhaseInProgress, before.Phase, "tick outside IN_PROGRESS")
		h.clock.Add(time.Second)
		h.waitFor(func(s Snapshot) bool {
			return s.Phase != PhaseInProgress || s.GlobalSecondsRemaining == before.GlobalSecondsRemaining-1
		}, "waiting for tick")
	}
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("session did not stop")
		return nil
	}
}

func (h *harness) question(i int) model.Question {
	return h.fb.def.Questions[i]
}

func boolPtr(b bool) *bool { return &b }
