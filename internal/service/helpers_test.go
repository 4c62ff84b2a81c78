package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// ─── In-memory stores ──────────────────────────────────────────────

type fakeAssessmentStore struct {
	mu   sync.Mutex
	defs map[uuid.UUID]*model.AssessmentDefinition
	gets int
}

func (f *fakeAssessmentStore) Create(_ context.Context, def *model.AssessmentDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	def.ID = uuid.New()
	f.defs[def.ID] = def
	return nil
}

func (f *fakeAssessmentStore) GetDefinition(_ context.Context, id uuid.UUID) (*model.AssessmentDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	def, ok := f.defs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *def
	return &cp, nil
}

func (f *fakeAssessmentStore) GetOwner(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[id]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	return def.InstructorID, nil
}

func (f *fakeAssessmentStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.defs[id]
	if !ok {
		return pgx.ErrNoRows
	}
	def.GlobalActive = active
	return nil
}

func (f *fakeAssessmentStore) ListByInstructor(_ context.Context, instructorID, limit, offset int) ([]model.AssessmentDefinition, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.AssessmentDefinition
	for _, d := range f.defs {
		if d.InstructorID == instructorID {
			all = append(all, *d)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (f *fakeAssessmentStore) ListOpenIDs(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.defs))
	for id := range f.defs {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	clk      clock.Clock
	// beforeComplete runs inside Complete, before the conditional update.
	beforeComplete func(id uuid.UUID)
}

func (f *fakeAttemptStore) Create(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.attempts {
		if existing.AssessmentID == a.AssessmentID && existing.StudentID == a.StudentID {
			return pgx.ErrNoRows
		}
	}
	a.ID = uuid.New()
	a.StartedAt = f.clk.Now()
	a.Status = model.AttemptStatusInProgress
	cp := *a
	f.attempts[a.ID] = &cp
	return nil
}

func (f *fakeAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttemptStore) GetByAssessmentAndStudent(_ context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.AssessmentID == assessmentID && a.StudentID == studentID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAttemptStore) Complete(_ context.Context, id uuid.UUID, sum *model.ResultSummary) (bool, error) {
	if f.beforeComplete != nil {
		f.beforeComplete(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok || a.Completed() {
		return false, nil
	}
	at := sum.CompletedAt
	score := sum.Score
	a.Status = model.AttemptStatusCompleted
	a.CompletedAt = &at
	a.Score = &score
	a.Summary = sum
	return true, nil
}

func (f *fakeAttemptStore) ListExpired(_ context.Context, now time.Time, grace time.Duration, limit int) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, a := range f.attempts {
		if !a.Completed() && a.Expired(now, grace) && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAttemptStore) ListResults(_ context.Context, assessmentID uuid.UUID, limit, offset int) ([]model.AttemptResult, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AttemptResult
	for _, a := range f.attempts {
		if a.AssessmentID == assessmentID {
			out = append(out, model.AttemptResult{AttemptID: a.ID, StudentID: a.StudentID, Status: a.Status, Score: a.Score, StartedAt: a.StartedAt, CompletedAt: a.CompletedAt})
		}
	}
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	return out[offset:min(offset+limit, total)], total, nil
}

type fakeAnswerStore struct {
	mu      sync.Mutex
	answers map[uuid.UUID]map[uuid.UUID]model.AnswerRecord
	upserts int
}

func (f *fakeAnswerStore) apply(attemptID uuid.UUID, rec model.AnswerRecord) {
	if f.answers[attemptID] == nil {
		f.answers[attemptID] = make(map[uuid.UUID]model.AnswerRecord)
	}
	if cur, ok := f.answers[attemptID][rec.QuestionID]; ok && cur.Seq >= rec.Seq {
		return
	}
	f.answers[attemptID][rec.QuestionID] = rec
}

func (f *fakeAnswerStore) Upsert(_ context.Context, attemptID uuid.UUID, rec model.AnswerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.apply(attemptID, rec)
	return nil
}

func (f *fakeAnswerStore) UpsertBatch(_ context.Context, rows []repository.AnswerRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		f.upserts++
		f.apply(r.AttemptID, r.AnswerRecord)
	}
	return nil
}

func (f *fakeAnswerStore) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.AnswerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AnswerRecord
	for _, rec := range f.answers[attemptID] {
		out = append(out, rec)
	}
	return out, nil
}

type fakeOverrideStore struct {
	mu        sync.Mutex
	overrides map[string]bool
}

func overrideKey(assessmentID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%s/%d", assessmentID, studentID)
}

func (f *fakeOverrideStore) Get(_ context.Context, assessmentID uuid.UUID, studentID int) (*bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.overrides[overrideKey(assessmentID, studentID)]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeOverrideStore) Set(_ context.Context, o *model.AccessOverride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := overrideKey(o.AssessmentID, o.StudentID)
	if o.Active == nil {
		delete(f.overrides, key)
		return nil
	}
	f.overrides[key] = *o.Active
	return nil
}

func (f *fakeOverrideStore) ListByAssessment(_ context.Context, _ uuid.UUID) ([]model.AccessOverride, error) {
	return nil, nil
}

// ─── Fixture ───────────────────────────────────────────────────────

const (
	testInstructorID = 7
	testStudentID    = 42
)

// fixtureNow is the mock clock's time after newFixture.
var fixtureNow = time.Date(2025, time.January, 11, 9, 0, 0, 0, time.UTC)

type fixture struct {
	mr  *miniredis.Miniredis
	rdb *redis.Client
	clk *clock.Mock

	assessmentStore *fakeAssessmentStore
	attemptStore    *fakeAttemptStore
	answerStore     *fakeAnswerStore
	overrideStore   *fakeOverrideStore

	assessments *AssessmentService
	access      *AccessService
	attempts    *AttemptService
	monitor     *MonitorService

	def *model.AssessmentDefinition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := clock.NewMock()
	clk.Add(fixtureNow.Sub(clk.Now()))

	f := &fixture{
		mr:              mr,
		rdb:             rdb,
		clk:             clk,
		assessmentStore: &fakeAssessmentStore{defs: make(map[uuid.UUID]*model.AssessmentDefinition)},
		attemptStore:    &fakeAttemptStore{attempts: make(map[uuid.UUID]*model.Attempt), clk: clk},
		answerStore:     &fakeAnswerStore{answers: make(map[uuid.UUID]map[uuid.UUID]model.AnswerRecord)},
		overrideStore:   &fakeOverrideStore{overrides: make(map[string]bool)},
	}

	log := zerolog.Nop()
	f.monitor = NewMonitorService(nil, rdb, log)
	f.assessments = NewAssessmentService(f.assessmentStore, rdb, time.Hour, log)
	f.access = NewAccessService(f.assessments, f.overrideStore, f.attemptStore, f.monitor, time.UTC, clk, log)
	f.attempts = NewAttemptService(f.assessments, f.access, f.attemptStore, f.answerStore, rdb, f.monitor, clk, log)

	def, err := f.assessments.Create(context.Background(), testInstructorID, createRequest(model.KindQuiz, 3, 30))
	require.NoError(t, err)
	f.def = def
	return f
}

// createRequest builds n questions with three options each; option 0 is correct.
func createRequest(kind model.AssessmentKind, n, perQuestion int) *model.CreateAssessmentRequest {
	explanation := "because"
	req := &model.CreateAssessmentRequest{
		Kind:         kind,
		Name:         "Weekly quiz",
		Start:        fixtureNow.Add(-time.Hour),
		End:          fixtureNow.Add(24 * time.Hour),
		GlobalActive: true,
	}
	for i := 0; i < n; i++ {
		req.Questions = append(req.Questions, model.QuestionRequest{
			Text:               "question",
			PerQuestionSeconds: perQuestion,
			Options: []model.OptionRequest{
				{Text: "right", IsCorrect: true, Explanation: &explanation},
				{Text: "wrong"},
				{Text: "also wrong"},
			},
		})
	}
	return req
}

func (f *fixture) start(t *testing.T) *model.StartAttemptResponse {
	t.Helper()
	res, err := f.attempts.Start(context.Background(), f.def.Kind, f.def.ID, testStudentID)
	require.NoError(t, err)
	return res
}

func (f *fixture) answer(t *testing.T, attemptID uuid.UUID, question, option int, seq int64) {
	t.Helper()
	q := f.def.Questions[question]
	taken := 5
	err := f.attempts.Answer(context.Background(), testStudentID, &model.SubmitAnswerRequest{
		AttemptID:  attemptID,
		QuestionID: q.ID,
		OptionID:   q.Options[option].ID,
		TimeTaken:  &taken,
		Seq:        seq,
	})
	require.NoError(t, err)
}

func boolPtr(b bool) *bool { return &b }
