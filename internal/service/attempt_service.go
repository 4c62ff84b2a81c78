package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/response"
)

// answerTTLPadding keeps the Redis answer buffers alive past the attempt's budget so an
// abandoned attempt can still be finalized by the sweeper.
const answerTTLPadding = 24 * time.Hour

// saveAnswerScript applies an answer only when its seq is newer than the stored one.
// Seqs are compared as decimal strings: Lua numbers are doubles and would round nanosecond
// timestamps.
//
// KEYS: seq hash, answers hash, time-taken hash, persist queue
// ARGV: question id, seq, option id, time taken ("" for none), queue payload, ttl seconds
var saveAnswerScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
	if #ARGV[2] < #cur or (#ARGV[2] == #cur and ARGV[2] <= cur) then
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
if ARGV[4] == '' then
	redis.call('HDEL', KEYS[3], ARGV[1])
else
	redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
end
for i = 1, 3 do
	redis.call('EXPIRE', KEYS[i], ARGV[6])
end
redis.call('RPUSH', KEYS[4], ARGV[5])
return 1
`)

// AttemptService implements start, answer and finalize for both assessment kinds.
//
// Answers land in Redis first (per-attempt hashes guarded by seq) and are queued for the
// autosave worker; PostgreSQL is the fallback when Redis is unavailable. Finalize merges both
// sources, grades, and seals the attempt with a conditional UPDATE so the first finalize wins
// and every later call returns the stored summary.
type AttemptService struct {
	assessments *AssessmentService
	access      *AccessService
	attempts    AttemptStore
	answers     AnswerStore
	rdb         *redis.Client
	monitor     *MonitorService
	clk         clock.Clock
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	assessments *AssessmentService,
	access *AccessService,
	attempts AttemptStore,
	answers AnswerStore,
	rdb *redis.Client,
	monitor *MonitorService,
	clk clock.Clock,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		assessments: assessments,
		access:      access,
		attempts:    attempts,
		answers:     answers,
		rdb:         rdb,
		monitor:     monitor,
		clk:         clk,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start creates the student's attempt, or returns the existing one. A completed attempt is
// reported through AlreadyCompleted with its stored summary; a running one is resumed with the
// elapsed time computed from started_at.
func (s *AttemptService) Start(ctx context.Context, kind model.AssessmentKind, assessmentID uuid.UUID, studentID int) (*model.StartAttemptResponse, error) {
	def, err := s.assessments.Definition(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if def.Kind != kind {
		return nil, ErrAssessmentNotFound
	}
	if err := assess.ValidateDefinition(def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssessmentMalformed, err)
	}

	existing, err := s.attempts.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err == nil {
		return s.resume(ctx, def, existing)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}

	check, err := s.access.Check(ctx, assessmentID, studentID)
	if err != nil {
		return nil, err
	}
	if res := s.access.Evaluate(def, check); !res.CanStart() {
		return nil, fmt.Errorf("%w: %s", ErrNotStartable, res.State)
	}

	attempt := &model.Attempt{
		AssessmentID:  assessmentID,
		StudentID:     studentID,
		BudgetSeconds: def.GlobalBudgetSeconds(),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
		// Concurrent start from another device won the insert.
		existing, err := s.attempts.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
		if err != nil {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
		}
		return s.resume(ctx, def, existing)
	}

	startKey := config.CacheKey.AttemptStartKey(attempt.ID.String())
	ttl := time.Duration(attempt.BudgetSeconds)*time.Second + answerTTLPadding
	if err := s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), ttl).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache start time")
	}

	s.monitor.Publish(ctx, assessmentID, MonitorEvent{Type: EventAttemptStarted, StudentID: studentID, AttemptID: &attempt.ID})
	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Int("student_id", studentID).
		Int("budget_seconds", attempt.BudgetSeconds).
		Msg("Attempt started")

	return &model.StartAttemptResponse{
		AttemptID:      attempt.ID,
		StartedAt:      attempt.StartedAt,
		ElapsedSeconds: attempt.ElapsedSeconds(s.clk.Now()),
		Answers:        []model.AnswerRecord{},
	}, nil
}

func (s *AttemptService) resume(ctx context.Context, def *model.AssessmentDefinition, a *model.Attempt) (*model.StartAttemptResponse, error) {
	if a.Completed() {
		return &model.StartAttemptResponse{
			AttemptID:        a.ID,
			StartedAt:        a.StartedAt,
			AlreadyCompleted: true,
			Summary:          a.Summary,
		}, nil
	}

	records, err := s.currentAnswers(ctx, def, a.ID)
	if err != nil {
		return nil, err
	}
	return &model.StartAttemptResponse{
		AttemptID:      a.ID,
		StartedAt:      a.StartedAt,
		ElapsedSeconds: a.ElapsedSeconds(s.clk.Now()),
		Answers:        records,
	}, nil
}

// Answer stores one selection. Stale sequence numbers are acknowledged and ignored so retried
// or reordered requests never overwrite a newer choice.
func (s *AttemptService) Answer(ctx context.Context, studentID int, req *model.SubmitAnswerRequest) error {
	a, err := s.ownedAttempt(ctx, studentID, req.AttemptID)
	if err != nil {
		return err
	}
	if a.Completed() {
		return &CompletedError{AttemptID: a.ID, Summary: a.Summary}
	}

	def, err := s.assessments.Definition(ctx, a.AssessmentID)
	if err != nil {
		return err
	}
	qi := def.QuestionIndex(req.QuestionID)
	if qi < 0 {
		return ErrQuestionMismatch
	}
	if def.Questions[qi].Option(req.OptionID) == nil {
		return ErrOptionMismatch
	}

	optionID := req.OptionID
	rec := model.AnswerRecord{
		QuestionID:       req.QuestionID,
		SelectedOptionID: &optionID,
		TimeTakenSeconds: req.TimeTaken,
		Seq:              max(req.Seq, 0),
	}

	applied, err := s.saveAnswer(ctx, a, rec)
	if err != nil {
		return err
	}
	if applied {
		s.monitor.Publish(ctx, a.AssessmentID, MonitorEvent{Type: EventAnswerSaved, StudentID: studentID, AttemptID: &a.ID})
	}
	return nil
}

// saveAnswer applies rec in Redis and queues it for PostgreSQL. When Redis is down the answer
// is written to PostgreSQL directly, with the same seq rule.
func (s *AttemptService) saveAnswer(ctx context.Context, a *model.Attempt, rec model.AnswerRecord) (bool, error) {
	payload, err := json.Marshal(repository.AnswerRow{AttemptID: a.ID, AnswerRecord: rec})
	if err != nil {
		return false, fmt.Errorf("marshal answer: %w", err)
	}

	timeTaken := ""
	if rec.TimeTakenSeconds != nil {
		timeTaken = strconv.Itoa(*rec.TimeTakenSeconds)
	}
	ttl := time.Duration(a.BudgetSeconds)*time.Second + answerTTLPadding

	id := a.ID.String()
	res, err := saveAnswerScript.Run(ctx, s.rdb,
		[]string{
			config.CacheKey.AttemptAnswerSeqKey(id),
			config.CacheKey.AttemptAnswersKey(id),
			config.CacheKey.AttemptTimeTakenKey(id),
			config.WorkerKey.PersistAnswersQueue,
		},
		rec.QuestionID.String(),
		strconv.FormatInt(rec.Seq, 10),
		rec.SelectedOptionID.String(),
		timeTaken,
		payload,
		int64(ttl/time.Second),
	).Int()
	if err == nil {
		return res == 1, nil
	}

	s.log.Warn().Err(err).Str("attempt_id", id).Msg("Redis answer write failed, writing to PostgreSQL")
	if err := s.answers.Upsert(ctx, a.ID, rec); err != nil {
		return false, fmt.Errorf("upsert answer: %w", err)
	}
	return true, nil
}

// currentAnswers merges persisted answers with the Redis buffer, keeping the higher seq per
// question, in definition order.
func (s *AttemptService) currentAnswers(ctx context.Context, def *model.AssessmentDefinition, attemptID uuid.UUID) ([]model.AnswerRecord, error) {
	stored, err := s.answers.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	byQuestion := make(map[uuid.UUID]model.AnswerRecord, len(stored))
	for _, rec := range stored {
		byQuestion[rec.QuestionID] = rec
	}

	id := attemptID.String()
	pipe := s.rdb.Pipeline()
	seqCmd := pipe.HGetAll(ctx, config.CacheKey.AttemptAnswerSeqKey(id))
	optCmd := pipe.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(id))
	timeCmd := pipe.HGetAll(ctx, config.CacheKey.AttemptTimeTakenKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("attempt_id", id).Msg("Redis answer read failed, using PostgreSQL only")
	} else {
		times := timeCmd.Val()
		options := optCmd.Val()
		for qs, seqStr := range seqCmd.Val() {
			qid, err1 := uuid.Parse(qs)
			seq, err2 := strconv.ParseInt(seqStr, 10, 64)
			oid, err3 := uuid.Parse(options[qs])
			if err1 != nil || err2 != nil || err3 != nil {
				continue
			}
			if prev, ok := byQuestion[qid]; ok && prev.Seq >= seq {
				continue
			}
			rec := model.AnswerRecord{QuestionID: qid, SelectedOptionID: &oid, Seq: seq}
			if t, err := strconv.Atoi(times[qs]); err == nil {
				rec.TimeTakenSeconds = &t
			}
			byQuestion[qid] = rec
		}
	}

	out := make([]model.AnswerRecord, 0, len(byQuestion))
	for _, q := range def.Questions {
		if rec, ok := byQuestion[q.ID]; ok && rec.SelectedOptionID != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Finalize seals the student's attempt. Repeated calls return the stored summary with
// AlreadyFinalized set.
func (s *AttemptService) Finalize(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.FinalizeAttemptResponse, error) {
	a, err := s.ownedAttempt(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	return s.finalize(ctx, a)
}

func (s *AttemptService) finalize(ctx context.Context, a *model.Attempt) (*model.FinalizeAttemptResponse, error) {
	if a.Completed() {
		return &model.FinalizeAttemptResponse{Summary: a.Summary, AlreadyFinalized: true}, nil
	}

	def, err := s.assessments.Definition(ctx, a.AssessmentID)
	if err != nil {
		return nil, err
	}
	records, err := s.currentAnswers(ctx, def, a.ID)
	if err != nil {
		return nil, err
	}

	// Sealed attempts must have their answer rows in PostgreSQL even if the worker lags.
	rows := make([]repository.AnswerRow, len(records))
	chosen := make(map[uuid.UUID]uuid.UUID, len(records))
	for i, rec := range records {
		rows[i] = repository.AnswerRow{AttemptID: a.ID, AnswerRecord: rec}
		chosen[rec.QuestionID] = *rec.SelectedOptionID
	}
	if err := s.answers.UpsertBatch(ctx, rows); err != nil {
		return nil, fmt.Errorf("persist final answers: %w", err)
	}

	sum := model.Grade(def, a.ID, chosen, s.clk.Now().UTC())
	sealed, err := s.attempts.Complete(ctx, a.ID, sum)
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	if !sealed {
		// Finalized concurrently: the stored summary is authoritative.
		stored, err := s.attempts.GetByID(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("reload completed attempt: %w", err)
		}
		return &model.FinalizeAttemptResponse{Summary: stored.Summary, AlreadyFinalized: true}, nil
	}

	id := a.ID.String()
	if err := s.rdb.Del(ctx,
		config.CacheKey.AttemptStartKey(id),
		config.CacheKey.AttemptAnswersKey(id),
		config.CacheKey.AttemptAnswerSeqKey(id),
		config.CacheKey.AttemptTimeTakenKey(id),
	).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", id).Msg("Failed to clear answer buffers")
	}

	score := sum.Score
	s.monitor.Publish(ctx, a.AssessmentID, MonitorEvent{Type: EventAttemptFinalized, StudentID: a.StudentID, AttemptID: &a.ID, Score: &score})
	s.log.Info().
		Str("attempt_id", id).
		Int("student_id", a.StudentID).
		Float64("score", sum.Score).
		Msg("Attempt finalized")
	return &model.FinalizeAttemptResponse{Summary: sum}, nil
}

// SweepExpired finalizes up to limit IN_PROGRESS attempts whose budget plus grace elapsed.
// It returns how many were sealed by this call.
func (s *AttemptService) SweepExpired(ctx context.Context, grace time.Duration, limit int) (int, error) {
	expired, err := s.attempts.ListExpired(ctx, s.clk.Now(), grace, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired attempts: %w", err)
	}

	sealed := 0
	for i := range expired {
		if ctx.Err() != nil {
			return sealed, ctx.Err()
		}
		res, err := s.finalize(ctx, &expired[i])
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", expired[i].ID.String()).Msg("Failed to finalize expired attempt")
			continue
		}
		if !res.AlreadyFinalized {
			sealed++
		}
	}
	return sealed, nil
}

// Results lists every attempt of an assessment owned by the instructor.
func (s *AttemptService) Results(ctx context.Context, instructorID int, assessmentID uuid.UUID, page, perPage int) ([]model.AttemptResult, *response.Pagination, error) {
	if err := s.assessments.Authorize(ctx, instructorID, assessmentID); err != nil {
		return nil, nil, err
	}
	page, perPage = normalizePage(page, perPage)

	list, total, err := s.attempts.ListResults(ctx, assessmentID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if list == nil {
		list = []model.AttemptResult{}
	}
	return list, paginate(page, perPage, total), nil
}

func (s *AttemptService) ownedAttempt(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	// Another student's attempt is reported as missing.
	if a.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}
