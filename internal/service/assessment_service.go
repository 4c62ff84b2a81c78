package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
)

// AssessmentService handles authoring and the Redis definition cache.
// Full definitions (with the grading key) and student payloads are cached separately so the
// student path never has to strip answers on a hot request.
type AssessmentService struct {
	store AssessmentStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(store AssessmentStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *AssessmentService {
	return &AssessmentService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "assessment_service").Logger(),
	}
}

// Create validates and stores a new assessment, then warms its cache.
func (s *AssessmentService) Create(ctx context.Context, instructorID int, req *model.CreateAssessmentRequest) (*model.AssessmentDefinition, error) {
	def := buildDefinition(instructorID, req)
	if err := assess.ValidateDefinition(def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssessmentMalformed, err)
	}

	if err := s.store.Create(ctx, def); err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}

	if err := s.Warm(ctx, def); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", def.ID.String()).Msg("Failed to warm new assessment")
	}

	s.log.Info().
		Str("assessment_id", def.ID.String()).
		Str("kind", string(def.Kind)).
		Int("questions", len(def.Questions)).
		Msg("Assessment created")
	return def, nil
}

func buildDefinition(instructorID int, req *model.CreateAssessmentRequest) *model.AssessmentDefinition {
	start, end := req.Start, req.End
	def := &model.AssessmentDefinition{
		Kind:         req.Kind,
		Name:         req.Name,
		Description:  req.Description,
		Schedule:     model.Schedule{Start: &start, End: &end},
		GlobalActive: req.GlobalActive,
		InstructorID: instructorID,
		Questions:    make([]model.Question, len(req.Questions)),
	}
	for i, qr := range req.Questions {
		q := model.Question{
			Text:               qr.Text,
			PerQuestionSeconds: qr.PerQuestionSeconds,
			AttachmentURL:      qr.AttachmentURL,
			OrderNum:           i + 1,
			Options:            make([]model.Option, len(qr.Options)),
		}
		// Ids are placeholders until the store assigns real ones; they keep validation honest.
		q.ID = uuid.New()
		for j, opt := range qr.Options {
			q.Options[j] = model.Option{ID: uuid.New(), Text: opt.Text, IsCorrect: opt.IsCorrect, Explanation: opt.Explanation}
		}
		def.Questions[i] = q
	}
	return def
}

// Definition returns the full definition (including the grading key), from Redis when warm.
func (s *AssessmentService) Definition(ctx context.Context, id uuid.UUID) (*model.AssessmentDefinition, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.AssessmentDefinitionKey(id.String())).Bytes()
	if err == nil {
		var def model.AssessmentDefinition
		if err := json.Unmarshal(data, &def); err == nil {
			return &def, nil
		}
		s.log.Warn().Str("assessment_id", id.String()).Msg("Corrupt definition cache entry, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Redis unavailable, reading definition from PostgreSQL")
	}

	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("get definition: %w", err)
	}

	// SELF-HEAL: repopulate the cache for the next caller.
	if err := s.Warm(ctx, def); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Failed to re-warm definition")
	}
	return def, nil
}

// StudentDefinition returns the definition of the given kind without correct flags or
// explanations. A kind mismatch is reported as not found.
func (s *AssessmentService) StudentDefinition(ctx context.Context, kind model.AssessmentKind, id uuid.UUID) (*model.AssessmentDefinition, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.AssessmentStudentPayloadKey(id.String())).Bytes()
	if err == nil {
		var def model.AssessmentDefinition
		if err := json.Unmarshal(data, &def); err == nil {
			if def.Kind != kind {
				return nil, ErrAssessmentNotFound
			}
			return &def, nil
		}
	}

	full, err := s.Definition(ctx, id)
	if err != nil {
		return nil, err
	}
	if full.Kind != kind {
		return nil, ErrAssessmentNotFound
	}
	return full.ForStudent(), nil
}

// Warm writes both cache entries in one pipeline.
func (s *AssessmentService) Warm(ctx context.Context, def *model.AssessmentDefinition) error {
	full, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	payload, err := json.Marshal(def.ForStudent())
	if err != nil {
		return fmt.Errorf("marshal student payload: %w", err)
	}

	id := def.ID.String()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AssessmentDefinitionKey(id), full, s.ttl)
	pipe.Set(ctx, config.CacheKey.AssessmentStudentPayloadKey(id), payload, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().Str("assessment_id", id).Int("questions", len(def.Questions)).Msg("Cache warmed")
	return nil
}

// Invalidate drops both cache entries.
func (s *AssessmentService) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Del(ctx,
		config.CacheKey.AssessmentDefinitionKey(id.String()),
		config.CacheKey.AssessmentStudentPayloadKey(id.String()),
	).Err()
}

// PrewarmAll loads every assessment whose window is still relevant into Redis on startup.
func (s *AssessmentService) PrewarmAll(ctx context.Context) error {
	ids, err := s.store.ListOpenIDs(ctx)
	if err != nil {
		return fmt.Errorf("list open assessments: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No open assessments to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		def, err := s.store.GetDefinition(ctx, id)
		if err == nil {
			err = s.Warm(ctx, def)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Failed to warm assessment, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(ids)).Msg("Prewarming complete")
	return nil
}

// Authorize checks that the instructor owns the assessment.
func (s *AssessmentService) Authorize(ctx context.Context, instructorID int, id uuid.UUID) error {
	owner, err := s.store.GetOwner(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAssessmentNotFound
		}
		return fmt.Errorf("get owner: %w", err)
	}
	if owner != instructorID {
		return ErrNotAssessmentOwner
	}
	return nil
}

// SetActive toggles the global activation flag and drops the cached definition.
func (s *AssessmentService) SetActive(ctx context.Context, instructorID int, id uuid.UUID, active bool) error {
	if err := s.Authorize(ctx, instructorID, id); err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAssessmentNotFound
		}
		return fmt.Errorf("set active: %w", err)
	}
	if err := s.Invalidate(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Failed to invalidate definition cache")
	}
	s.log.Info().Str("assessment_id", id.String()).Bool("active", active).Msg("Global activation changed")
	return nil
}

// ListByInstructor returns the instructor's assessments, newest first.
func (s *AssessmentService) ListByInstructor(ctx context.Context, instructorID, page, perPage int) ([]model.AssessmentDefinition, *response.Pagination, error) {
	page, perPage = normalizePage(page, perPage)

	list, total, err := s.store.ListByInstructor(ctx, instructorID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if list == nil {
		list = []model.AssessmentDefinition{}
	}
	return list, paginate(page, perPage, total), nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

func paginate(page, perPage, total int) *response.Pagination {
	return response.NewPagination(page, perPage, total)
}
