package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// Monitor event types published on an assessment's channel.
const (
	EventAttemptStarted   = "attempt_started"
	EventAnswerSaved      = "answer_saved"
	EventAttemptFinalized = "attempt_finalized"
	EventOverrideChanged  = "override_changed"
)

// MonitorEvent is one live update for instructors watching an assessment.
type MonitorEvent struct {
	Type      string     `json:"type"`
	StudentID int        `json:"student_id"`
	AttemptID *uuid.UUID `json:"attempt_id,omitempty"`
	Score     *float64   `json:"score,omitempty"`
	Active    *bool      `json:"active,omitempty"`
	At        time.Time  `json:"at"`
}

// MonitorService orchestrates live monitoring: publishing attempt events and building progress
// snapshots.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish sends an event to the assessment's monitor channel. Failures are logged only;
// monitoring never blocks an attempt.
func (s *MonitorService) Publish(ctx context.Context, assessmentID uuid.UUID, ev MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID.String()), raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("type", ev.Type).Msg("Failed to publish monitor event")
	}
}

// Subscribe opens a pub/sub subscription on the assessment's monitor channel.
func (s *MonitorService) Subscribe(ctx context.Context, assessmentID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID.String()))
}

// StudentProgressSnapshot holds the answered count per student. Live counts from Redis win
// over persisted counts because the autosave worker may not have drained yet.
type StudentProgressSnapshot struct {
	AnsweredCounts map[int]int64 // student_id → answered_count
	InProgress     int
}

// GetStudentProgress fetches persisted and live answer counts concurrently.
func (s *MonitorService) GetStudentProgress(ctx context.Context, assessmentID uuid.UUID) (*StudentProgressSnapshot, error) {
	var (
		persisted  map[int]int64
		live       map[int]int64
		running    []repository.InProgressAttempt
		persistErr error
		liveErr    error
		wg         sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		persisted, persistErr = s.monitorRepo.GetAnsweredCounts(ctx, assessmentID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		running, liveErr = s.monitorRepo.GetInProgressAttempts(ctx, assessmentID)
		if liveErr == nil {
			live, liveErr = s.monitorRepo.GetLiveAnsweredCounts(ctx, running)
		}
	}()

	wg.Wait()

	// Persisted counts are critical; live counts are best-effort
	if persistErr != nil {
		return nil, persistErr
	}

	snapshot := &StudentProgressSnapshot{AnsweredCounts: persisted, InProgress: len(running)}
	if snapshot.AnsweredCounts == nil {
		snapshot.AnsweredCounts = make(map[int]int64)
	}
	if liveErr == nil {
		for sid, n := range live {
			if n > snapshot.AnsweredCounts[sid] {
				snapshot.AnsweredCounts[sid] = n
			}
		}
	}
	return snapshot, nil
}
