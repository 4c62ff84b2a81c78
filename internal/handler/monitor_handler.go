package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
	snapshotLimit     = 100
)

type MonitorHandler struct {
	assessments    *service.AssessmentService
	attempts       *service.AttemptService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	assessments *service.AssessmentService,
	attempts *service.AttemptService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		assessments:    assessments,
		attempts:       attempts,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorAssessmentSSE godoc
// GET /api/v1/instructor/assessments/:id/monitor
// Streams a snapshot, then every attempt event, periodic progress refreshes and pings.
func (h *MonitorHandler) MonitorAssessmentSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	assessmentID, ok := paramID(c, "id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()
	if err := h.assessments.Authorize(reqCtx, claims.UserID, assessmentID); err != nil {
		failService(c, h.log, err)
		return
	}
	def, err := h.assessments.Definition(reqCtx, assessmentID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendInitialSnapshot(c, reqCtx, claims.UserID, def)

	pubsub := h.monitorService.Subscribe(reqCtx, assessmentID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refresh queries until some student has shown up.
	hasStudents := false

	h.log.Info().Str("assessment_id", assessmentID.String()).Msg("Instructor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assessment_id", assessmentID.String()).Msg("Instructor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; forward them untouched.
			writeSSEData(c, []byte(msg.Payload))
			hasStudents = true

		case <-refreshTicker.C:
			if !hasStudents {
				continue
			}
			h.sendRefresh(c, reqCtx, assessmentID, len(def.Questions))

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func writeSSEData(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// sendInitialSnapshot writes the first SSE event: the assessment header, counters and one row
// per attempt.
func (h *MonitorHandler) sendInitialSnapshot(c *gin.Context, ctx context.Context, instructorID int, def *model.AssessmentDefinition) {
	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	results, _, err := h.attempts.Results(fetchCtx, instructorID, def.ID, 1, snapshotLimit)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to load results for monitor snapshot")
		results = []model.AttemptResult{}
	}

	answered := map[int]int64{}
	if progress, err := h.monitorService.GetStudentProgress(fetchCtx, def.ID); err == nil {
		answered = progress.AnsweredCounts
	}

	inProgress, completed := 0, 0
	students := make([]gin.H, 0, len(results))
	for _, r := range results {
		switch r.Status {
		case model.AttemptStatusInProgress:
			inProgress++
		case model.AttemptStatusCompleted:
			completed++
		}
		students = append(students, gin.H{
			"student_id":     r.StudentID,
			"nisn":           r.NISN,
			"name":           r.Name,
			"status":         r.Status,
			"score":          r.Score,
			"started_at":     r.StartedAt,
			"answered_count": answered[r.StudentID],
		})
	}

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"assessment": gin.H{
				"id":              def.ID,
				"kind":            def.Kind,
				"name":            def.Name,
				"total_questions": len(def.Questions),
				"budget_seconds":  def.GlobalBudgetSeconds(),
				"global_active":   def.GlobalActive,
			},
			"stats": gin.H{
				"total_started":     len(results),
				"total_in_progress": inProgress,
				"total_completed":   completed,
			},
			"students": students,
		},
	})
	c.Writer.Flush()
}

// sendRefresh polls DB+Redis for current progress and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, assessmentID uuid.UUID, totalQuestions int) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetStudentProgress(ctx, assessmentID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch student progress for refresh")
		return
	}

	rows := make([]gin.H, 0, len(progress.AnsweredCounts))
	for sid, n := range progress.AnsweredCounts {
		rows = append(rows, gin.H{"student_id": sid, "answered_count": n})
	}

	c.SSEvent("message", gin.H{
		"type":            "refresh",
		"total_questions": totalQuestions,
		"in_progress":     progress.InProgress,
		"students":        rows,
	})
	c.Writer.Flush()
}
