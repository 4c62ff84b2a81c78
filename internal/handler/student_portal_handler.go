package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// StudentPortalHandler handles student-facing endpoints for quizzes and evaluations.
// The kind comes from the route, so both share every handler.
type StudentPortalHandler struct {
	assessments *service.AssessmentService
	access      *service.AccessService
	attempts    *service.AttemptService
	log         zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(
	assessments *service.AssessmentService,
	access *service.AccessService,
	attempts *service.AttemptService,
	log zerolog.Logger,
) *StudentPortalHandler {
	return &StudentPortalHandler{
		assessments: assessments,
		access:      access,
		attempts:    attempts,
		log:         log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// GetDefinition godoc
// GET /api/v1/student/:kind/:id
// Returns the assessment without correct flags or explanations.
func (h *StudentPortalHandler) GetDefinition(c *gin.Context) {
	kind, ok := paramKind(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	def, err := h.assessments.StudentDefinition(c.Request.Context(), kind, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, def)
}

// GetAvailability godoc
// GET /api/v1/student/:kind/:id/availability
// Returns the student's access state, including the completed-attempt gate.
func (h *StudentPortalHandler) GetAvailability(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	kind, ok := paramKind(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	res, err := h.access.Availability(c.Request.Context(), kind, id, claims.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// CheckAccess godoc
// POST /api/v1/student/access/check
// Returns the student's override and whether their attempt is already completed.
func (h *StudentPortalHandler) CheckAccess(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.AccessCheckRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.access.Check(c.Request.Context(), req.AssessmentID, claims.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// StartAttempt godoc
// POST /api/v1/student/attempt/start
// Creates the attempt or resumes the existing one (idempotent).
func (h *StudentPortalHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.Start(c.Request.Context(), req.Kind, req.AssessmentID, claims.UserID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// SubmitAnswer godoc
// POST /api/v1/student/attempt/answer
// Stores one selection. Stale seqs are acknowledged and ignored.
func (h *StudentPortalHandler) SubmitAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.Answer(c.Request.Context(), claims.UserID, &req); err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// FinalizeAttempt godoc
// POST /api/v1/student/attempt/finalize
// Seals the attempt and returns the summary. Repeats return the stored summary.
func (h *StudentPortalHandler) FinalizeAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.FinalizeAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.Finalize(c.Request.Context(), claims.UserID, req.AttemptID)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}
