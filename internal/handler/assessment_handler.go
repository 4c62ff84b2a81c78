package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// AssessmentHandler handles instructor endpoints: authoring, activation, overrides and results.
type AssessmentHandler struct {
	assessments *service.AssessmentService
	access      *service.AccessService
	attempts    *service.AttemptService
	log         zerolog.Logger
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(
	assessments *service.AssessmentService,
	access *service.AccessService,
	attempts *service.AttemptService,
	log zerolog.Logger,
) *AssessmentHandler {
	return &AssessmentHandler{
		assessments: assessments,
		access:      access,
		attempts:    attempts,
		log:         log.With().Str("component", "assessment_handler").Logger(),
	}
}

// ListAssessments godoc
// GET /api/v1/instructor/assessments
// Lists the instructor's assessments with pagination.
func (h *AssessmentHandler) ListAssessments(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	list, pagination, err := h.assessments.ListByInstructor(c.Request.Context(), claims.UserID, page, perPage)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"assessments": list}, pagination)
}

// CreateAssessment godoc
// POST /api/v1/instructor/assessments
// Validates and stores a new assessment, then warms its cache.
func (h *AssessmentHandler) CreateAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateAssessmentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	def, err := h.assessments.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"assessment": def})
}

// GetAssessment godoc
// GET /api/v1/instructor/assessments/:id
// Returns the full definition, grading key included, to its author.
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.assessments.Authorize(ctx, claims.UserID, id); err != nil {
		failService(c, h.log, err)
		return
	}
	def, err := h.assessments.Definition(ctx, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"assessment": def})
}

// SetActive godoc
// PATCH /api/v1/instructor/assessments/:id/active
// Toggles the global activation flag.
func (h *AssessmentHandler) SetActive(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.SetActiveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.assessments.SetActive(c.Request.Context(), claims.UserID, id, *req.Active); err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"global_active": *req.Active})
}

// ListOverrides godoc
// GET /api/v1/instructor/assessments/:id/overrides
func (h *AssessmentHandler) ListOverrides(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	list, err := h.access.ListOverrides(c.Request.Context(), claims.UserID, id)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"overrides": list})
}

// SetOverride godoc
// PUT /api/v1/instructor/assessments/:id/overrides
// Sets a student's override; "active": null clears it.
func (h *AssessmentHandler) SetOverride(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.SetOverrideRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	o, err := h.access.SetOverride(c.Request.Context(), claims.UserID, id, &req)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"override": o})
}

// GetResults godoc
// GET /api/v1/instructor/assessments/:id/results
// Returns paginated attempts with their scores.
func (h *AssessmentHandler) GetResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	results, pagination, err := h.attempts.Results(c.Request.Context(), claims.UserID, id, page, perPage)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": results}, pagination)
}
