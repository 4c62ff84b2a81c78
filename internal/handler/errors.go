package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// failService maps a service error to its HTTP status and code. A completed attempt is a 409
// that still carries the stored summary so the client can show it.
func failService(c *gin.Context, log zerolog.Logger, err error) {
	var completed *service.CompletedError
	if errors.As(err, &completed) {
		response.FailWithData(c, http.StatusConflict, response.ErrAttemptCompleted, gin.H{
			"attempt_id": completed.AttemptID,
			"summary":    completed.Summary,
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrAssessmentNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotFound)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrNotAssessmentOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotAssessmentOwner)
	case errors.Is(err, service.ErrNotStartable):
		response.Fail(c, http.StatusForbidden, response.ErrAssessmentNotAvailable)
	case errors.Is(err, service.ErrAssessmentMalformed):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrAssessmentMalformed)
	case errors.Is(err, service.ErrQuestionMismatch):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionMismatch)
	case errors.Is(err, service.ErrOptionMismatch):
		response.Fail(c, http.StatusBadRequest, response.ErrOptionMismatch)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
	default:
		l := response.Logger(c, log)
		l.Error().Err(err).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// paramID parses a uuid path parameter, writing INVALID_ID on failure.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// paramKind parses the ":kind" slug ("quizzes" or "evaluations").
func paramKind(c *gin.Context) (model.AssessmentKind, bool) {
	kind, ok := model.KindFromSlug(c.Param("kind"))
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrInvalidKind)
		return "", false
	}
	return kind, true
}
