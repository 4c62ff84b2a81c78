package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// UserAuthenticator is what the auth endpoints need from the user service.
type UserAuthenticator interface {
	LoginStudent(ctx context.Context, req model.StudentLoginRequest) (*model.Student, string, error)
	LoginInstructor(ctx context.Context, req model.InstructorLoginRequest) (*model.Instructor, string, error)
	GetStudent(ctx context.Context, id int) (*model.Student, error)
	GetInstructor(ctx context.Context, id int) (*model.Instructor, error)
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	users UserAuthenticator
	log   zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users UserAuthenticator, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		users: users,
		log:   log.With().Str("component", "auth_handler").Logger(),
	}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates NISN + password, returns JWT.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	student, token, err := h.users.LoginStudent(c.Request.Context(), req)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, model.StudentLoginResponse{Token: token, Student: student})
}

// InstructorLogin godoc
// POST /api/v1/auth/instructor/login
// Validates email + password, returns JWT.
func (h *AuthHandler) InstructorLogin(c *gin.Context) {
	var req model.InstructorLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	instructor, token, err := h.users.LoginInstructor(c.Request.Context(), req)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, model.InstructorLoginResponse{Token: token, Instructor: instructor})
}

// GetStudentProfile godoc
// GET /api/v1/auth/student/me
// Returns the profile of the currently authenticated student.
func (h *AuthHandler) GetStudentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	student, err := h.users.GetStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		h.failProfile(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// GetInstructorProfile godoc
// GET /api/v1/auth/instructor/me
// Returns the profile of the currently authenticated instructor.
func (h *AuthHandler) GetInstructorProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	instructor, err := h.users.GetInstructor(c.Request.Context(), claims.UserID)
	if err != nil {
		h.failProfile(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"instructor": instructor})
}

func (h *AuthHandler) failProfile(c *gin.Context, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	failService(c, h.log, err)
}

var _ UserAuthenticator = (*service.UserService)(nil)
