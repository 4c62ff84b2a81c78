package model

import (
	"time"

	"github.com/google/uuid"
)

// AccessOverride is an instructor's per-student availability flag. A nil Active defers to the
// assessment's global activation flag.
type AccessOverride struct {
	AssessmentID uuid.UUID `json:"assessment_id"`
	StudentID    int       `json:"student_id"`
	Active       *bool     `json:"active"`
	UpdatedBy    int       `json:"updated_by,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SetOverrideRequest sets or clears (active=null) the override for one student.
type SetOverrideRequest struct {
	StudentID int   `json:"student_id" binding:"required,min=1"`
	Active    *bool `json:"active"`
}

// AccessCheckRequest asks for the authenticated student's override.
type AccessCheckRequest struct {
	AssessmentID uuid.UUID `json:"assessment_id" binding:"required"`
}

// AccessCheckResponse carries the override seed for the availability resolver and whether the
// student's attempt is already sealed (the gate checked before resolving).
type AccessCheckResponse struct {
	Override  *bool      `json:"override"`
	Completed bool       `json:"completed"`
	AttemptID *uuid.UUID `json:"attempt_id,omitempty"`
}
