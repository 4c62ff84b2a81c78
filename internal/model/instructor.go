package model

import "time"

// Instructor authors assessments and manages per-student access overrides.
type Instructor struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// InstructorLoginRequest is the payload for instructor authentication.
type InstructorLoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
}

// InstructorLoginResponse carries the bearer token used for the instructor API.
type InstructorLoginResponse struct {
	Token      string      `json:"token"`
	Instructor *Instructor `json:"instructor"`
}
