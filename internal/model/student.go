package model

import "time"

// Student is the identity attempts are keyed by. Identity is managed elsewhere; the backend
// only needs enough to authenticate.
type Student struct {
	ID           int       `json:"id"`
	NISN         string    `json:"nisn"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// StudentLoginRequest is the payload for student authentication.
type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required,min=4,max=20"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// StudentLoginResponse carries the bearer token used for the student API and the stream.
type StudentLoginResponse struct {
	Token   string   `json:"token"`
	Student *Student `json:"student"`
}
