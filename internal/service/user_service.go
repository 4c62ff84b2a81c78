package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// UserService looks up and registers students and instructors.
type UserService struct {
	students    *repository.StudentRepository
	instructors *repository.InstructorRepository
	auth        *AuthService
}

// NewUserService creates a new UserService.
func NewUserService(students *repository.StudentRepository, instructors *repository.InstructorRepository, auth *AuthService) *UserService {
	return &UserService{students: students, instructors: instructors, auth: auth}
}

// LoginStudent verifies NISN + password and returns the student with a fresh token.
func (s *UserService) LoginStudent(ctx context.Context, req model.StudentLoginRequest) (*model.Student, string, error) {
	student, err := s.students.GetByNISN(ctx, req.NISN)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("get student: %w", err)
	}
	if err := s.auth.CheckPassword(student.PasswordHash, req.Password); err != nil {
		return nil, "", err
	}
	token, err := s.auth.GenerateStudentToken(student.ID)
	if err != nil {
		return nil, "", err
	}
	return student, token, nil
}

// LoginInstructor verifies email + password and returns the instructor with a fresh token.
func (s *UserService) LoginInstructor(ctx context.Context, req model.InstructorLoginRequest) (*model.Instructor, string, error) {
	instructor, err := s.instructors.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("get instructor: %w", err)
	}
	if err := s.auth.CheckPassword(instructor.PasswordHash, req.Password); err != nil {
		return nil, "", err
	}
	token, err := s.auth.GenerateInstructorToken(instructor.ID)
	if err != nil {
		return nil, "", err
	}
	return instructor, token, nil
}

// GetStudent retrieves a student by ID.
func (s *UserService) GetStudent(ctx context.Context, id int) (*model.Student, error) {
	return s.students.GetByID(ctx, id)
}

// GetInstructor retrieves an instructor by ID.
func (s *UserService) GetInstructor(ctx context.Context, id int) (*model.Instructor, error) {
	return s.instructors.GetByID(ctx, id)
}

// CreateInstructor hashes the password and stores a new instructor.
func (s *UserService) CreateInstructor(ctx context.Context, email, name, password string) (*model.Instructor, error) {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	i := &model.Instructor{Email: email, Name: name, PasswordHash: hash}
	if err := s.instructors.Create(ctx, i); err != nil {
		return nil, err
	}
	return i, nil
}

// CreateStudent hashes the password and stores a new student.
func (s *UserService) CreateStudent(ctx context.Context, nisn, name, password string) (*model.Student, error) {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	st := &model.Student{NISN: nisn, Name: name, PasswordHash: hash}
	if err := s.students.Create(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
