package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/model"
)

var ErrDuplicateEmail = errors.New("instructor with this email already exists")

// InstructorRepository handles instructor data access.
type InstructorRepository struct {
	pool *pgxpool.Pool
}

// NewInstructorRepository creates a new InstructorRepository.
func NewInstructorRepository(pool *pgxpool.Pool) *InstructorRepository {
	return &InstructorRepository{pool: pool}
}

// GetByID retrieves an instructor by ID.
func (r *InstructorRepository) GetByID(ctx context.Context, id int) (*model.Instructor, error) {
	i := &model.Instructor{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at FROM instructors WHERE id = $1`, id,
	).Scan(&i.ID, &i.Email, &i.Name, &i.PasswordHash, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

// GetByEmail retrieves an instructor by their unique email.
func (r *InstructorRepository) GetByEmail(ctx context.Context, email string) (*model.Instructor, error) {
	i := &model.Instructor{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at FROM instructors WHERE email = $1`, email,
	).Scan(&i.ID, &i.Email, &i.Name, &i.PasswordHash, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

// Create inserts a new instructor.
func (r *InstructorRepository) Create(ctx context.Context, i *model.Instructor) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO instructors (email, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		i.Email, i.Name, i.PasswordHash,
	).Scan(&i.ID, &i.CreatedAt)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}
