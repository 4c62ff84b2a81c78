package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// OverrideRepository handles per-student access overrides.
type OverrideRepository struct {
	pool *pgxpool.Pool
}

// NewOverrideRepository creates a new OverrideRepository.
func NewOverrideRepository(pool *pgxpool.Pool) *OverrideRepository {
	return &OverrideRepository{pool: pool}
}

// Get returns the student's override, or nil when no row exists.
func (r *OverrideRepository) Get(ctx context.Context, assessmentID uuid.UUID, studentID int) (*bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx,
		`SELECT active FROM access_overrides WHERE assessment_id = $1 AND student_id = $2`,
		assessmentID, studentID,
	).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &active, nil
}

// Set writes the override. A nil Active removes the row so the global flag applies again.
func (r *OverrideRepository) Set(ctx context.Context, o *model.AccessOverride) error {
	if o.Active == nil {
		_, err := r.pool.Exec(ctx,
			`DELETE FROM access_overrides WHERE assessment_id = $1 AND student_id = $2`,
			o.AssessmentID, o.StudentID)
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO access_overrides (assessment_id, student_id, active, updated_by)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (assessment_id, student_id) DO UPDATE
		 SET active = EXCLUDED.active, updated_by = EXCLUDED.updated_by, updated_at = NOW()
		 RETURNING updated_at`,
		o.AssessmentID, o.StudentID, *o.Active, o.UpdatedBy,
	).Scan(&o.UpdatedAt)
}

// ListByAssessment returns every override of an assessment.
func (r *OverrideRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.AccessOverride, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT assessment_id, student_id, active, COALESCE(updated_by, 0), updated_at
		 FROM access_overrides WHERE assessment_id = $1
		 ORDER BY student_id`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.AccessOverride
	for rows.Next() {
		var o model.AccessOverride
		var active bool
		if err := rows.Scan(&o.AssessmentID, &o.StudentID, &active, &o.UpdatedBy, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Active = &active
		list = append(list, o)
	}
	return list, rows.Err()
}
