package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, assessment_id, student_id, status, budget_seconds, started_at, completed_at, score, summary`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var summary []byte
	if err := row.Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.Status, &a.BudgetSeconds,
		&a.StartedAt, &a.CompletedAt, &a.Score, &summary); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		a.Summary = &model.ResultSummary{}
		if err := json.Unmarshal(summary, a.Summary); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Create inserts a new IN_PROGRESS attempt. When the student already has an attempt for this
// assessment the insert is skipped and pgx.ErrNoRows is returned.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	a.Status = model.AttemptStatusInProgress
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (assessment_id, student_id, status, budget_seconds)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (assessment_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.AssessmentID, a.StudentID, a.Status, a.BudgetSeconds,
	).Scan(&a.ID, &a.StartedAt)
}

// GetByID retrieves an attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetByAssessmentAndStudent retrieves the attempt for an assessment-student pair.
func (r *AttemptRepository) GetByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE assessment_id = $1 AND student_id = $2`,
		assessmentID, studentID))
}

// Complete seals an IN_PROGRESS attempt with its summary. It reports false when the attempt was
// already completed; completed_at and summary are never overwritten.
func (r *AttemptRepository) Complete(ctx context.Context, id uuid.UUID, sum *model.ResultSummary) (bool, error) {
	raw, err := json.Marshal(sum)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, completed_at = $2, score = $3, summary = $4
		 WHERE id = $5 AND status = $6`,
		model.AttemptStatusCompleted, sum.CompletedAt, sum.Score, raw, id, model.AttemptStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListExpired returns IN_PROGRESS attempts whose budget plus grace elapsed before now.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE status = $1
		   AND started_at + make_interval(secs => budget_seconds + $2) <= $3
		 ORDER BY started_at ASC
		 LIMIT $4`,
		model.AttemptStatusInProgress, grace.Seconds(), now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// ListResults returns one row per student attempt for an assessment, paginated.
func (r *AttemptRepository) ListResults(ctx context.Context, assessmentID uuid.UUID, limit, offset int) ([]model.AttemptResult, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE assessment_id = $1`, assessmentID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT a.id, s.id, s.nisn, s.name, a.status, a.score, a.started_at, a.completed_at
		 FROM attempts a
		 JOIN students s ON a.student_id = s.id
		 WHERE a.assessment_id = $1
		 ORDER BY s.name ASC
		 LIMIT $2 OFFSET $3`, assessmentID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []model.AttemptResult
	for rows.Next() {
		var res model.AttemptResult
		if err := rows.Scan(&res.AttemptID, &res.StudentID, &res.NISN, &res.Name,
			&res.Status, &res.Score, &res.StartedAt, &res.CompletedAt); err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}
