package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// AssessmentRepository handles assessment, question and option data access.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// Create inserts the assessment with all of its questions and options in one transaction.
// Generated ids and timestamps are written back into def.
func (r *AssessmentRepository) Create(ctx context.Context, def *model.AssessmentDefinition) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO assessments (kind, name, description, starts_at, ends_at, global_active, instructor_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at, updated_at`,
			def.Kind, def.Name, def.Description, def.Schedule.Start, def.Schedule.End,
			def.GlobalActive, def.InstructorID,
		).Scan(&def.ID, &def.CreatedAt, &def.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert assessment: %w", err)
		}

		for i := range def.Questions {
			q := &def.Questions[i]
			q.OrderNum = i + 1
			err := tx.QueryRow(ctx,
				`INSERT INTO questions (assessment_id, text, per_question_seconds, attachment_url, order_num)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING id`,
				def.ID, q.Text, q.PerQuestionSeconds, q.AttachmentURL, q.OrderNum,
			).Scan(&q.ID)
			if err != nil {
				return fmt.Errorf("insert question %d: %w", q.OrderNum, err)
			}

			batch := &pgx.Batch{}
			for j, o := range q.Options {
				batch.Queue(
					`INSERT INTO options (question_id, text, is_correct, explanation, order_num)
					 VALUES ($1, $2, $3, $4, $5)
					 RETURNING id`,
					q.ID, o.Text, o.IsCorrect, o.Explanation, j+1,
				)
			}
			results := tx.SendBatch(ctx, batch)
			for j := range q.Options {
				if err := results.QueryRow().Scan(&q.Options[j].ID); err != nil {
					results.Close()
					return fmt.Errorf("insert option %d of question %d: %w", j+1, q.OrderNum, err)
				}
			}
			if err := results.Close(); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDefinition loads the assessment with its questions and options, ordered for delivery.
func (r *AssessmentRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*model.AssessmentDefinition, error) {
	def, err := r.getHeader(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.text, q.per_question_seconds, q.attachment_url, q.order_num,
		        o.id, o.text, o.is_correct, o.explanation
		 FROM questions q
		 JOIN options o ON o.question_id = q.id
		 WHERE q.assessment_id = $1
		 ORDER BY q.order_num ASC, o.order_num ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		var o model.Option
		if err := rows.Scan(&q.ID, &q.Text, &q.PerQuestionSeconds, &q.AttachmentURL, &q.OrderNum,
			&o.ID, &o.Text, &o.IsCorrect, &o.Explanation); err != nil {
			return nil, err
		}
		n := len(def.Questions)
		if n == 0 || def.Questions[n-1].ID != q.ID {
			def.Questions = append(def.Questions, q)
			n++
		}
		def.Questions[n-1].Options = append(def.Questions[n-1].Options, o)
	}
	return def, rows.Err()
}

func (r *AssessmentRepository) getHeader(ctx context.Context, id uuid.UUID) (*model.AssessmentDefinition, error) {
	def := &model.AssessmentDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, kind, name, description, starts_at, ends_at, global_active, instructor_id, created_at, updated_at
		 FROM assessments WHERE id = $1`, id,
	).Scan(&def.ID, &def.Kind, &def.Name, &def.Description, &def.Schedule.Start, &def.Schedule.End,
		&def.GlobalActive, &def.InstructorID, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// GetOwner returns the instructor id of an assessment.
func (r *AssessmentRepository) GetOwner(ctx context.Context, id uuid.UUID) (int, error) {
	var owner int
	err := r.pool.QueryRow(ctx, `SELECT instructor_id FROM assessments WHERE id = $1`, id).Scan(&owner)
	return owner, err
}

// SetActive updates the global activation flag.
func (r *AssessmentRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessments SET global_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListByInstructor returns assessment headers (without questions) authored by an instructor.
func (r *AssessmentRepository) ListByInstructor(ctx context.Context, instructorID, limit, offset int) ([]model.AssessmentDefinition, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assessments WHERE instructor_id = $1`, instructorID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, name, description, starts_at, ends_at, global_active, instructor_id, created_at, updated_at
		 FROM assessments
		 WHERE instructor_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, instructorID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []model.AssessmentDefinition
	for rows.Next() {
		var d model.AssessmentDefinition
		if err := rows.Scan(&d.ID, &d.Kind, &d.Name, &d.Description, &d.Schedule.Start, &d.Schedule.End,
			&d.GlobalActive, &d.InstructorID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, d)
	}
	return list, total, rows.Err()
}

// ListOpenIDs returns ids of assessments whose window has not closed yet, for cache warming.
func (r *AssessmentRepository) ListOpenIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM assessments WHERE ends_at IS NULL OR ends_at >= NOW() - INTERVAL '1 day'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
