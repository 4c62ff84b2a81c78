package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// AnswerRepository handles per-question answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// AnswerRow is one answer with the attempt it belongs to, as carried by the autosave queue.
type AnswerRow struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	model.AnswerRecord
}

// Upsert writes the answer unless a row with a higher or equal seq is already stored.
func (r *AnswerRepository) Upsert(ctx context.Context, attemptID uuid.UUID, rec model.AnswerRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_option_id, time_taken_seconds, seq)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option_id = EXCLUDED.selected_option_id,
		     time_taken_seconds = EXCLUDED.time_taken_seconds,
		     seq = EXCLUDED.seq,
		     updated_at = NOW()
		 WHERE attempt_answers.seq < EXCLUDED.seq`,
		attemptID, rec.QuestionID, rec.SelectedOptionID, rec.TimeTakenSeconds, rec.Seq)
	return err
}

// UpsertBatch writes many answers in one statement with the same seq rule as Upsert.
// Rows for the same (attempt, question) must be deduplicated by the caller.
func (r *AnswerRepository) UpsertBatch(ctx context.Context, rows []AnswerRow) error {
	n := len(rows)
	if n == 0 {
		return nil
	}

	attemptIDs := make([]uuid.UUID, n)
	questionIDs := make([]uuid.UUID, n)
	optionIDs := make([]*uuid.UUID, n)
	timeTaken := make([]*int, n)
	seqs := make([]int64, n)
	for i, row := range rows {
		attemptIDs[i] = row.AttemptID
		questionIDs[i] = row.QuestionID
		optionIDs[i] = row.SelectedOptionID
		timeTaken[i] = row.TimeTakenSeconds
		seqs[i] = row.Seq
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_option_id, time_taken_seconds, seq)
		 SELECT * FROM UNNEST($1::uuid[], $2::uuid[], $3::uuid[], $4::int[], $5::bigint[])
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option_id = EXCLUDED.selected_option_id,
		     time_taken_seconds = EXCLUDED.time_taken_seconds,
		     seq = EXCLUDED.seq,
		     updated_at = NOW()
		 WHERE attempt_answers.seq < EXCLUDED.seq`,
		attemptIDs, questionIDs, optionIDs, timeTaken, seqs)
	return err
}

// ListByAttempt returns every stored answer of an attempt.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.AnswerRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, selected_option_id, time_taken_seconds, seq
		 FROM attempt_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.AnswerRecord
	for rows.Next() {
		var rec model.AnswerRecord
		if err := rows.Scan(&rec.QuestionID, &rec.SelectedOptionID, &rec.TimeTakenSeconds, &rec.Seq); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
