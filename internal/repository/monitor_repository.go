package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-assessment/internal/config"
)

// MonitorRepository provides data access for the live assessment monitor.
// It combines PostgreSQL (persisted answers) and Redis (answers not yet drained by the autosave worker).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// InProgressAttempt identifies one running attempt.
type InProgressAttempt struct {
	AttemptID uuid.UUID
	StudentID int
}

// GetInProgressAttempts returns every IN_PROGRESS attempt of the given assessment.
func (r *MonitorRepository) GetInProgressAttempts(ctx context.Context, assessmentID uuid.UUID) ([]InProgressAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id FROM attempts WHERE assessment_id = $1 AND status = 'IN_PROGRESS'`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []InProgressAttempt
	for rows.Next() {
		var a InProgressAttempt
		if err := rows.Scan(&a.AttemptID, &a.StudentID); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// GetAnsweredCounts returns the count of answered questions per student from PostgreSQL.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, assessmentID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.student_id, COUNT(*)
		 FROM attempt_answers aa
		 JOIN attempts a ON a.id = aa.attempt_id
		 WHERE a.assessment_id = $1 AND aa.selected_option_id IS NOT NULL
		 GROUP BY a.student_id`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}

// GetLiveAnsweredCounts returns HLEN of each running attempt's answer hash in one pipeline.
func (r *MonitorRepository) GetLiveAnsweredCounts(ctx context.Context, attempts []InProgressAttempt) (map[int]int64, error) {
	counts := make(map[int]int64, len(attempts))
	if len(attempts) == 0 {
		return counts, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(attempts))
	for i, a := range attempts {
		cmds[i] = pipe.HLen(ctx, config.CacheKey.AttemptAnswersKey(a.AttemptID.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for i, a := range attempts {
		counts[a.StudentID] = cmds[i].Val()
	}
	return counts, nil
}
