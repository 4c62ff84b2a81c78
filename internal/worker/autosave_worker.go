package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

const (
	AutosaveBatchSize    = 100
	AutosaveBatchTimeout = time.Second
	AutosavePollTimeout  = time.Second
	autosaveMaxTries     = 4
)

// AnswerBatchStore is the persistence the autosave worker needs.
type AnswerBatchStore interface {
	UpsertBatch(ctx context.Context, rows []repository.AnswerRow) error
}

// AutosaveWorker consumes persist_answers_queue and upserts answers to PostgreSQL in batches.
// The seq guard in the upsert makes replays and out-of-order batches harmless.
type AutosaveWorker struct {
	store      AnswerBatchStore
	rdb        *redis.Client
	log        zerolog.Logger
	newBackOff func() backoff.BackOff
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store AnswerBatchStore, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "autosave_worker").Logger(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// queuedAnswer keeps the raw payload so a failed batch can be requeued byte for byte.
type queuedAnswer struct {
	raw string
	row repository.AnswerRow
}

type answerKey struct {
	attemptID  uuid.UUID
	questionID uuid.UUID
}

// Start runs the worker loop until ctx is cancelled, then drains the queue.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]queuedAnswer, 0, AutosaveBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AutosaveBatchSize || time.Since(lastFlush) >= AutosaveBatchTimeout) {
			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.flush(drainCtx, batch)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, AutosavePollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error")
				sleepCtx(ctx, AutosavePollTimeout)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}
		if qa, ok := w.decode(ctx, item[1]); ok {
			batch = append(batch, qa)
		}
	}
}

// decode parses one queue payload. Undecodable payloads go to the dead queue.
func (w *AutosaveWorker) decode(ctx context.Context, raw string) (queuedAnswer, bool) {
	var row repository.AnswerRow
	err := json.Unmarshal([]byte(raw), &row)
	if err == nil && (row.AttemptID == uuid.Nil || row.QuestionID == uuid.Nil) {
		err = errors.New("payload is missing attempt or question id")
	}
	if err != nil {
		w.log.Error().Err(err).Msg("Invalid answer payload, moving to dead queue")
		w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersDeadQueue, raw)
		return queuedAnswer{}, false
	}
	return queuedAnswer{raw: raw, row: row}, true
}

// flush writes one batch, retrying with backoff. A batch that still fails is pushed back onto
// the queue so no answer is lost.
func (w *AutosaveWorker) flush(ctx context.Context, batch []queuedAnswer) {
	if len(batch) == 0 {
		return
	}
	rows := dedupe(batch)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.store.UpsertBatch(ctx, rows)
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxTries(autosaveMaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.log.Warn().Err(err).Dur("retry_in", next).Int("rows", len(rows)).Msg("Batch upsert failed, retrying")
		}),
	)
	if err == nil {
		w.log.Debug().Int("rows", len(rows)).Int("queued", len(batch)).Msg("Batch persisted")
		return
	}

	w.log.Error().Err(err).Int("rows", len(rows)).Msg("Batch upsert failed, requeueing")
	raws := make([]interface{}, len(batch))
	for i, qa := range batch {
		raws[i] = qa.raw
	}
	// The caller's ctx may be done; requeueing must still happen.
	if err := w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistAnswersQueue, raws...).Err(); err != nil {
		w.log.Error().Err(err).Int("count", len(raws)).Msg("Requeue failed, answers remain in the Redis hashes only")
	}
}

// dedupe keeps the highest seq per (attempt, question), preserving first-seen order.
func dedupe(batch []queuedAnswer) []repository.AnswerRow {
	index := make(map[answerKey]int, len(batch))
	rows := make([]repository.AnswerRow, 0, len(batch))
	for _, qa := range batch {
		k := answerKey{attemptID: qa.row.AttemptID, questionID: qa.row.QuestionID}
		if i, ok := index[k]; ok {
			if qa.row.Seq > rows[i].Seq {
				rows[i] = qa.row
			}
			continue
		}
		index[k] = len(rows)
		rows = append(rows, qa.row)
	}
	return rows
}

// drain persists everything still queued before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		raws, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistAnswersQueue, AutosaveBatchSize).Result()
		if err != nil || len(raws) == 0 {
			break
		}

		batch := make([]queuedAnswer, 0, len(raws))
		for _, raw := range raws {
			if qa, ok := w.decode(ctx, raw); ok {
				batch = append(batch, qa)
			}
		}
		if err := w.store.UpsertBatch(ctx, dedupe(batch)); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			for _, qa := range batch {
				w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, qa.raw)
			}
			break
		}
		drained += len(batch)
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
