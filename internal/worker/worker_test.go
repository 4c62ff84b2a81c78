package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

type fakeBatchStore struct {
	mu    sync.Mutex
	err   error
	calls int
	rows  []repository.AnswerRow
}

func (f *fakeBatchStore) UpsertBatch(_ context.Context, rows []repository.AnswerRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeBatchStore) stored() []repository.AnswerRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.AnswerRow(nil), f.rows...)
}

func newTestWorker(t *testing.T, store AnswerBatchStore) (*AutosaveWorker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := NewAutosaveWorker(store, rdb, zerolog.Nop())
	w.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return w, mr
}

func row(attemptID, questionID uuid.UUID, seq int64) repository.AnswerRow {
	opt := uuid.New()
	return repository.AnswerRow{
		AttemptID:    attemptID,
		AnswerRecord: model.AnswerRecord{QuestionID: questionID, SelectedOptionID: &opt, Seq: seq},
	}
}

func queued(t *testing.T, rows ...repository.AnswerRow) []queuedAnswer {
	t.Helper()
	out := make([]queuedAnswer, len(rows))
	for i, r := range rows {
		raw, err := json.Marshal(r)
		require.NoError(t, err)
		out[i] = queuedAnswer{raw: string(raw), row: r}
	}
	return out
}

func TestDedupeKeepsHighestSeq(t *testing.T) {
	a, q1, q2 := uuid.New(), uuid.New(), uuid.New()
	batch := queued(t, row(a, q1, 5), row(a, q2, 1), row(a, q1, 9), row(a, q1, 7))

	rows := dedupe(batch)

	require.Len(t, rows, 2)
	assert.Equal(t, q1, rows[0].QuestionID)
	assert.Equal(t, int64(9), rows[0].Seq)
	assert.Equal(t, q2, rows[1].QuestionID)
}

func TestAutosaveWorker_PersistsQueuedAnswers(t *testing.T) {
	store := &fakeBatchStore{}
	w, mr := newTestWorker(t, store)

	a := uuid.New()
	for _, r := range []repository.AnswerRow{row(a, uuid.New(), 1), row(a, uuid.New(), 2)} {
		raw, err := json.Marshal(r)
		require.NoError(t, err)
		_, err = mr.RPush(config.WorkerKey.PersistAnswersQueue, string(raw))
		require.NoError(t, err)
	}
	_, err := mr.RPush(config.WorkerKey.PersistAnswersQueue, "{broken")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(store.stored()) == 2 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	dead, err := mr.List(config.WorkerKey.PersistAnswersDeadQueue)
	require.NoError(t, err)
	assert.Equal(t, []string{"{broken"}, dead)
}

func TestAutosaveWorker_FailedBatchIsRequeued(t *testing.T) {
	store := &fakeBatchStore{err: errors.New("connection reset")}
	w, mr := newTestWorker(t, store)

	batch := queued(t, row(uuid.New(), uuid.New(), 1), row(uuid.New(), uuid.New(), 2))
	w.flush(context.Background(), batch)

	assert.Equal(t, autosaveMaxTries, store.calls)
	requeued, err := mr.List(config.WorkerKey.PersistAnswersQueue)
	require.NoError(t, err)
	assert.Equal(t, []string{batch[0].raw, batch[1].raw}, requeued)
}

func TestAutosaveWorker_DrainEmptiesQueue(t *testing.T) {
	store := &fakeBatchStore{}
	w, mr := newTestWorker(t, store)

	for i := 0; i < AutosaveBatchSize+5; i++ {
		raw, err := json.Marshal(row(uuid.New(), uuid.New(), int64(i)))
		require.NoError(t, err)
		_, err = mr.RPush(config.WorkerKey.PersistAnswersQueue, string(raw))
		require.NoError(t, err)
	}

	w.drain(context.Background())

	assert.Len(t, store.stored(), AutosaveBatchSize+5)
	assert.False(t, mr.Exists(config.WorkerKey.PersistAnswersQueue))
}

type fakeSweeper struct {
	mu      sync.Mutex
	results []int
	calls   int
}

func (f *fakeSweeper) SweepExpired(_ context.Context, _ time.Duration, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return 0, nil
	}
	n := f.results[0]
	f.results = f.results[1:]
	return n, nil
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestExpiryWorker_SweepsUntilBacklogClears(t *testing.T) {
	sw := &fakeSweeper{results: []int{ExpirySweepBatch, ExpirySweepBatch, 3}}
	w := NewExpiryWorker(sw, clock.NewMock(), time.Second, 15*time.Second, zerolog.Nop())

	w.sweep(context.Background())

	assert.Equal(t, 3, sw.callCount())
}

func TestExpiryWorker_SweepsOnEveryTick(t *testing.T) {
	sw := &fakeSweeper{}
	clk := clock.NewMock()
	w := NewExpiryWorker(sw, clk, 30*time.Second, 15*time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// The ticker is registered asynchronously; keep advancing until the first sweep runs.
	require.Eventually(t, func() bool {
		clk.Add(30 * time.Second)
		return sw.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
