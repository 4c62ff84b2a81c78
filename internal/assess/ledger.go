package assess

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	defaultAnswerTries = 5
	flushConcurrency   = 8
)

// Ledger is the local record of an attempt's answers plus their background persistence.
//
// Record updates local state synchronously and never blocks on the network. Each question has
// at most one persistence worker in flight; a worker that finishes while a newer version of its
// answer exists sends again, so the last selection is always the one that lands. Persistence
// failures are retried with backoff and logged, never surfaced to the student. Flush is the
// only call that reports delivery failure.
type Ledger struct {
	backend    Backend
	clock      clock.Clock
	log        zerolog.Logger
	newBackOff func() backoff.BackOff
	maxTries   uint
	onConflict func(*ConflictError)

	mu        sync.Mutex
	attemptID uuid.UUID
	order     []uuid.UUID
	budgets   map[uuid.UUID]int
	entries   map[uuid.UUID]*ledgerEntry
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type ledgerEntry struct {
	record    model.AnswerRecord
	confirmed int64
	inflight  bool
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithAnswerBackOff sets the backoff policy for a single answer's delivery.
func WithAnswerBackOff(newBackOff func() backoff.BackOff, maxTries uint) LedgerOption {
	return func(l *Ledger) {
		l.newBackOff = newBackOff
		l.maxTries = maxTries
	}
}

// NewLedger creates an empty ledger for def's questions.
func NewLedger(backend Backend, def *model.AssessmentDefinition, clk clock.Clock, log zerolog.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		backend: backend,
		clock:   clk,
		log:     log.With().Str("component", "answer-ledger").Logger(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		maxTries: defaultAnswerTries,
		budgets:  make(map[uuid.UUID]int, len(def.Questions)),
		entries:  make(map[uuid.UUID]*ledgerEntry, len(def.Questions)),
	}
	for _, q := range def.Questions {
		l.order = append(l.order, q.ID)
		l.budgets[q.ID] = q.PerQuestionSeconds
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bind attaches the ledger to a started attempt. Persistence workers run under ctx.
func (l *Ledger) Bind(ctx context.Context, attemptID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attemptID = attemptID
	l.ctx, l.cancel = context.WithCancel(ctx)
}

// Seed loads answers the server already holds; they count as delivered.
func (l *Ledger) Seed(records []model.AnswerRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		if _, ok := l.budgets[r.QuestionID]; !ok || r.SelectedOptionID == nil {
			continue
		}
		l.entries[r.QuestionID] = &ledgerEntry{record: r, confirmed: r.Seq}
	}
}

// Record stores a selection and schedules its persistence. secondsRemaining is the question
// timer at the moment of selection; nil means it is unknown and the time taken is left empty.
func (l *Ledger) Record(questionID, optionID uuid.UUID, secondsRemaining *int) model.AnswerRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[questionID]
	if e == nil {
		e = &ledgerEntry{}
		l.entries[questionID] = e
	}

	// Sequence numbers are time-based so a later selection from another device still wins.
	seq := l.clock.Now().UnixNano()
	if seq <= e.record.Seq {
		seq = e.record.Seq + 1
	}
	selected := optionID
	e.record = model.AnswerRecord{
		QuestionID:       questionID,
		SelectedOptionID: &selected,
		TimeTakenSeconds: l.timeTaken(questionID, secondsRemaining),
		Seq:              seq,
	}

	if !e.inflight && l.ctx != nil && l.ctx.Err() == nil {
		e.inflight = true
		l.wg.Add(1)
		go l.persist(l.ctx, questionID)
	}
	return e.record
}

func (l *Ledger) timeTaken(questionID uuid.UUID, secondsRemaining *int) *int {
	if secondsRemaining == nil {
		return nil
	}
	taken := l.budgets[questionID] - *secondsRemaining
	if taken < 0 {
		taken = 0
	}
	return &taken
}

// Answers lists one record per question in question order. Unanswered questions have a nil
// selection.
func (l *Ledger) Answers() []model.AnswerRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.AnswerRecord, 0, len(l.order))
	for _, id := range l.order {
		if e := l.entries[id]; e != nil {
			out = append(out, e.record)
			continue
		}
		out = append(out, model.AnswerRecord{QuestionID: id})
	}
	return out
}

// Pending counts recorded answers the server has not acknowledged yet.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.record.Seq > e.confirmed {
			n++
		}
	}
	return n
}

// AnsweredIndexes returns the positions of every answered question.
func (l *Ledger) AnsweredIndexes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []int
	for i, id := range l.order {
		if e := l.entries[id]; e != nil && e.record.SelectedOptionID != nil {
			out = append(out, i)
		}
	}
	return out
}

func (l *Ledger) persist(ctx context.Context, questionID uuid.UUID) {
	defer l.wg.Done()

	for {
		l.mu.Lock()
		e := l.entries[questionID]
		if e.record.Seq <= e.confirmed || ctx.Err() != nil {
			e.inflight = false
			l.mu.Unlock()
			return
		}
		rec := e.record
		attemptID := l.attemptID
		l.mu.Unlock()

		err := l.send(ctx, attemptID, rec)

		l.mu.Lock()
		if err == nil {
			if rec.Seq > e.confirmed {
				e.confirmed = rec.Seq
			}
			l.mu.Unlock()
			continue
		}
		e.inflight = false
		l.mu.Unlock()

		if ce, ok := AsConflict(err); ok {
			l.log.Info().Str("question_id", questionID.String()).Msg("Attempt already sealed by server")
			if l.onConflict != nil {
				l.onConflict(ce)
			}
			return
		}
		if ctx.Err() == nil {
			l.log.Error().Err(err).
				Str("attempt_id", attemptID.String()).
				Str("question_id", questionID.String()).
				Msg("Failed to persist answer, will resend on flush")
		}
		return
	}
}

func (l *Ledger) send(ctx context.Context, attemptID uuid.UUID, rec model.AnswerRecord) error {
	req := model.SubmitAnswerRequest{
		AttemptID:  attemptID,
		QuestionID: rec.QuestionID,
		OptionID:   *rec.SelectedOptionID,
		TimeTaken:  rec.TimeTakenSeconds,
		Seq:        rec.Seq,
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := l.backend.Answer(ctx, req)
		if err == nil {
			return struct{}{}, nil
		}
		if IsRetryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(l.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.log.Warn().Err(err).
				Str("question_id", rec.QuestionID.String()).
				Dur("retry_in", next).
				Msg("Answer delivery failed, retrying")
		}),
	)
	return err
}

func (l *Ledger) markConfirmed(rec model.AnswerRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.entries[rec.QuestionID]; e != nil && rec.Seq > e.confirmed {
		e.confirmed = rec.Seq
	}
}

// Flush stops background persistence and synchronously delivers every unacknowledged answer.
// It returns the first delivery error; calling it again resends whatever is still pending.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()

	l.mu.Lock()
	attemptID := l.attemptID
	var pending []model.AnswerRecord
	for _, id := range l.order {
		e := l.entries[id]
		if e != nil && e.record.SelectedOptionID != nil && e.record.Seq > e.confirmed {
			pending = append(pending, e.record)
		}
	}
	l.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flushConcurrency)
	for _, rec := range pending {
		g.Go(func() error {
			if err := l.send(gctx, attemptID, rec); err != nil {
				return err
			}
			l.markConfirmed(rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Flush failed")
		return err
	}
	return nil
}

// Close stops background persistence and waits for workers to exit.
func (l *Ledger) Close() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
}
