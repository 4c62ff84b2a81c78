package worker

import (
	"context"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
)

// ExpirySweepBatch bounds how many attempts one sweep finalizes.
const ExpirySweepBatch = 200

// Sweeper finalizes attempts whose budget elapsed without a client finalize.
type Sweeper interface {
	SweepExpired(ctx context.Context, grace time.Duration, limit int) (int, error)
}

// ExpiryWorker periodically seals abandoned attempts so their results exist even when the
// student closed the tab before time ran out.
type ExpiryWorker struct {
	sweeper  Sweeper
	clk      clock.Clock
	interval time.Duration
	grace    time.Duration
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(sweeper Sweeper, clk clock.Clock, interval, grace time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		sweeper:  sweeper,
		clk:      clk,
		interval: interval,
		grace:    grace,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start sweeps every interval until ctx is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Dur("grace", w.grace).Msg("Worker started")

	ticker := w.clk.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep keeps going while full batches come back, so a backlog clears within one tick.
func (w *ExpiryWorker) sweep(ctx context.Context) {
	total := 0
	for ctx.Err() == nil {
		sealed, err := w.sweeper.SweepExpired(ctx, w.grace, ExpirySweepBatch)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Sweep failed")
			}
			break
		}
		total += sealed
		if sealed < ExpirySweepBatch {
			break
		}
	}
	if total > 0 {
		w.log.Info().Int("sealed", total).Msg("Expired attempts finalized")
	}
}
