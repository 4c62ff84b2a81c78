package availability

import (
	"context"
	"time"

	"github.com/facebookgo/clock"
)

// RefreshInterval is how often a displayed state is re-evaluated. NOT_YET_OPEN turns into
// OPEN without any user action, so the display must tick.
const RefreshInterval = time.Second

// Watch evaluates immediately and then once per RefreshInterval until ctx is cancelled or
// stop returns true for an emitted result. The channel is closed when watching ends.
func Watch(ctx context.Context, clk clock.Clock, eval func(now time.Time) Result, stop func(Result) bool) <-chan Result {
	out := make(chan Result, 1)

	go func() {
		defer close(out)

		ticker := clk.Ticker(RefreshInterval)
		defer ticker.Stop()

		emit := func(now time.Time) bool {
			r := eval(now)
			select {
			case out <- r:
			case <-ctx.Done():
				return false
			}
			return stop == nil || !stop(r)
		}

		if !emit(clk.Now()) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if !emit(now) {
					return
				}
			}
		}
	}()

	return out
}

// UntilStartable is a stop predicate for Watch that ends once start may be offered or the
// state can no longer change on its own.
func UntilStartable(r Result) bool {
	return r.State != StateNotYetOpen
}
