package trader

import (
	"context"
	"time"

	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"

	"go.uber.org/zap"
)

// ScheduleOffset delays each cycle past the candle boundary so the closed candle is available.
const ScheduleOffset = time.Minute

// Run executes one cycle immediately and then one per interval, aligned to the interval boundary
// plus ScheduleOffset, until ctx is cancelled. Cycle failures are logged and notified only.
func (t *Trader) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.params.Interval
	}

	t.cycle(ctx)
	for {
		wait := nextRun(t.now(), interval, ScheduleOffset).Sub(t.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("trader stopped")
			return
		case <-timer.C:
			t.cycle(ctx)
		}
	}
}

func (t *Trader) cycle(ctx context.Context) {
	if err := t.RunCycle(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		infrastructure.TraderCycles.WithLabelValues(t.market, "error").Inc()
		t.logger.Error("error in trading cycle", zap.Error(err))
		t.notify("Error in bot: " + err.Error())
		t.publish(ctx, model.TraderEvent{Type: model.EventError, Time: t.now(), Reason: err.Error()})
		return
	}
	infrastructure.TraderCycles.WithLabelValues(t.market, "ok").Inc()
}

// nextRun is the first interval boundary plus offset strictly after now.
func nextRun(now time.Time, interval, offset time.Duration) time.Time {
	next := now.Truncate(interval).Add(offset)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
