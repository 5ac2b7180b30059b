package timer

import (
	"context"
	"log/slog"
	"time"

	"github.com/slxcharge/slxcharge/pkg/log"
)

// Timer is a single-shot timer. Scheduling it again replaces the pending
// instance, and a callback that was already on its way when the timer was
// cancelled or rescheduled is dropped.
type Timer struct {
	clock    Clock
	name     string
	wait     time.Duration
	callback func(ctx context.Context)

	gen      uint64
	stop     func() bool
	deadline time.Time
}

// New returns an unscheduled timer that calls callback wait after Schedule.
func New(clock Clock, name string, wait time.Duration, callback func(ctx context.Context)) *Timer {
	return &Timer{
		clock:    clock,
		name:     name,
		wait:     wait,
		callback: callback,
	}
}

// SetWait changes the default delay used by Schedule. A pending instance is
// not affected.
func (t *Timer) SetWait(wait time.Duration) {
	t.wait = wait
}

// Schedule (re)arms the timer with its default delay.
func (t *Timer) Schedule(ctx context.Context) {
	t.ScheduleIn(ctx, t.wait)
}

// ScheduleIn (re)arms the timer to fire after d.
func (t *Timer) ScheduleIn(ctx context.Context, d time.Duration) {
	t.reset()
	t.gen++
	gen := t.gen
	t.deadline = t.clock.Now().Add(d)
	// the callback outlives the request that scheduled it
	ctx = context.WithoutCancel(ctx)
	t.stop = t.clock.AfterFunc(d, func() {
		if gen != t.gen || t.stop == nil {
			return
		}
		t.stop = nil
		t.deadline = time.Time{}
		log.Ctx(ctx).DebugContext(ctx, "timer fired", slog.String("timer", t.name))
		t.callback(ctx)
	})
	log.Ctx(ctx).DebugContext(
		ctx,
		"timer scheduled",
		slog.String("timer", t.name),
		slog.Duration("in", d),
	)
}

// Cancel stops the pending instance, if any.
func (t *Timer) Cancel(ctx context.Context) {
	if t.stop == nil {
		return
	}
	t.reset()
	log.Ctx(ctx).DebugContext(ctx, "timer cancelled", slog.String("timer", t.name))
}

// Pending reports whether the timer is armed.
func (t *Timer) Pending() bool {
	return t.stop != nil
}

// Deadline returns when the pending instance fires or the zero time.
func (t *Timer) Deadline() time.Time {
	return t.deadline
}

func (t *Timer) reset() {
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.gen++
	t.deadline = time.Time{}
}
