// Package window plans the aggregation periods still pending for a stream.
//
// A period is one calendar day (UTC). A day only becomes eligible once it is
// fully observable: the horizon is the latest day boundary at or before the
// latest complete step boundary, so a still-accumulating day is never
// offered.
package window

import (
	"fmt"
	"time"
)

// Window is one concrete [Start, End) aggregation period. End is always
// day-aligned; Start is day-aligned except for the very first window of a
// stream, which starts exactly at the configured start date.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// AlignStep returns the latest step boundary at or before t. Boundaries are
// multiples of step counted from the Unix epoch, so alignment is stable
// across runs.
func AlignStep(t time.Time, step time.Duration) time.Time {
	return t.Truncate(step)
}

// PeriodStart returns the start of the day containing t, in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// nextPeriodEnd returns the first day boundary strictly after t.
func nextPeriodEnd(t time.Time) time.Time {
	return PeriodStart(t).AddDate(0, 0, 1)
}

// Horizon returns the latest fully observable day boundary for the given
// wall-clock time: round down to the last complete step, then down to the
// last day boundary.
func Horizon(now time.Time, step time.Duration) time.Time {
	return PeriodStart(AlignStep(now, step))
}

// Planner produces the pending windows for a stream.
type Planner struct {
	step time.Duration
}

func NewPlanner(step time.Duration) *Planner {
	return &Planner{step: step}
}

// Pending returns an iterator over every period in (checkpoint, horizon],
// in chronological order. The iterator is lazy and can be recreated from
// the same checkpoint to yield the same sequence. If the checkpoint is
// already at or past the horizon the iterator is empty.
func (p *Planner) Pending(checkpoint, now time.Time) *Iterator {
	return &Iterator{
		cursor:  checkpoint.UTC(),
		horizon: Horizon(now, p.step),
	}
}

// Iterator walks pending windows one at a time.
type Iterator struct {
	cursor  time.Time
	horizon time.Time
}

// Next returns the next pending window, or false when none remain.
func (it *Iterator) Next() (Window, bool) {
	end := nextPeriodEnd(it.cursor)
	if end.After(it.horizon) {
		return Window{}, false
	}

	w := Window{Start: it.cursor, End: end}
	it.cursor = end
	return w, true
}
