// Package checkpoint tracks, per stream, the end boundary of the last
// fully processed period.
//
// A checkpoint only ever moves forward. It is advanced after a period's
// records have been emitted and must be durable before the state message
// that reports the period as complete, so a crash in between can only
// cause a harmless re-emission on restart, never a silent skip.
package checkpoint

import (
	"fmt"
	"time"
)

// Store holds one checkpoint per stream.
// Implementations: badger (durable), memory (testing).
type Store interface {
	// Load returns the stored checkpoint for the stream. ok is false when
	// no checkpoint has been persisted yet.
	Load(stream string) (t time.Time, ok bool, err error)

	// Advance moves the stream's checkpoint to boundary. Moving backward
	// fails with a *RegressionError; advancing to the currently stored
	// value is a no-op.
	Advance(stream string, boundary time.Time) error

	// Close cleanly shuts down the store.
	Close() error
}

// RegressionError reports an attempt to move a checkpoint backward. This is
// a caller bug or corrupted persisted state, never expected in normal
// operation, and is fatal for the stream's run.
type RegressionError struct {
	Stream string
	Stored time.Time
	Asked  time.Time
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("checkpoint regression for stream %q: stored %s, asked to move back to %s",
		e.Stream, e.Stored.Format(time.RFC3339), e.Asked.Format(time.RFC3339))
}
