// Package schedule slices an aggregation window into bounded fetch ranges
// and drives the sample source over them.
//
// Ranges are fetched sequentially, never concurrently: backend load stays
// predictable and a failing range can be retried without re-fetching the
// ones that already succeeded. A range that still fails after the retry
// budget fails the whole window; the caller leaves the stream's checkpoint
// untouched so the window is retried on the next run.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meshcloud/tap-prometheus/pkg/log"
	"github.com/meshcloud/tap-prometheus/pkg/source"
	"github.com/meshcloud/tap-prometheus/pkg/window"
)

// Default retry policy for a single fetch range.
const (
	DefaultMaxRetries      = 4
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// Config holds scheduler settings.
type Config struct {
	// Step is the sampling resolution of the stream.
	Step time.Duration

	// MaxPoints is the maximum number of steps fetched per request.
	MaxPoints int

	// MaxRetries bounds the retries of one failing range (0 = default).
	MaxRetries uint64

	// InitialInterval seeds the exponential backoff (0 = default).
	InitialInterval time.Duration
}

// Range is one contiguous half-open [Start, End) slice of a window,
// covering at most MaxPoints steps.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// Scheduler fetches all samples of a window in bounded batches.
type Scheduler struct {
	src source.Source
	cfg Config
}

// New creates a scheduler.
func New(src source.Source, cfg Config) *Scheduler {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	return &Scheduler{src: src, cfg: cfg}
}

// Ranges splits w into contiguous sub-ranges of at most MaxPoints steps,
// covering the window exactly with no gaps or overlaps.
func (s *Scheduler) Ranges(w window.Window) []Range {
	batch := time.Duration(s.cfg.MaxPoints) * s.cfg.Step

	var ranges []Range
	for cursor := w.Start; cursor.Before(w.End); {
		end := cursor.Add(batch)
		if end.After(w.End) {
			end = w.End
		}
		ranges = append(ranges, Range{Start: cursor, End: end})
		cursor = end
	}

	return ranges
}

// FetchWindow fetches every range of w sequentially and hands each decoded
// batch to observe. Cancellation is honored between ranges.
func (s *Scheduler) FetchWindow(ctx context.Context, query string, w window.Window, observe func([]source.Series)) error {
	ranges := s.Ranges(w)

	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Logger.Debugw("fetching range",
			"query", query, "range", r.String(), "batch", i+1, "batches", len(ranges))

		series, err := s.fetchRange(ctx, query, r)
		if err != nil {
			return fmt.Errorf("range %s: %w", r, err)
		}

		observe(series)
	}

	return nil
}

// fetchRange queries one range with bounded exponential backoff. The range
// is half-open but the backend API is end-inclusive, so the request ends
// one step before r.End: the sample at r.End belongs to the next range.
func (s *Scheduler) fetchRange(ctx context.Context, query string, r Range) ([]source.Series, error) {
	last := r.End.Add(-s.cfg.Step)
	if last.Before(r.Start) {
		last = r.Start
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialInterval
	bo.MaxInterval = DefaultMaxInterval

	attempt := 0
	return backoff.RetryWithData(func() ([]source.Series, error) {
		attempt++
		series, err := s.src.FetchRange(ctx, query, r.Start, last, s.cfg.Step)
		if err != nil {
			log.Logger.Warnw("fetch failed",
				"query", query, "range", r.String(), "attempt", attempt, "error", err)
		}
		return series, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxRetries), ctx))
}
