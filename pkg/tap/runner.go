// Package tap drives the extraction pipeline: for every configured stream,
// plan the pending periods, fetch their samples in batches, aggregate, emit
// records and advance the checkpoint.
package tap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meshcloud/tap-prometheus/pkg/aggregate"
	"github.com/meshcloud/tap-prometheus/pkg/checkpoint"
	"github.com/meshcloud/tap-prometheus/pkg/config"
	"github.com/meshcloud/tap-prometheus/pkg/emit"
	"github.com/meshcloud/tap-prometheus/pkg/log"
	"github.com/meshcloud/tap-prometheus/pkg/schedule"
	"github.com/meshcloud/tap-prometheus/pkg/source"
	"github.com/meshcloud/tap-prometheus/pkg/window"
)

// Runner owns one extraction run across all configured streams.
type Runner struct {
	cfg     *config.Config
	src     source.Source
	store   checkpoint.Store
	emitter *emit.Emitter

	// now and the retry policy are swappable for tests.
	now           func() time.Time
	maxRetries    uint64
	retryInterval time.Duration

	mu        sync.Mutex
	bookmarks map[string]emit.Bookmark
}

// New creates a runner.
func New(cfg *config.Config, src source.Source, store checkpoint.Store, emitter *emit.Emitter) *Runner {
	return &Runner{
		cfg:       cfg,
		src:       src,
		store:     store,
		emitter:   emitter,
		now:       time.Now,
		bookmarks: make(map[string]emit.Bookmark),
	}
}

// Run syncs every stream. Streams are independent: they run concurrently
// and one stream failing does not stop the others. The first failure is
// returned after all streams have finished.
func (r *Runner) Run(ctx context.Context) error {
	// Declare all schemas up front, before any records.
	for _, m := range r.cfg.Metrics {
		if err := r.emitter.Schema(m.Name, m.Labels); err != nil {
			return err
		}
	}

	var g errgroup.Group
	for _, m := range r.cfg.Metrics {
		g.Go(func() error {
			if err := r.syncStream(ctx, m); err != nil {
				log.Logger.Errorw("stream failed", "stream", m.Name, "error", err)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// syncStream processes every pending period of one stream in order. A
// period either fully succeeds (records emitted, checkpoint advanced) or
// fully fails, leaving the checkpoint where it was.
func (r *Runner) syncStream(ctx context.Context, m config.Stream) error {
	cp, ok, err := r.store.Load(m.Name)
	if err != nil {
		return err
	}
	if !ok {
		cp = r.cfg.StartDate
	}

	step := time.Duration(m.Step)
	log.Logger.Infow("syncing stream",
		"stream", m.Name, "query", m.Query, "checkpoint", cp.Format(time.RFC3339),
		"step", step.String(), "batch", m.Batch)

	sched := schedule.New(r.src, schedule.Config{
		Step:            step,
		MaxPoints:       m.Batch,
		MaxRetries:      r.maxRetries,
		InitialInterval: r.retryInterval,
	})
	it := window.NewPlanner(step).Pending(cp, r.now())

	periods, records := 0, 0
	for {
		// Cancellation is honored between periods and between batches,
		// never mid-reduction.
		if err := ctx.Err(); err != nil {
			return err
		}

		w, more := it.Next()
		if !more {
			break
		}

		n, err := r.syncWindow(ctx, m, sched, w)
		if err != nil {
			return fmt.Errorf("stream %q window %s: %w", m.Name, w, err)
		}
		periods++
		records += n
	}

	log.Logger.Infow("stream synced", "stream", m.Name, "periods", periods, "records", records)
	return nil
}

func (r *Runner) syncWindow(ctx context.Context, m config.Stream, sched *schedule.Scheduler, w window.Window) (int, error) {
	agg := aggregate.New(m.Aggregations)

	if err := sched.FetchWindow(ctx, m.Query, w, agg.Observe); err != nil {
		return 0, err
	}

	results := agg.Results(w.End)
	if len(results) == 0 {
		log.Logger.Warnw("query returned no samples for period", "stream", m.Name, "window", w.String())
	}

	// Emit, durably persist, then report the period complete. A crash
	// between emission and persistence re-emits the same period on
	// restart; it never skips one.
	if err := r.emitter.Results(m.Name, results, r.now()); err != nil {
		return 0, err
	}
	if err := r.store.Advance(m.Name, w.End); err != nil {
		return 0, err
	}
	if err := r.emitter.State(r.advanceBookmark(m.Name, w.End)); err != nil {
		return 0, err
	}

	return len(results), nil
}

// advanceBookmark records the stream's new boundary and returns a snapshot
// of all bookmarks for the STATE message.
func (r *Runner) advanceBookmark(stream string, boundary time.Time) emit.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bookmarks[stream] = emit.Bookmark{StartDate: boundary.UTC().Format(time.RFC3339)}

	snapshot := make(map[string]emit.Bookmark, len(r.bookmarks))
	for k, v := range r.bookmarks {
		snapshot[k] = v
	}
	return emit.State{Bookmarks: snapshot}
}
