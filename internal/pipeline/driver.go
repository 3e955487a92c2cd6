// Package pipeline drives one micro-batch stream from the topic to a sink.
//
// Messages are buffered into a window that is sealed on every trigger tick.
// A sealed window is transformed, optionally deduplicated, written to the
// sink as one batch, and only then recorded in the checkpoint. A crash
// between the write and the checkpoint commit replays the window, so the
// sink sees every message at least once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/airstream-go/internal/batch"
	"github.com/wegman-software/airstream-go/internal/broker"
	"github.com/wegman-software/airstream-go/internal/checkpoint"
	"github.com/wegman-software/airstream-go/internal/metrics"
	"github.com/wegman-software/airstream-go/internal/sink"
)

var (
	// ErrTopicMismatch is returned when a checkpoint belongs to another topic
	ErrTopicMismatch = errors.New("pipeline: checkpoint was written for a different topic")
	// ErrWriteFailed marks a window the sink did not accept. The driver
	// keeps the window and tries it again on the next trigger.
	ErrWriteFailed = errors.New("pipeline: window not written")
)

// Driver runs one pipeline
type Driver struct {
	opts    Options
	src     Source
	sink    sink.Sink
	store   Store
	metrics *metrics.Pipeline
	logger  *zap.Logger

	state *checkpoint.State
	arena *batch.Arena
	now   func() time.Time
}

// New creates a driver. m may be nil.
func New(opts Options, src Source, snk sink.Sink, store Store, m *metrics.Pipeline, logger *zap.Logger) *Driver {
	if opts.Name == "" {
		opts.Name = snk.Name()
	}
	if opts.Trigger <= 0 {
		opts.Trigger = 10 * time.Second
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 4096
	}
	return &Driver{
		opts:    opts,
		src:     src,
		sink:    snk,
		store:   store,
		metrics: m,
		logger:  logger.With(zap.String("pipeline", opts.Name)),
		arena:   batch.NewArena(1024),
		now:     time.Now,
	}
}

// Run consumes and writes windows until ctx is cancelled or the checkpoint
// cannot be read or committed. Sink failures are not returned: the window
// is retried until it is written. Cancellation is a clean stop and returns
// nil; the pending window is discarded and re-read on the next start.
func (d *Driver) Run(ctx context.Context) error {
	resume, err := d.loadState()
	if err != nil {
		return err
	}

	start, err := d.src.Positions(ctx, resume)
	if err != nil {
		return fmt.Errorf("pipeline %s: failed to resolve start offsets: %w", d.opts.Name, err)
	}
	if err := d.seed(start); err != nil {
		return err
	}

	msgs := make(chan broker.Message, d.opts.Buffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := d.src.Consume(gctx, start, msgs); err != nil {
			return fmt.Errorf("pipeline %s: source failed: %w", d.opts.Name, err)
		}
		return nil
	})
	g.Go(func() error {
		return d.loop(gctx, msgs)
	})
	return g.Wait()
}

// seed records the start offset of every partition the checkpoint does not
// know yet and commits it, so a restart never falls back to the beginning
// of a partition that was already being read.
func (d *Driver) seed(start map[int]int64) error {
	next, added := d.state.Seed(start)
	if !added {
		return nil
	}
	if err := d.store.Commit(next); err != nil {
		return fmt.Errorf("pipeline %s: failed to record start offsets: %w", d.opts.Name, err)
	}
	d.state = next
	d.logger.Info("Recorded start offsets", zap.Int("partitions", len(next.Offsets)))
	return nil
}

// loadState reads the checkpoint. It returns the state to resume from, or
// nil on a cold start.
func (d *Driver) loadState() (*checkpoint.State, error) {
	state, err := d.store.Load()
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		d.state = checkpoint.NewState(d.opts.Topic)
		d.logger.Info("No checkpoint found, starting from latest offsets")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("pipeline %s: failed to load checkpoint: %w", d.opts.Name, err)
	}

	if state.Topic == "" {
		state.Topic = d.opts.Topic
	}
	if state.Topic != d.opts.Topic {
		return nil, fmt.Errorf("%w: %q, want %q", ErrTopicMismatch, state.Topic, d.opts.Topic)
	}
	d.state = state
	d.logger.Info("Resuming from checkpoint",
		zap.Int64("next_batch_id", state.NextBatchID),
		zap.Int("partitions", len(state.Offsets)))
	return state.Clone(), nil
}

func (d *Driver) loop(ctx context.Context, msgs <-chan broker.Message) error {
	ticker := time.NewTicker(d.opts.Trigger)
	defer ticker.Stop()

	var window []broker.Message
	// nil while a failed window waits for its next attempt, so the source
	// blocks instead of growing the window
	in := msgs
	for {
		select {
		case <-ctx.Done():
			if len(window) > 0 {
				d.logger.Info("Discarding uncommitted window on shutdown", zap.Int("messages", len(window)))
			}
			return nil
		case m := <-in:
			window = append(window, m)
		case <-ticker.C:
			_, err := d.processWindow(ctx, window)
			switch {
			case err == nil:
				window = nil
				in = msgs
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, ErrWriteFailed):
				d.logger.Error("Window not written, retrying on next trigger",
					zap.Int64("batch_id", d.state.NextBatchID),
					zap.Int("messages", len(window)),
					zap.Error(err))
				in = nil
			default:
				return err
			}
		}
	}
}

// processWindow writes one sealed window and advances the checkpoint
func (d *Driver) processWindow(ctx context.Context, window []broker.Message) (WindowStats, error) {
	start := d.now()

	rows, stats, err := transformWindow(ctx, window, d.opts.Workers, d.logger)
	if err != nil {
		return stats, err
	}
	stats.BatchID = d.state.NextBatchID

	d.arena.Reset()
	d.arena.Add(rows...)
	out := d.arena.Rows()
	if d.opts.Dedup {
		out = d.arena.Dedup()
		stats.Duplicates = d.arena.Duplicates()
	}

	b := sink.Batch{ID: stats.BatchID, Rows: out}
	err = retry(ctx, d.opts.Retry,
		func(attempt int, err error, wait time.Duration) {
			d.metrics.ObserveRetry(d.opts.Name)
			d.logger.Warn("Sink write failed, retrying",
				zap.Int64("batch_id", b.ID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err))
		},
		func(ctx context.Context) error {
			wctx, cancel := d.writeContext(ctx)
			defer cancel()
			n, err := d.sink.Write(wctx, b)
			stats.Written = n
			return err
		})
	if err != nil {
		d.metrics.ObserveFailure(d.opts.Name)
		return stats, fmt.Errorf("%w: pipeline %s batch %d: %w", ErrWriteFailed, d.opts.Name, b.ID, err)
	}

	next := d.state.Advance(lastOffsets(window), d.now())
	if err := d.store.Commit(next); err != nil {
		d.metrics.ObserveFailure(d.opts.Name)
		return stats, fmt.Errorf("pipeline %s: checkpoint commit for batch %d failed: %w", d.opts.Name, b.ID, err)
	}
	d.state = next

	stats.Duration = d.now().Sub(start)
	d.metrics.ObserveBatch(d.opts.Name, b.ID, metrics.BatchStats{
		Messages:   stats.Messages,
		Malformed:  stats.Malformed,
		Decoded:    stats.Decoded,
		Dropped:    stats.Skipped + stats.MissingID,
		Duplicates: stats.Duplicates,
		Written:    int(stats.Written),
		Duration:   stats.Duration,
	})
	d.logger.Info("Batch committed",
		zap.Int64("batch_id", b.ID),
		zap.Int("messages", stats.Messages),
		zap.Int("malformed", stats.Malformed),
		zap.Int("missing_id", stats.MissingID),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int64("written", stats.Written),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (d *Driver) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.WriteTimeout > 0 {
		return context.WithTimeout(ctx, d.opts.WriteTimeout)
	}
	return context.WithCancel(ctx)
}

// State returns the last committed state
func (d *Driver) State() *checkpoint.State {
	if d.state == nil {
		return nil
	}
	return d.state.Clone()
}
