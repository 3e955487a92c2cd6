package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/airstream-go/internal/airport"
	"github.com/wegman-software/airstream-go/internal/broker"
)

type chunkResult struct {
	rows      []airport.FlatRow
	malformed int
	skipped   int
	missingID int
}

// transformWindow decodes, flattens and cleans a window in parallel.
// Rows come back in message order so that keep-first dedup is stable.
func transformWindow(ctx context.Context, msgs []broker.Message, workers int, log *zap.Logger) ([]airport.FlatRow, WindowStats, error) {
	var stats WindowStats
	stats.Messages = len(msgs)
	if len(msgs) == 0 {
		return nil, stats, nil
	}
	if workers < 1 {
		workers = 1
	}

	chunkSize := (len(msgs) + workers - 1) / workers
	var chunks [][]broker.Message
	for start := 0; start < len(msgs); start += chunkSize {
		end := min(start+chunkSize, len(msgs))
		chunks = append(chunks, msgs[start:end])
	}
	results := make([]chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			res := &results[i]
			for _, m := range chunk {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := airport.Transform(m.Value)
				if err != nil {
					res.malformed++
					log.Debug("Dropping undecodable message",
						zap.Int("partition", m.Partition),
						zap.Int64("offset", m.Offset),
						zap.Bool("unknown_envelope", errors.Is(err, airport.ErrUnknownEnvelope)),
						zap.Error(err))
					continue
				}
				res.skipped += out.Skipped
				res.missingID += out.MissingID
				res.rows = append(res.rows, out.Rows...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	var rows []airport.FlatRow
	for _, r := range results {
		rows = append(rows, r.rows...)
		stats.Malformed += r.malformed
		stats.Skipped += r.skipped
		stats.MissingID += r.missingID
	}
	stats.Decoded = len(rows)
	return rows, stats, nil
}

// lastOffsets returns the highest offset seen per partition
func lastOffsets(msgs []broker.Message) map[int]int64 {
	last := make(map[int]int64)
	for _, m := range msgs {
		if cur, ok := last[m.Partition]; !ok || m.Offset > cur {
			last[m.Partition] = m.Offset
		}
	}
	return last
}
