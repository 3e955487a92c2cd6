// Package sink holds the destinations a sealed batch window is written to.
package sink

import (
	"context"

	"github.com/wegman-software/airstream-go/internal/airport"
)

// Batch is one sealed trigger window
type Batch struct {
	ID   int64
	Rows []airport.FlatRow
}

// Sink writes whole batches. A nil error means every row of the batch is
// durable and the caller may advance its checkpoint.
type Sink interface {
	Name() string
	Write(ctx context.Context, b Batch) (int64, error)
	Close() error
}

// Chunk splits rows into consecutive slices of at most size elements
func Chunk[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = len(rows)
	}
	var chunks [][]T
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
