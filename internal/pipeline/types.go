package pipeline

import (
	"context"
	"time"

	"github.com/wegman-software/airstream-go/internal/broker"
	"github.com/wegman-software/airstream-go/internal/checkpoint"
)

// Source feeds topic messages to a driver
type Source interface {
	// Positions returns the real start offset of every partition. resume
	// is nil on a cold start.
	Positions(ctx context.Context, resume *checkpoint.State) (map[int]int64, error)
	Consume(ctx context.Context, start map[int]int64, out chan<- broker.Message) error
}

// Store persists the committed position of a driver
type Store interface {
	Load() (*checkpoint.State, error)
	Commit(state *checkpoint.State) error
}

// RetryPolicy bounds how often a failed sink write is repeated within one
// trigger. A window that still fails is tried again on the next trigger.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Options configures one pipeline
type Options struct {
	Name         string // pipeline name, used in logs, metrics and the checkpoint file
	Topic        string
	Dedup        bool // collapse duplicate airport ids within a window
	Trigger      time.Duration
	Workers      int
	Retry        RetryPolicy
	WriteTimeout time.Duration // per attempt; zero disables the watchdog
	Buffer       int           // message channel capacity
}

// WindowStats summarises one processed window
type WindowStats struct {
	BatchID    int64
	Messages   int
	Malformed  int // payloads matching neither envelope
	Skipped    int // list elements that are not JSON objects
	MissingID  int
	Decoded    int
	Duplicates int
	Written    int64
	Duration   time.Duration
}
