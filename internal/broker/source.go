// Package broker connects the pipelines to Kafka.
//
// Source reads every partition of a topic with a dedicated partition reader.
// There is no consumer group: the committed position lives in the
// pipeline's own checkpoint, so offsets are never committed to the broker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/airstream-go/internal/checkpoint"
)

// Message is one record read from the topic
type Message struct {
	Partition int
	Offset    int64
	Value     []byte
	Time      time.Time
}

// SourceConfig configures a Source
type SourceConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	MaxWait  time.Duration // longest a fetch blocks waiting for new data
}

// Source streams messages from all partitions of a topic
type Source struct {
	cfg    SourceConfig
	logger *zap.Logger
}

// NewSource creates a Source
func NewSource(cfg SourceConfig, logger *zap.Logger) *Source {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}
	return &Source{cfg: cfg, logger: logger}
}

// Positions returns the offset every partition of the topic starts at.
// resume is the last committed checkpoint, or nil on a cold start. The
// offsets are always real ones: latest and earliest are asked from the
// partition leaders.
func (s *Source) Positions(ctx context.Context, resume *checkpoint.State) (map[int]int64, error) {
	partitions, err := ListPartitions(ctx, s.cfg.Brokers, s.cfg.Topic)
	if err != nil {
		return nil, err
	}
	start, err := ResolveOffsets(ctx, StartOffsets(partitions, resume), s.boundaryOffset)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Resolved start offsets",
		zap.String("topic", s.cfg.Topic),
		zap.Int("partitions", len(partitions)),
		zap.Bool("cold_start", resume == nil))
	return start, nil
}

// Consume reads messages into out until ctx is cancelled, one reader per
// partition in start
func (s *Source) Consume(ctx context.Context, start map[int]int64, out chan<- Message) error {
	if len(start) == 0 {
		return errors.New("no partitions to read")
	}

	g, gctx := errgroup.WithContext(ctx)
	for p, off := range start {
		p, off := p, off
		g.Go(func() error {
			return s.readPartition(gctx, p, off, out)
		})
	}
	return g.Wait()
}

// boundaryOffset asks the partition leader for its first or last offset
func (s *Source) boundaryOffset(ctx context.Context, partition int, sentinel int64) (int64, error) {
	var lastErr error
	for _, b := range s.cfg.Brokers {
		conn, err := kafka.DialLeader(ctx, "tcp", b, s.cfg.Topic, partition)
		if err != nil {
			lastErr = err
			continue
		}
		var off int64
		if sentinel == kafka.FirstOffset {
			off, err = conn.ReadFirstOffset()
		} else {
			off, err = conn.ReadLastOffset()
		}
		conn.Close()
		if err != nil {
			return 0, err
		}
		return off, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return 0, fmt.Errorf("failed to reach leader: %w", lastErr)
}

func (s *Source) readPartition(ctx context.Context, partition int, offset int64, out chan<- Message) error {
	dialer := &kafka.Dialer{ClientID: s.cfg.ClientID, Timeout: 10 * time.Second}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   s.cfg.Brokers,
		Topic:     s.cfg.Topic,
		Partition: partition,
		Dialer:    dialer,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   s.cfg.MaxWait,
	})
	defer r.Close()

	if err := r.SetOffset(offset); err != nil {
		return fmt.Errorf("partition %d: failed to set offset %d: %w", partition, offset, err)
	}
	s.logger.Debug("Partition reader started",
		zap.Int("partition", partition),
		zap.String("offset", describeOffset(offset)))

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("partition %d: fetch failed: %w", partition, err)
		}

		select {
		case out <- Message{Partition: m.Partition, Offset: m.Offset, Value: m.Value, Time: m.Time}:
		case <-ctx.Done():
			return nil
		}
	}
}

// ListPartitions returns the partition ids of a topic
func ListPartitions(ctx context.Context, brokers []string, topic string) ([]int, error) {
	conn, err := dialAny(ctx, brokers)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	parts, err := conn.ReadPartitions(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions of %s: %w", topic, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("topic %s has no partitions", topic)
	}

	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func dialAny(ctx context.Context, brokers []string) (*kafka.Conn, error) {
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return nil, fmt.Errorf("failed to connect to kafka: %w", lastErr)
}
