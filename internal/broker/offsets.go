package broker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/wegman-software/airstream-go/internal/checkpoint"
)

// StartOffsets decides where each partition reader begins.
//
// A cold start (resume == nil) reads only new data. After a restart every
// partition resumes at its committed offset, and partitions the checkpoint
// has never seen (added to the topic later) are read from the beginning.
// The result may hold the kafka.LastOffset and kafka.FirstOffset sentinels;
// ResolveOffsets turns them into real offsets.
func StartOffsets(partitions []int, resume *checkpoint.State) map[int]int64 {
	start := make(map[int]int64, len(partitions))
	for _, p := range partitions {
		if resume == nil {
			start[p] = kafka.LastOffset
			continue
		}
		if off, ok := resume.Offsets[p]; ok {
			start[p] = off
		} else {
			start[p] = kafka.FirstOffset
		}
	}
	return start
}

// OffsetLookup returns the first or last offset of a partition, depending
// on which sentinel is passed
type OffsetLookup func(ctx context.Context, partition int, sentinel int64) (int64, error)

// ResolveOffsets replaces the sentinels in start with the offsets lookup
// reports, so every partition has a position that can be checkpointed.
func ResolveOffsets(ctx context.Context, start map[int]int64, lookup OffsetLookup) (map[int]int64, error) {
	resolved := make(map[int]int64, len(start))
	for p, off := range start {
		if off == kafka.LastOffset || off == kafka.FirstOffset {
			found, err := lookup(ctx, p, off)
			if err != nil {
				return nil, fmt.Errorf("partition %d: failed to resolve %s offset: %w", p, describeOffset(off), err)
			}
			off = found
		}
		resolved[p] = off
	}
	return resolved, nil
}

func describeOffset(offset int64) string {
	switch offset {
	case kafka.LastOffset:
		return "latest"
	case kafka.FirstOffset:
		return "earliest"
	default:
		return strconv.FormatInt(offset, 10)
	}
}
