package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

const partitionPrefix = "partition."

// State is the last committed position of one pipeline
type State struct {
	Topic       string
	NextBatchID int64
	// Offsets maps partition -> next offset to read
	Offsets   map[int]int64
	Timestamp time.Time
}

// NewState returns an empty state for a topic
func NewState(topic string) *State {
	return &State{
		Topic:   topic,
		Offsets: make(map[int]int64),
	}
}

// Clone returns a deep copy
func (s *State) Clone() *State {
	c := *s
	c.Offsets = make(map[int]int64, len(s.Offsets))
	for p, o := range s.Offsets {
		c.Offsets[p] = o
	}
	return &c
}

// Advance returns a copy of the state moved past one committed batch.
// consumed maps partition -> last offset read in that batch.
func (s *State) Advance(consumed map[int]int64, now time.Time) *State {
	next := s.Clone()
	next.NextBatchID++
	next.Timestamp = now
	for p, last := range consumed {
		if cur, ok := next.Offsets[p]; !ok || last+1 > cur {
			next.Offsets[p] = last + 1
		}
	}
	return next
}

// Seed returns a copy that also records the given start offsets for
// partitions the state has no offset for yet. It reports whether any
// partition was added. Recorded offsets are never changed.
func (s *State) Seed(start map[int]int64) (*State, bool) {
	next := s.Clone()
	added := false
	for p, off := range start {
		if _, ok := next.Offsets[p]; !ok && off >= 0 {
			next.Offsets[p] = off
			added = true
		}
	}
	return next, added
}

// Partitions returns the partitions with a recorded offset in ascending order
func (s *State) Partitions() []int {
	parts := make([]int, 0, len(s.Offsets))
	for p := range s.Offsets {
		parts = append(parts, p)
	}
	sort.Ints(parts)
	return parts
}

// String returns the state in a human-readable format
func (s *State) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", s.Topic)
	fmt.Fprintf(&b, "Next batch: %d\n", s.NextBatchID)
	if !s.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Committed: %s\n", s.Timestamp.Format(time.RFC3339))
	}
	for _, p := range s.Partitions() {
		fmt.Fprintf(&b, "Partition %d: next offset %d\n", p, s.Offsets[p])
	}
	return b.String()
}

// ParseState parses checkpoint file content
// Format:
//
//	#comment line
//	topic=flights_positions
//	batchId=12
//	timestamp=2024-01-15T12:00:00Z
//	partition.0=1234
func ParseState(r io.Reader) (*State, error) {
	state := NewState("")
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch {
		case key == "topic":
			state.Topic = value

		case key == "batchId":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid batch id: %w", err)
			}
			if id < 0 {
				return nil, fmt.Errorf("invalid batch id %d", id)
			}
			state.NextBatchID = id

		case key == "timestamp":
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp %q: %w", value, err)
			}
			state.Timestamp = t

		case strings.HasPrefix(key, partitionPrefix):
			p, err := strconv.Atoi(strings.TrimPrefix(key, partitionPrefix))
			if err != nil || p < 0 {
				return nil, fmt.Errorf("invalid partition key %q", key)
			}
			off, err := strconv.ParseInt(value, 10, 64)
			if err != nil || off < 0 {
				return nil, fmt.Errorf("invalid offset for partition %d: %q", p, value)
			}
			state.Offsets[p] = off
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading checkpoint: %w", err)
	}

	return state, nil
}

// WriteState writes a state to a writer
func WriteState(w io.Writer, state *State) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# airstream-go checkpoint\n")
	fmt.Fprintf(bw, "topic=%s\n", state.Topic)
	fmt.Fprintf(bw, "batchId=%d\n", state.NextBatchID)
	if !state.Timestamp.IsZero() {
		fmt.Fprintf(bw, "timestamp=%s\n", state.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	for _, p := range state.Partitions() {
		fmt.Fprintf(bw, "%s%d=%d\n", partitionPrefix, p, state.Offsets[p])
	}
	return bw.Flush()
}
