package checkpoint

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantTopic   string
		wantBatch   int64
		wantOffsets map[int]int64
		wantErr     bool
	}{
		{
			name: "full state",
			input: `# airstream-go checkpoint
topic=flights_positions
batchId=12
timestamp=2024-01-15T12:00:00Z
partition.0=1234
partition.2=88`,
			wantTopic:   "flights_positions",
			wantBatch:   12,
			wantOffsets: map[int]int64{0: 1234, 2: 88},
		},
		{
			name: "extra whitespace",
			input: `  # comment
  topic = airports
  batchId = 3  `,
			wantTopic:   "airports",
			wantBatch:   3,
			wantOffsets: map[int]int64{},
		},
		{
			name:    "invalid batch id",
			input:   "batchId=abc",
			wantErr: true,
		},
		{
			name:    "negative batch id",
			input:   "batchId=-1",
			wantErr: true,
		},
		{
			name:    "invalid partition",
			input:   "partition.x=10",
			wantErr: true,
		},
		{
			name:    "invalid offset",
			input:   "partition.0=-4",
			wantErr: true,
		},
		{
			name:    "invalid timestamp",
			input:   "timestamp=yesterday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := ParseState(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if state.Topic != tt.wantTopic {
				t.Errorf("Topic = %q, want %q", state.Topic, tt.wantTopic)
			}
			if state.NextBatchID != tt.wantBatch {
				t.Errorf("NextBatchID = %d, want %d", state.NextBatchID, tt.wantBatch)
			}
			if len(state.Offsets) != len(tt.wantOffsets) {
				t.Fatalf("Offsets = %v, want %v", state.Offsets, tt.wantOffsets)
			}
			for p, want := range tt.wantOffsets {
				if got := state.Offsets[p]; got != want {
					t.Errorf("Offsets[%d] = %d, want %d", p, got, want)
				}
			}
		})
	}
}

func TestStateRoundTrip(t *testing.T) {
	in := &State{
		Topic:       "flights_positions",
		NextBatchID: 7,
		Offsets:     map[int]int64{3: 10, 0: 5},
		Timestamp:   time.Date(2024, 6, 20, 8, 30, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	if err := WriteState(&buf, in); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	if !strings.Contains(buf.String(), "partition.0=5\npartition.3=10\n") {
		t.Errorf("partitions not written in order:\n%s", buf.String())
	}

	out, err := ParseState(&buf)
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if out.Topic != in.Topic || out.NextBatchID != in.NextBatchID || !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if out.Offsets[0] != 5 || out.Offsets[3] != 10 {
		t.Errorf("Offsets = %v", out.Offsets)
	}
}

func TestSeed(t *testing.T) {
	s := &State{Topic: "t", NextBatchID: 2, Offsets: map[int]int64{0: 100}}

	next, added := s.Seed(map[int]int64{0: 5, 1: 70, 2: 0})
	if !added {
		t.Error("Seed() added = false, want true")
	}
	want := map[int]int64{0: 100, 1: 70, 2: 0}
	if len(next.Offsets) != len(want) {
		t.Fatalf("Offsets = %v, want %v", next.Offsets, want)
	}
	for p, o := range want {
		if next.Offsets[p] != o {
			t.Errorf("Offsets[%d] = %d, want %d", p, next.Offsets[p], o)
		}
	}
	if next.NextBatchID != 2 {
		t.Errorf("NextBatchID = %d, want 2", next.NextBatchID)
	}
	if len(s.Offsets) != 1 {
		t.Error("Seed must not mutate the receiver")
	}

	if _, added := next.Seed(map[int]int64{1: 3}); added {
		t.Error("Seed() added = true for known partitions, want false")
	}
	// unresolved sentinels are never recorded
	if again, added := s.Seed(map[int]int64{3: -1}); added || len(again.Offsets) != 1 {
		t.Errorf("Seed() recorded a negative offset: %v", again.Offsets)
	}
}

func TestAdvance(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	s := &State{Topic: "t", NextBatchID: 4, Offsets: map[int]int64{0: 100, 1: 50}}

	next := s.Advance(map[int]int64{0: 119, 2: 7}, now)

	if next.NextBatchID != 5 {
		t.Errorf("NextBatchID = %d, want 5", next.NextBatchID)
	}
	want := map[int]int64{0: 120, 1: 50, 2: 8}
	for p, o := range want {
		if next.Offsets[p] != o {
			t.Errorf("Offsets[%d] = %d, want %d", p, next.Offsets[p], o)
		}
	}
	if !next.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", next.Timestamp, now)
	}
	if s.NextBatchID != 4 || s.Offsets[0] != 100 {
		t.Error("Advance must not mutate the receiver")
	}

	// an older offset never moves the position backwards
	back := next.Advance(map[int]int64{0: 10}, now)
	if back.Offsets[0] != 120 {
		t.Errorf("Offsets[0] = %d after stale offset, want 120", back.Offsets[0])
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chk")
	store, err := NewFileStore(dir, "airports_pg")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() on cold start error = %v, want ErrNotFound", err)
	}

	state := &State{Topic: "t", NextBatchID: 2, Offsets: map[int]int64{0: 42}}
	if err := store.Commit(state); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NextBatchID != 2 || loaded.Offsets[0] != 42 {
		t.Errorf("Load() = %+v", loaded)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("checkpoint dir has %d entries, want 1 (temp files cleaned up)", len(entries))
	}

	if err := store.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after Reset error = %v, want ErrNotFound", err)
	}
	if err := store.Reset(); err != nil {
		t.Errorf("second Reset: %v", err)
	}
}

func TestFileStoreCommitFailsWhenDirectoryMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	store, err := NewFileStore(dir, "p")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(NewState("t")); err == nil {
		t.Error("expected Commit to fail when the checkpoint directory is unavailable")
	}
}
