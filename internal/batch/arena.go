// Package batch holds the per-window working set of flattened rows.
//
// An Arena collects every row produced during one batch window. It is the
// synchronization point of the pipeline: deduplication needs the complete
// window, so rows are only read back once the window is sealed. An Arena is
// discarded after the window's write and checkpoint commit.
package batch

import (
	"github.com/wegman-software/airstream-go/internal/airport"
)

// Arena is the mutable working set of one batch window
type Arena struct {
	rows  []airport.FlatRow
	index map[string]int // airport_id -> position of the kept row
	dups  int
}

// NewArena creates an arena sized for the expected number of rows
func NewArena(sizeHint int) *Arena {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Arena{
		rows:  make([]airport.FlatRow, 0, sizeHint),
		index: make(map[string]int, sizeHint),
	}
}

// Add appends rows to the arena without deduplicating
func (a *Arena) Add(rows ...airport.FlatRow) {
	a.rows = append(a.rows, rows...)
}

// Len returns the number of rows collected so far
func (a *Arena) Len() int {
	return len(a.rows)
}

// Rows returns every collected row in arrival order
func (a *Arena) Rows() []airport.FlatRow {
	return a.rows
}

// Dedup collapses rows sharing an airport_id. The first occurrence in
// arrival order is kept and output order follows first appearance. Rows
// without an airport_id never reach the arena, but they are passed through
// untouched if they do.
func (a *Arena) Dedup() []airport.FlatRow {
	clear(a.index)
	a.dups = 0

	out := make([]airport.FlatRow, 0, len(a.rows))
	for _, row := range a.rows {
		if row.AirportID == nil {
			out = append(out, row)
			continue
		}
		key := *row.AirportID
		if _, seen := a.index[key]; seen {
			a.dups++
			continue
		}
		a.index[key] = len(out)
		out = append(out, row)
	}
	return out
}

// Duplicates returns how many rows the last Dedup call dropped
func (a *Arena) Duplicates() int {
	return a.dups
}

// Reset empties the arena for reuse
func (a *Arena) Reset() {
	a.rows = a.rows[:0]
	clear(a.index)
	a.dups = 0
}
