package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/wegman-software/airstream-go/internal/airport"
)

var consoleHeader = []string{
	"airport_id", "name", "icao", "iata", "country",
	"lat", "lon", "elevation_m", "runway_count", "max_runway_length_m",
}

// Console prints every row of a batch as an untruncated text table
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console sink writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Name implements Sink
func (c *Console) Name() string {
	return "console"
}

// Close implements Sink
func (c *Console) Close() error {
	return nil
}

// Write implements Sink
func (c *Console) Write(ctx context.Context, b Batch) (int64, error) {
	cells := make([][]string, 0, len(b.Rows)+1)
	cells = append(cells, consoleHeader)
	for _, r := range b.Rows {
		cells = append(cells, consoleCells(r))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bw := bufio.NewWriter(c.w)
	rule := strings.Repeat("-", 43)
	fmt.Fprintf(bw, "%s\nBatch: %d\n%s\n", rule, b.ID, rule)
	writeTable(bw, cells)
	fmt.Fprintln(bw)
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write console batch %d: %w", b.ID, err)
	}
	return int64(len(b.Rows)), nil
}

func consoleCells(r airport.FlatRow) []string {
	return []string{
		textCell(r.AirportID), textCell(r.Name), textCell(r.ICAO), textCell(r.IATA), textCell(r.Country),
		floatCell(r.Lat), floatCell(r.Lon), floatCell(r.ElevationM),
		strconv.Itoa(r.RunwayCount), formatDouble(r.MaxRunwayLengthM),
	}
}

func writeTable(w io.Writer, cells [][]string) {
	widths := make([]int, len(cells[0]))
	for _, row := range cells {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sep strings.Builder
	sep.WriteByte('+')
	for _, wd := range widths {
		sep.WriteString(strings.Repeat("-", wd))
		sep.WriteByte('+')
	}
	line := sep.String()

	fmt.Fprintln(w, line)
	for i, row := range cells {
		var b strings.Builder
		b.WriteByte('|')
		for j, cell := range row {
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[j]-utf8.RuneCountInString(cell)))
			b.WriteByte('|')
		}
		fmt.Fprintln(w, b.String())
		if i == 0 {
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w, line)
}

func textCell(v *string) string {
	if v == nil {
		return "null"
	}
	return *v
}

func floatCell(v *float64) string {
	if v == nil {
		return "null"
	}
	return formatDouble(*v)
}

// formatDouble keeps a trailing .0 on whole numbers
func formatDouble(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
