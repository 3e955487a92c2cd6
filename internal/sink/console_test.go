package sink

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wegman-software/airstream-go/internal/airport"
)

func TestConsoleWrite(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	res, err := airport.Transform([]byte(`[{"_id":"A1","name":"Test","geometry":{"coordinates":[10.0,20.0]},"elevation":{"value":5.0},"runways":[{"dimension":{"length":{"value":300.0}}}]},{"_id":"B2","name":"A rather long airport name that must not be truncated"}]`))
	if err != nil {
		t.Fatal(err)
	}

	n, err := c.Write(context.Background(), Batch{ID: 7, Rows: res.Rows})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}

	out := buf.String()
	for _, want := range []string{
		"Batch: 7",
		"|airport_id|",
		"|A1        |Test",
		"|20.0|10.0|5.0        |1           |300.0              |",
		"A rather long airport name that must not be truncated",
		"|null|null|null       |0           |0.0                |",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConsoleWriteEmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	if _, err := c.Write(context.Background(), Batch{ID: 0}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// rule, header, rule, then a table with only the header row
	if len(lines) != 7 {
		t.Errorf("empty batch printed %d lines, want 7:\n%s", len(lines), buf.String())
	}
}

func TestFormatDouble(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{250, "250.0"},
		{20.5, "20.5"},
		{-3.25, "-3.25"},
	}
	for _, tt := range tests {
		if got := formatDouble(tt.in); got != tt.want {
			t.Errorf("formatDouble(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
