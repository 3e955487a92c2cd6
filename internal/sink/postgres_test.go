package sink

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/wegman-software/airstream-go/internal/airport"
	"github.com/wegman-software/airstream-go/internal/config"
)

type copyCall struct {
	table pgx.Identifier
	rows  [][]any
}

// fakeTx records the statements of one transaction
type fakeTx struct {
	pgx.Tx
	db        *fakeDB
	copies    []copyCall
	execs     []string
	committed bool
	rolled    bool
}

func (tx *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if tx.db.copyErr != nil {
		return 0, tx.db.copyErr
	}
	var rows [][]any
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, v)
	}
	tx.copies = append(tx.copies, copyCall{table: table, rows: rows})
	return int64(len(rows)), nil
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, sql)
	if strings.HasPrefix(sql, "INSERT") {
		return pgconn.NewCommandTag("INSERT 0 3"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	if tx.db.commitErr != nil {
		return tx.db.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if !tx.committed {
		tx.rolled = true
	}
	return nil
}

type fakeDB struct {
	txs       []*fakeTx
	txOpts    []pgx.TxOptions
	execs     []string
	copyErr   error
	commitErr error
}

func (d *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (d *fakeDB) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	tx := &fakeTx{db: d}
	d.txs = append(d.txs, tx)
	d.txOpts = append(d.txOpts, opts)
	return tx, nil
}

func strPtr(s string) *string { return &s }

func rowsWithIDs(ids ...string) []airport.FlatRow {
	rows := make([]airport.FlatRow, len(ids))
	for i, id := range ids {
		rows[i] = airport.FlatRow{AirportID: strPtr(id), RunwayCount: i}
	}
	return rows
}

func TestPostgresWriteEmptyBatch(t *testing.T) {
	db := &fakeDB{}
	p := newPostgres(db, PostgresOptions{Table: "airports_clean"}, zap.NewNop())

	n, err := p.Write(context.Background(), Batch{ID: 0})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 0 {
		t.Errorf("written = %d, want 0", n)
	}
	if len(db.txs) != 0 {
		t.Errorf("empty batch opened %d transactions, want 0", len(db.txs))
	}
}

func TestPostgresWriteChunksInOneTransaction(t *testing.T) {
	db := &fakeDB{}
	p := newPostgres(db, PostgresOptions{Table: "airports_clean", BatchSize: 2}, zap.NewNop())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	n, err := p.Write(context.Background(), Batch{ID: 4, Rows: rowsWithIDs("A", "B", "C", "D", "E")})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Errorf("written = %d, want 5", n)
	}
	if len(db.txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(db.txs))
	}
	if db.txOpts[0].IsoLevel != pgx.ReadCommitted {
		t.Errorf("IsoLevel = %q, want %q", db.txOpts[0].IsoLevel, pgx.ReadCommitted)
	}

	tx := db.txs[0]
	if !tx.committed || tx.rolled {
		t.Errorf("committed = %v, rolled back = %v", tx.committed, tx.rolled)
	}

	sizes := []int{}
	for _, c := range tx.copies {
		sizes = append(sizes, len(c.rows))
		if c.table.Sanitize() != `"public"."airports_clean"` {
			t.Errorf("COPY target = %s", c.table.Sanitize())
		}
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("chunk sizes = %v, want [2 2 1]", sizes)
	}

	// one clock read stamps every row
	for _, c := range tx.copies {
		for _, row := range c.rows {
			if got := row[len(row)-1].(time.Time); !got.Equal(fixed) {
				t.Errorf("ingested_at = %v, want %v", got, fixed)
			}
		}
	}
}

func TestPostgresWriteRowValues(t *testing.T) {
	db := &fakeDB{}
	p := newPostgres(db, PostgresOptions{Table: "airports_clean"}, zap.NewNop())

	res, err := airport.Transform([]byte(`{"items":[{"_id":"A1","name":"Test","geometry":{"coordinates":[10.0,20.0]},"elevation":{"value":5.0},"runways":[{"dimension":{"length":{"value":300.0}}}]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write(context.Background(), Batch{ID: 1, Rows: res.Rows}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	row := db.txs[0].copies[0].rows[0]
	if len(row) != len(Columns) {
		t.Fatalf("row has %d values, want %d", len(row), len(Columns))
	}
	if row[0] != "A1" {
		t.Errorf("airport_id = %v, want A1", row[0])
	}
	if name := row[1].(*string); name == nil || *name != "Test" {
		t.Errorf("name = %v, want Test", name)
	}
	if lat := row[5].(*float64); lat == nil || *lat != 20.0 {
		t.Errorf("lat = %v, want 20", lat)
	}
	if lon := row[6].(*float64); lon == nil || *lon != 10.0 {
		t.Errorf("lon = %v, want 10", lon)
	}
	if row[8] != int32(1) {
		t.Errorf("runway_count = %v, want 1", row[8])
	}
	if row[9] != 300.0 {
		t.Errorf("max_runway_length_m = %v, want 300", row[9])
	}
	if icao := row[2].(*string); icao != nil {
		t.Errorf("icao = %v, want nil", *icao)
	}
}

func TestPostgresWriteFailureRollsBack(t *testing.T) {
	tests := []struct {
		name string
		db   *fakeDB
	}{
		{"copy fails", &fakeDB{copyErr: errors.New("connection reset")}},
		{"commit fails", &fakeDB{commitErr: errors.New("serialization failure")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPostgres(tt.db, PostgresOptions{Table: "airports_clean"}, zap.NewNop())
			if _, err := p.Write(context.Background(), Batch{ID: 9, Rows: rowsWithIDs("A")}); err == nil {
				t.Fatal("expected error")
			}
			if tx := tt.db.txs[0]; !tx.rolled {
				t.Error("transaction was not rolled back")
			}
		})
	}
}

func TestPostgresUpsert(t *testing.T) {
	db := &fakeDB{}
	p := newPostgres(db, PostgresOptions{Table: "airports_clean", WriteMode: config.WriteModeUpsert}, zap.NewNop())

	n, err := p.Write(context.Background(), Batch{ID: 2, Rows: rowsWithIDs("A", "B", "C")})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 3 {
		t.Errorf("written = %d, want 3", n)
	}

	tx := db.txs[0]
	if len(tx.copies) != 1 || tx.copies[0].table.Sanitize() != `"airstream_stage"` {
		t.Fatalf("copies = %+v, want one COPY into the staging table", tx.copies)
	}
	if len(tx.execs) != 2 {
		t.Fatalf("execs = %v", tx.execs)
	}
	if !strings.Contains(tx.execs[0], "CREATE TEMP TABLE") || !strings.Contains(tx.execs[0], "ON COMMIT DROP") {
		t.Errorf("staging statement = %s", tx.execs[0])
	}
	if !strings.Contains(tx.execs[1], "ON CONFLICT (airport_id) DO UPDATE") {
		t.Errorf("merge statement = %s", tx.execs[1])
	}
	if strings.Contains(tx.execs[1], "airport_id = EXCLUDED.airport_id") {
		t.Error("merge must not update the conflict key")
	}
}

func TestEnsureTable(t *testing.T) {
	tests := []struct {
		name     string
		opts     PostgresOptions
		drop     bool
		contains []string
		excludes []string
	}{
		{
			name:     "append mode",
			opts:     PostgresOptions{Table: "airports_clean"},
			contains: []string{"CREATE TABLE IF NOT EXISTS \"public\".\"airports_clean\"", "CREATE INDEX IF NOT EXISTS"},
			excludes: []string{"DROP TABLE", "UNIQUE", "CREATE SCHEMA"},
		},
		{
			name:     "upsert mode with drop",
			opts:     PostgresOptions{Schema: "aviation", Table: "airports_clean", WriteMode: config.WriteModeUpsert},
			drop:     true,
			contains: []string{"CREATE SCHEMA IF NOT EXISTS \"aviation\"", "DROP TABLE IF EXISTS \"aviation\".\"airports_clean\"", "CREATE UNIQUE INDEX"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{}
			p := newPostgres(db, tt.opts, zap.NewNop())
			if err := p.EnsureTable(context.Background(), tt.drop); err != nil {
				t.Fatalf("EnsureTable: %v", err)
			}
			all := strings.Join(db.execs, "\n")
			for _, want := range tt.contains {
				if !strings.Contains(all, want) {
					t.Errorf("statements missing %q:\n%s", want, all)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(all, bad) {
					t.Errorf("statements unexpectedly contain %q", bad)
				}
			}
		})
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 1000, nil},
		{5, 2, []int{2, 2, 1}},
		{1000, 1000, []int{1000}},
		{1001, 1000, []int{1000, 1}},
		{3, 0, []int{3}},
	}
	for _, tt := range tests {
		got := Chunk(make([]int, tt.n), tt.size)
		if len(got) != len(tt.want) {
			t.Errorf("Chunk(%d, %d) = %d chunks, want %d", tt.n, tt.size, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if len(got[i]) != tt.want[i] {
				t.Errorf("Chunk(%d, %d)[%d] = %d, want %d", tt.n, tt.size, i, len(got[i]), tt.want[i])
			}
		}
	}
}
