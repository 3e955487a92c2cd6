package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/airstream-go/internal/airport"
	"github.com/wegman-software/airstream-go/internal/config"
)

// Columns of the airports table, in COPY order
var Columns = []string{
	"airport_id", "name", "icao", "iata", "country",
	"lat", "lon", "elevation_m",
	"runway_count", "max_runway_length_m", "ingested_at",
}

const stagingTable = "airstream_stage"

// db is the subset of *pgxpool.Pool the sink needs
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PostgresOptions configures the PostgreSQL sink
type PostgresOptions struct {
	Schema    string
	Table     string
	BatchSize int    // rows per COPY chunk
	WriteMode string // config.WriteModeAppend or config.WriteModeUpsert
}

// Postgres appends batches to the airports table
type Postgres struct {
	db     db
	pool   *pgxpool.Pool
	opts   PostgresOptions
	now    func() time.Time
	logger *zap.Logger
}

// NewPostgres connects a pool sized for one writer plus setup statements
func NewPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = 2
	poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ClientID

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	p := newPostgres(pool, PostgresOptions{
		Schema:    cfg.DBSchema,
		Table:     cfg.DBTable,
		BatchSize: cfg.BatchSize,
		WriteMode: cfg.WriteMode,
	}, logger)
	p.pool = pool
	return p, nil
}

func newPostgres(db db, opts PostgresOptions, logger *zap.Logger) *Postgres {
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.WriteMode == "" {
		opts.WriteMode = config.WriteModeAppend
	}
	return &Postgres{db: db, opts: opts, now: time.Now, logger: logger}
}

// Name implements Sink
func (p *Postgres) Name() string {
	return "postgres"
}

// Close releases the pool
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) target() pgx.Identifier {
	return pgx.Identifier{p.opts.Schema, p.opts.Table}
}

// EnsureTable creates the schema and table. Upsert mode also needs a unique
// index on airport_id for ON CONFLICT.
func (p *Postgres) EnsureTable(ctx context.Context, dropExisting bool) error {
	full := p.target().Sanitize()

	if p.opts.Schema != "public" {
		if _, err := p.db.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{p.opts.Schema}.Sanitize()); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if dropExisting {
		if _, err := p.db.Exec(ctx, "DROP TABLE IF EXISTS "+full+" CASCADE"); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			airport_id TEXT NOT NULL,
			name TEXT,
			icao TEXT,
			iata TEXT,
			country TEXT,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			elevation_m DOUBLE PRECISION,
			runway_count INTEGER NOT NULL DEFAULT 0,
			max_runway_length_m DOUBLE PRECISION NOT NULL DEFAULT 0,
			ingested_at TIMESTAMPTZ NOT NULL
		)`, full)
	if _, err := p.db.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if p.opts.WriteMode == config.WriteModeUpsert {
		idx := pgx.Identifier{p.opts.Table + "_airport_id_key"}.Sanitize()
		if _, err := p.db.Exec(ctx, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (airport_id)", idx, full)); err != nil {
			return fmt.Errorf("failed to create unique index: %w", err)
		}
	} else {
		idx := pgx.Identifier{p.opts.Table + "_airport_id_idx"}.Sanitize()
		if _, err := p.db.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (airport_id)", idx, full)); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Write stores one batch in a single READ COMMITTED transaction. An empty
// batch performs no I/O.
func (p *Postgres) Write(ctx context.Context, b Batch) (int64, error) {
	log := p.logger.With(zap.Int64("batch_id", b.ID))
	if len(b.Rows) == 0 {
		log.Info("Batch is empty, nothing to write")
		return 0, nil
	}

	ingestedAt := p.now().UTC()
	rows := make([][]any, len(b.Rows))
	for i, r := range b.Rows {
		r.IngestedAt = ingestedAt
		rows[i] = rowValues(r)
	}

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// no-op once committed
	defer tx.Rollback(ctx)

	var written int64
	if p.opts.WriteMode == config.WriteModeUpsert {
		written, err = p.upsert(ctx, tx, rows)
	} else {
		written, err = p.copyChunks(ctx, tx, p.target(), rows)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit batch %d: %w", b.ID, err)
	}

	log.Info("Batch written",
		zap.String("table", p.opts.Table),
		zap.Int64("rows", written),
		zap.String("mode", p.opts.WriteMode))
	return written, nil
}

func (p *Postgres) copyChunks(ctx context.Context, tx pgx.Tx, table pgx.Identifier, rows [][]any) (int64, error) {
	var total int64
	for _, chunk := range Chunk(rows, p.opts.BatchSize) {
		n, err := tx.CopyFrom(ctx, table, Columns, pgx.CopyFromRows(chunk))
		if err != nil {
			return 0, fmt.Errorf("COPY into %s failed: %w", table.Sanitize(), err)
		}
		total += n
	}
	return total, nil
}

// upsert stages the rows in a temp table and merges them on airport_id
func (p *Postgres) upsert(ctx context.Context, tx pgx.Tx, rows [][]any) (int64, error) {
	stage := pgx.Identifier{stagingTable}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		stage.Sanitize(), p.target().Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}

	if _, err := p.copyChunks(ctx, tx, stage, rows); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, upsertSQL(p.target(), stage))
	if err != nil {
		return 0, fmt.Errorf("failed to merge staging table: %w", err)
	}
	return tag.RowsAffected(), nil
}

func upsertSQL(target, stage pgx.Identifier) string {
	cols := strings.Join(Columns, ", ")
	updates := make([]string, 0, len(Columns)-1)
	for _, c := range Columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return fmt.Sprintf(
		`INSERT INTO %s (%s)
		SELECT DISTINCT ON (airport_id) %s FROM %s
		ON CONFLICT (airport_id) DO UPDATE SET %s`,
		target.Sanitize(), cols, cols, stage.Sanitize(), strings.Join(updates, ", "),
	)
}

func rowValues(r airport.FlatRow) []any {
	return []any{
		r.ID(), r.Name, r.ICAO, r.IATA, r.Country,
		r.Lat, r.Lon, r.ElevationM,
		int32(r.RunwayCount), r.MaxRunwayLengthM, r.IngestedAt,
	}
}
