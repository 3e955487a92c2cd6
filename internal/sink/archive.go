package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"go.uber.org/zap"
)

var archiveSchema = arrow.NewSchema([]arrow.Field{
	{Name: "airport_id", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "icao", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "iata", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "country", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "lat", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "lon", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "elevation_m", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "runway_count", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "max_runway_length_m", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "ingested_at", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: false},
}, nil)

// Archive writes each batch to its own zstd-compressed Parquet file.
// Files are named by batch id, so a replayed batch replaces its file.
type Archive struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// NewArchive creates the archive directory
func NewArchive(dir string, logger *zap.Logger) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{dir: dir, now: time.Now, logger: logger}, nil
}

// Name implements Sink
func (a *Archive) Name() string {
	return "archive"
}

// Close implements Sink
func (a *Archive) Close() error {
	return nil
}

// Path returns the file a batch is archived to
func (a *Archive) Path(batchID int64) string {
	return filepath.Join(a.dir, fmt.Sprintf("batch-%06d.parquet", batchID))
}

// Write implements Sink
func (a *Archive) Write(ctx context.Context, b Batch) (int64, error) {
	if len(b.Rows) == 0 {
		a.logger.Debug("Batch is empty, nothing to archive", zap.Int64("batch_id", b.ID))
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rec := a.buildRecord(b)
	defer rec.Release()

	tmp, err := os.CreateTemp(a.dir, ".batch-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(archiveSchema, tmp, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		tmp.Close()
		return 0, fmt.Errorf("failed to write parquet record: %w", err)
	}
	// closing the writer also closes the file
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	if err := tmp.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return 0, fmt.Errorf("failed to close archive file: %w", err)
	}

	path := a.Path(b.ID)
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("failed to move archive file: %w", err)
	}

	a.logger.Info("Batch archived",
		zap.Int64("batch_id", b.ID),
		zap.String("path", path),
		zap.Int("rows", len(b.Rows)))
	return int64(len(b.Rows)), nil
}

func (a *Archive) buildRecord(b Batch) arrow.Record {
	builder := array.NewRecordBuilder(memory.DefaultAllocator, archiveSchema)
	defer builder.Release()

	ingestedAt := a.now().UTC()
	for _, r := range b.Rows {
		r.IngestedAt = ingestedAt
		builder.Field(0).(*array.StringBuilder).Append(r.ID())
		appendString(builder.Field(1).(*array.StringBuilder), r.Name)
		appendString(builder.Field(2).(*array.StringBuilder), r.ICAO)
		appendString(builder.Field(3).(*array.StringBuilder), r.IATA)
		appendString(builder.Field(4).(*array.StringBuilder), r.Country)
		appendFloat(builder.Field(5).(*array.Float64Builder), r.Lat)
		appendFloat(builder.Field(6).(*array.Float64Builder), r.Lon)
		appendFloat(builder.Field(7).(*array.Float64Builder), r.ElevationM)
		builder.Field(8).(*array.Int32Builder).Append(int32(r.RunwayCount))
		builder.Field(9).(*array.Float64Builder).Append(r.MaxRunwayLengthM)
		builder.Field(10).(*array.TimestampBuilder).Append(arrow.Timestamp(r.IngestedAt.UnixMicro()))
	}
	return builder.NewRecord()
}

func appendString(b *array.StringBuilder, v *string) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(*v)
}

func appendFloat(b *array.Float64Builder, v *float64) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(*v)
}
