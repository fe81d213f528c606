package cache

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/aristath/macroecon/internal/timeseries"
)

// IndexColumn is the parquet column holding the frame index.
const IndexColumn = "date"

const rowGroupSize = 64 * 1024

var indexType = &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}

// encodeParquet writes a frame as a parquet file: a UTC nanosecond timestamp
// column followed by one nullable float64 column per frame column.
// NaN values are stored as nulls.
func encodeParquet(frame *timeseries.Frame, mem memory.Allocator) ([]byte, error) {
	fields := make([]arrow.Field, 0, len(frame.Columns)+1)
	fields = append(fields, arrow.Field{Name: IndexColumn, Type: indexType})
	for _, c := range frame.Columns {
		if c.Name == IndexColumn {
			return nil, fmt.Errorf("column name %q is reserved for the index", IndexColumn)
		}
		fields = append(fields, arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	tsb := b.Field(0).(*array.TimestampBuilder)
	tsb.Reserve(frame.Len())
	for _, ts := range frame.Index {
		tsb.Append(arrow.Timestamp(ts.UnixNano()))
	}
	for i, c := range frame.Columns {
		fb := b.Field(i + 1).(*array.Float64Builder)
		fb.Reserve(len(c.Values))
		for _, v := range c.Values {
			if math.IsNaN(v) {
				fb.AppendNull()
				continue
			}
			fb.Append(v)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	var buf bytes.Buffer
	if err := pqarrow.WriteTable(tbl, &buf, rowGroupSize, props, arrowProps); err != nil {
		return nil, fmt.Errorf("failed to write parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeParquet reads a file written by encodeParquet back into a frame.
func decodeParquet(data []byte, mem memory.Allocator) (*timeseries.Frame, error) {
	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet: %w", err)
	}
	defer tbl.Release()

	schema := tbl.Schema()
	if schema.NumFields() == 0 || schema.Field(0).Name != IndexColumn {
		return nil, fmt.Errorf("parquet file has no %q index column", IndexColumn)
	}

	frame := &timeseries.Frame{}
	for i := 0; i < int(tbl.NumCols()); i++ {
		col := tbl.Column(i)
		if i == 0 {
			index, err := readIndex(col)
			if err != nil {
				return nil, err
			}
			frame.Index = index
			continue
		}
		values, err := readFloats(col)
		if err != nil {
			return nil, err
		}
		frame.Columns = append(frame.Columns, timeseries.Column{Name: col.Name(), Values: values})
	}
	return frame, nil
}

func readIndex(col *arrow.Column) ([]time.Time, error) {
	out := make([]time.Time, 0, col.Len())
	for _, chunk := range col.Data().Chunks() {
		ts, ok := chunk.(*array.Timestamp)
		if !ok {
			return nil, fmt.Errorf("index column has type %s, want timestamp", chunk.DataType())
		}
		unit := ts.DataType().(*arrow.TimestampType).Unit
		for j := 0; j < ts.Len(); j++ {
			if ts.IsNull(j) {
				return nil, fmt.Errorf("index column has a null at row %d", len(out))
			}
			out = append(out, ts.Value(j).ToTime(unit).UTC())
		}
	}
	return out, nil
}

func readFloats(col *arrow.Column) ([]float64, error) {
	out := make([]float64, 0, col.Len())
	for _, chunk := range col.Data().Chunks() {
		fa, ok := chunk.(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("column %s has type %s, want float64", col.Name(), chunk.DataType())
		}
		for j := 0; j < fa.Len(); j++ {
			if fa.IsNull(j) {
				out = append(out, math.NaN())
				continue
			}
			out = append(out, fa.Value(j))
		}
	}
	return out, nil
}
