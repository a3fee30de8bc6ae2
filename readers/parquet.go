//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoETL.
//
// GoETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoETL. If not, see https://www.gnu.org/licenses/.

package readers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/file"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// ParquetReaderError wraps Parquet-specific read errors with the failing operation.
type ParquetReaderError struct {
	Op  string // Operation that failed (e.g., "read", "load_batch", "open_file", "schema")
	Err error  // Underlying error
}

func (e *ParquetReaderError) Error() string {
	return fmt.Sprintf("parquet reader %s: %v", e.Op, e.Err)
}

func (e *ParquetReaderError) Unwrap() error {
	return e.Err
}

// ParquetReaderStats holds statistics about the Parquet reader's performance.
type ParquetReaderStats struct {
	RecordsRead     int64
	BatchesRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// ParquetReaderOptions configures the Parquet reader.
type ParquetReaderOptions struct {
	BatchSize int64    // Rows decoded per Arrow batch
	Columns   []string // Optional column projection
}

// ReaderOptionParquet allows functional customization of ParquetReader.
type ReaderOptionParquet func(*ParquetReaderOptions)

func WithParquetBatchSize(size int64) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) {
		opts.BatchSize = size
	}
}

func WithParquetColumns(columns ...string) ReaderOptionParquet {
	return func(opts *ParquetReaderOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// ParquetReader implements DataSource for Parquet data.
// Integer columns are returned as int64 and floating point columns as float64,
// matching what the JSON and SQL readers produce.
type ParquetReader struct {
	mu           sync.Mutex
	closer       io.Closer
	recordReader pqarrow.RecordReader
	currentBatch arrow.Record
	batchIdx     int
	schema       *arrow.Schema
	stats        ParquetReaderStats
	done         bool
}

// OpenParquetFile opens path and returns a reader over it.
func OpenParquetFile(path string, options ...ReaderOptionParquet) (*ParquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParquetReaderError{Op: "open_file", Err: err}
	}
	return NewParquetReader(f, options...)
}

// NewParquetReader prepares an Arrow record reader over r and takes ownership of r.
// Parquet needs random access to the footer, so a stream that is not seekable
// (an S3 object body, for instance) is buffered in memory first.
func NewParquetReader(r io.ReadCloser, options ...ReaderOptionParquet) (*ParquetReader, error) {
	opts := ParquetReaderOptions{BatchSize: 1000}
	for _, option := range options {
		option(&opts)
	}
	if opts.BatchSize <= 0 {
		r.Close()
		return nil, &ParquetReaderError{Op: "validate", Err: fmt.Errorf("batch size must be positive")}
	}

	src, ok := r.(parquet.ReaderAtSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			r.Close()
			return nil, &ParquetReaderError{Op: "buffer", Err: err}
		}
		src = bytes.NewReader(data)
	}

	fail := func(op string, err error) (*ParquetReader, error) {
		r.Close()
		return nil, &ParquetReaderError{Op: op, Err: err}
	}

	parquetReader, err := file.NewParquetReader(src)
	if err != nil {
		return fail("create_reader", err)
	}

	arrowReader, err := pqarrow.NewFileReader(parquetReader,
		pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.NewGoAllocator())
	if err != nil {
		return fail("create_arrow_reader", err)
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return fail("schema", err)
	}

	var colIndices []int
	for _, name := range opts.Columns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
				return fail("column_projection", fmt.Errorf("column %q not found in schema", name))
		}
		colIndices = append(colIndices, idx[0])
	}

	recordReader, err := arrowReader.GetRecordReader(context.Background(), colIndices, nil)
	if err != nil {
		return fail("create_record_reader", err)
	}

	return &ParquetReader{
		closer:       r,
		recordReader: recordReader,
		schema:       schema,
		stats:        ParquetReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Read returns the next row as a core.Record, or io.EOF.
func (p *ParquetReader) Read(ctx context.Context) (core.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(start)
		p.stats.LastReadTime = time.Now()
	}()

	if err := ctx.Err(); err != nil {
		return nil, &ParquetReaderError{Op: "read", Err: err}
	}
	if p.done {
		return nil, io.EOF
	}

	for p.currentBatch == nil || p.batchIdx >= int(p.currentBatch.NumRows()) {
		if err := p.loadNextBatch(); err != nil {
			if errors.Is(err, io.EOF) {
				p.done = true
				return nil, io.EOF
			}
			return nil, &ParquetReaderError{Op: "load_batch", Err: err}
		}
	}

	res := make(core.Record, p.currentBatch.NumCols())
	sch := p.currentBatch.Schema()
	for i := 0; i < int(p.currentBatch.NumCols()); i++ {
		name := sch.Field(i).Name
		res[name] = p.value(p.currentBatch.Column(i), p.batchIdx, name)
	}
	p.batchIdx++
	p.stats.RecordsRead++
	return res, nil
}

// Close releases Arrow buffers and closes the underlying reader.
func (p *ParquetReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = true
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}
	if p.recordReader != nil {
		p.recordReader.Release()
		p.recordReader = nil
	}
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}

// Schema returns the Arrow schema of the Parquet data.
func (p *ParquetReader) Schema() *arrow.Schema {
	return p.schema
}

// Stats returns a copy of the reader's statistics.
func (p *ParquetReader) Stats() ParquetReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// loadNextBatch replaces the current batch. The record reader owns the records
// it returns, so the batch is retained until this reader is done with it.
func (p *ParquetReader) loadNextBatch() error {
	if p.currentBatch != nil {
		p.currentBatch.Release()
		p.currentBatch = nil
	}

	rec, err := p.recordReader.Read()
	if err != nil {
		return err
	}
	if rec == nil {
		return io.EOF
	}

	rec.Retain()
	p.currentBatch = rec
	p.batchIdx = 0
	p.stats.BatchesRead++
	return nil
}

func (p *ParquetReader) value(col arrow.Array, row int, name string) interface{} {
	if col.IsNull(row) {
		p.stats.NullValueCounts[name]++
		return nil
	}

	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(row)
	case *array.Int8:
		return int64(arr.Value(row))
	case *array.Int16:
		return int64(arr.Value(row))
	case *array.Int32:
		return int64(arr.Value(row))
	case *array.Int64:
		return arr.Value(row)
	case *array.Uint8:
		return int64(arr.Value(row))
	case *array.Uint16:
		return int64(arr.Value(row))
	case *array.Uint32:
		return int64(arr.Value(row))
	case *array.Uint64:
		return arr.Value(row)
	case *array.Float32:
		return float64(arr.Value(row))
	case *array.Float64:
		return arr.Value(row)
	case *array.String:
		return arr.Value(row)
	case *array.Binary:
		return arr.Value(row)
	case *array.Timestamp:
		return arr.Value(row).ToTime(col.DataType().(*arrow.TimestampType).Unit)
	case *array.Date32:
		return arr.Value(row).ToTime()
	case *array.Date64:
		return arr.Value(row).ToTime()
	default:
		return fmt.Sprintf("%v", col.GetOneForMarshal(row))
	}
}
