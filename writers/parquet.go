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

package writers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// Package writers provides implementations of core.DataSink for writing data to various destinations.
//
// This file implements a configurable Parquet writer for streaming ETL pipelines.
// It supports batching, Arrow schema inference, compression, field ordering, schema validation, and statistics.

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string // Operation that failed (e.g., "schema", "write_batch", "open_file")
	Err error  // Underlying error
}

// Error returns the error string for ParquetWriterError.
func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetWriterError.
func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize      int64                // Number of records to buffer before writing
	Schema         *arrow.Schema        // Pre-defined schema (optional)
	Compression    compress.Compression // Compression algorithm
	FieldOrder     []string             // Explicit field ordering
	RowGroupSize   int64                // Maximum rows per row group
	Metadata       map[string]string    // File metadata
	ValidateSchema bool                 // Reject records whose values do not match the schema
}

// WriterStats holds statistics about the Parquet writer's performance.
type WriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of records to buffer before writing a batch.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithFieldOrder sets the explicit field ordering for the Parquet schema.
// Fields outside this list are not written.
func WithFieldOrder(fields []string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.FieldOrder = append([]string(nil), fields...)
	}
}

// WithSchema sets a predefined Arrow schema instead of inferring one.
func WithSchema(schema *arrow.Schema) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Schema = schema
	}
}

// WithSchemaValidation enables or disables strict schema validation.
func WithSchemaValidation(validate bool) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.ValidateSchema = validate
	}
}

// WithRowGroupSize sets the row group size for the Parquet file.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata sets user metadata for the Parquet file.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// ParquetWriter implements core.DataSink for Parquet output.
// The schema is inferred from the first buffered batch unless one is supplied:
// each field takes the type of its first non-nil value, and fields that are
// nil throughout the batch are written as strings.
type ParquetWriter struct {
	mu           sync.Mutex
	out          *onceCloser
	writer       *pqarrow.FileWriter
	schema       *arrow.Schema
	fieldOrder   []string
	recordBuffer []core.Record
	builders     []array.Builder
	allocator    memory.Allocator
	opts         *ParquetWriterOptions
	stats        WriterStats
	closed       bool
	errorState   bool
}

// NewParquetWriter creates a Parquet writer over w. The writer owns w and closes it on Close.
func NewParquetWriter(w io.WriteCloser, options ...WriterOption) (*ParquetWriter, error) {
	if w == nil {
		return nil, &ParquetWriterError{Op: "validate", Err: fmt.Errorf("writer is nil")}
	}

	opts := (&ParquetWriterOptions{}).withDefaults()
	for _, option := range options {
		option(opts)
	}
	if opts.BatchSize <= 0 {
		return nil, &ParquetWriterError{Op: "validate", Err: fmt.Errorf("batch size must be positive")}
	}

	return &ParquetWriter{
		out:          &onceCloser{WriteCloser: w},
		schema:       opts.Schema,
		fieldOrder:   opts.FieldOrder,
		recordBuffer: make([]core.Record, 0, opts.BatchSize),
		stats:        WriterStats{NullValueCounts: make(map[string]int64)},
		allocator:    memory.NewGoAllocator(),
		opts:         opts,
	}, nil
}

// CreateParquetFile creates (or truncates) filename, making parent directories as needed,
// and returns a Parquet writer for it.
func CreateParquetFile(filename string, options ...WriterOption) (*ParquetWriter, error) {
	dir := filepath.Dir(filename)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &ParquetWriterError{
				Op:  "create_directory",
				Err: fmt.Errorf("failed to create directory %s: %w", dir, err),
			}
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, &ParquetWriterError{
			Op:  "open_file",
			Err: fmt.Errorf("failed to create parquet file %s: %w", filename, err),
		}
	}
	return NewParquetWriter(file, options...)
}

// Stats returns a copy of the current statistics of the Parquet writer.
func (p *ParquetWriter) Stats() WriterStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// Write implements the core.DataSink interface.
// Buffers records and writes in batches. Thread-safe.
func (p *ParquetWriter) Write(ctx context.Context, record core.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}

	if p.schema != nil && p.opts.ValidateSchema {
		if err := p.validateRecord(record); err != nil {
			p.errorState = true
			return &ParquetWriterError{Op: "validate", Err: fmt.Errorf("record validation failed: %w", err)}
		}
	}

	p.recordBuffer = append(p.recordBuffer, record)

	if int64(len(p.recordBuffer)) >= p.opts.BatchSize {
		if err := p.flushBatchUnsafe(); err != nil {
			p.errorState = true
			return &ParquetWriterError{Op: "flush_batch", Err: err}
		}
	}
	return nil
}

// Flush implements the core.DataSink interface.
// Forces any buffered records to be written as a row group.
func (p *ParquetWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.recordBuffer) == 0 {
		return nil
	}
	if p.errorState {
		return &ParquetWriterError{Op: "flush", Err: fmt.Errorf("writer is in error state")}
	}
	if err := p.flushBatchUnsafe(); err != nil {
		p.errorState = true
		return &ParquetWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close implements the core.DataSink interface.
// Flushes remaining records, writes the footer and closes the underlying writer.
// A writer that never saw a record still produces a valid file when its
// schema is known from the options.
func (p *ParquetWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if !p.errorState && len(p.recordBuffer) > 0 {
		if err := p.flushBatchUnsafe(); err != nil {
			errs = append(errs, &ParquetWriterError{Op: "flush_remaining", Err: err})
		}
	}
	if !p.errorState && p.writer == nil && (p.schema != nil || len(p.fieldOrder) > 0) {
		if err := p.initializeSchema(nil); err != nil {
			errs = append(errs, err)
		}
	}

	for _, builder := range p.builders {
		if builder != nil {
			builder.Release()
		}
	}
	p.builders = nil

	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			errs = append(errs, &ParquetWriterError{Op: "close_writer", Err: err})
		}
		p.writer = nil
	}
	if err := p.out.Close(); err != nil {
		errs = append(errs, &ParquetWriterError{Op: "close_file", Err: err})
	}
	return errors.Join(errs...)
}

// withDefaults applies default values to ParquetWriterOptions.
func (opts *ParquetWriterOptions) withDefaults() *ParquetWriterOptions {
	if opts.BatchSize == 0 {
		opts.BatchSize = 1000
	}
	if opts.RowGroupSize <= 0 {
		opts.RowGroupSize = 10000
	}
	if opts.Compression == 0 {
		opts.Compression = compress.Codecs.Snappy
	}
	if opts.Metadata == nil {
		opts.Metadata = make(map[string]string)
	}
	return opts
}

// initializeSchema builds the Arrow schema from the buffered records, then opens the
// Parquet file writer and the column builders.
func (p *ParquetWriter) initializeSchema(records []core.Record) error {
	if p.schema == nil {
		if p.fieldOrder == nil {
			p.fieldOrder = core.Columns(records)
			sort.Strings(p.fieldOrder)
		}

		fields := make([]arrow.Field, 0, len(p.fieldOrder))
		for _, name := range p.fieldOrder {
			dataType := arrow.DataType(arrow.BinaryTypes.String)
			for _, record := range records {
				if value := record[name]; value != nil {
					var err error
					if dataType, err = inferArrowType(value); err != nil {
						return &ParquetWriterError{
							Op:  "schema",
							Err: fmt.Errorf("failed to infer arrow type for field %s: %w", name, err),
						}
					}
					break
				}
			}
			fields = append(fields, arrow.Field{Name: name, Type: dataType, Nullable: true})
		}

		var md *arrow.Metadata
		if len(p.opts.Metadata) > 0 {
			m := arrow.MetadataFrom(p.opts.Metadata)
			md = &m
		}
		p.schema = arrow.NewSchema(fields, md)
	} else if p.fieldOrder == nil {
		for _, f := range p.schema.Fields() {
			p.fieldOrder = append(p.fieldOrder, f.Name)
		}
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
	)
	writer, err := pqarrow.NewFileWriter(p.schema, p.out, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return &ParquetWriterError{
			Op:  "create_writer",
			Err: fmt.Errorf("failed to create parquet file writer: %w", err),
		}
	}
	p.writer = writer

	p.builders = make([]array.Builder, len(p.fieldOrder))
	for i, name := range p.fieldOrder {
		idx := p.schema.FieldIndices(name)
		if len(idx) == 0 {
			return &ParquetWriterError{
				Op:  "initialize_builders",
				Err: fmt.Errorf("field %s not found in schema", name),
			}
		}
		p.builders[i] = array.NewBuilder(p.allocator, p.schema.Field(idx[0]).Type)
	}
	return nil
}

// inferArrowType infers the Arrow data type from a Go value.
func inferArrowType(value interface{}) (arrow.DataType, error) {
	switch value.(type) {
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return arrow.PrimitiveTypes.Int64, nil
	case float32, float64:
		return arrow.PrimitiveTypes.Float64, nil
	case string, json.RawMessage:
		return arrow.BinaryTypes.String, nil
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case []byte:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("unsupported type %T for value %v", value, value)
	}
}

// flushBatchUnsafe writes the current buffer as one Arrow record (must hold mutex).
func (p *ParquetWriter) flushBatchUnsafe() error {
	if len(p.recordBuffer) == 0 {
		return nil
	}
	start := time.Now()

	if p.writer == nil {
		if err := p.initializeSchema(p.recordBuffer); err != nil {
			return err
		}
	}

	record, err := p.createArrowRecord(p.recordBuffer)
	if err != nil {
		return err
	}
	defer record.Release()

	if err := p.writer.Write(record); err != nil {
		return &ParquetWriterError{Op: "write_batch", Err: fmt.Errorf("failed to write record batch: %w", err)}
	}

	p.stats.RecordsWritten += int64(len(p.recordBuffer))
	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.stats.LastFlushTime = time.Now()
	p.recordBuffer = p.recordBuffer[:0]
	return nil
}

// createArrowRecord converts a slice of core.Record to an Arrow Record.
func (p *ParquetWriter) createArrowRecord(records []core.Record) (arrow.Record, error) {
	for _, record := range records {
		for i, name := range p.fieldOrder {
			value, ok := record[name]
			if !ok || value == nil || !appendValue(p.builders[i], value) {
				p.builders[i].AppendNull()
				p.stats.NullValueCounts[name]++
			}
		}
	}

	arrays := make([]arrow.Array, len(p.builders))
	for i, builder := range p.builders {
		arrays[i] = builder.NewArray()
	}
	defer func() {
		for _, arr := range arrays {
			arr.Release()
		}
	}()

	return array.NewRecord(p.schema, arrays, int64(len(records))), nil
}

// appendValue appends value to the builder, converting between compatible Go kinds.
// It reports false when the value cannot be represented in the builder's type.
func appendValue(builder array.Builder, value interface{}) bool {
	switch b := builder.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if ok {
			b.Append(v)
		}
		return ok
	case *array.Int64Builder:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			b.Append(rv.Int())
			return true
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
			b.Append(int64(rv.Uint()))
			return true
		}
		return false
	case *array.Float64Builder:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			b.Append(rv.Float())
			return true
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			b.Append(float64(rv.Int()))
			return true
		}
		return false
	case *array.StringBuilder:
		switch v := value.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		default:
			b.Append(fmt.Sprintf("%v", value))
		}
		return true
	case *array.BinaryBuilder:
		switch v := value.(type) {
		case []byte:
			b.Append(v)
		case string:
			b.AppendString(v)
		default:
			return false
		}
		return true
	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if ok {
			b.Append(arrow.Timestamp(v.UnixMicro()))
		}
		return ok
	default:
		return false
	}
}

// validateRecord checks that a record matches the schema. Missing and nil fields are allowed.
func (p *ParquetWriter) validateRecord(record core.Record) error {
	for _, field := range p.schema.Fields() {
		value, exists := record[field.Name]
		if !exists || value == nil {
			continue
		}
		builder := array.NewBuilder(p.allocator, field.Type)
		ok := appendValue(builder, value)
		builder.Release()
		if !ok {
			return fmt.Errorf("field %s: expected %s, got %T", field.Name, field.Type, value)
		}
	}
	return nil
}

// onceCloser lets the file writer and ParquetWriter.Close both close the sink.
type onceCloser struct {
	io.WriteCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.WriteCloser.Close() })
	return c.err
}
