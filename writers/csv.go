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
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// CSVWriterError wraps CSV-specific write errors with context.
type CSVWriterError struct {
	Op  string
	Err error
}

func (e *CSVWriterError) Error() string {
	return fmt.Sprintf("csv writer %s: %v", e.Op, e.Err)
}

func (e *CSVWriterError) Unwrap() error {
	return e.Err
}

// CSVWriterStats holds CSV write performance statistics.
type CSVWriterStats struct {
	RecordsWritten  int64
	FlushCount      int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// CSVWriterOptions configures CSV output.
type CSVWriterOptions struct {
	Comma       rune
	UseCRLF     bool
	WriteHeader bool
	Headers     []string // exact header; overrides ColumnOrder
	ColumnOrder []string // preferred leading columns when the header is derived from data
	BatchSize   int
}

// WriterOptionCSV is a functional option.
type WriterOptionCSV func(*CSVWriterOptions)

func WithHeaders(headers []string) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Headers = append([]string(nil), headers...)
	}
}

// WithColumnOrder puts the given columns first, in order, when the header is
// taken from the first record. Remaining columns follow sorted by name.
func WithColumnOrder(columns ...string) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.ColumnOrder = append([]string(nil), columns...)
	}
}

func WithComma(delim rune) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Comma = delim
	}
}

func WithWriteHeader(write bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.WriteHeader = write
	}
}

func WithCSVBatchSize(size int) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.BatchSize = size
	}
}

func WithUseCRLF(useCRLF bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.UseCRLF = useCRLF
	}
}

// CSVWriter implements core.DataSink for CSV output with stats and batching.
// Nil and missing values are written as empty fields.
type CSVWriter struct {
	writer      *csv.Writer
	closer      io.Closer
	options     CSVWriterOptions
	headers     []string
	recordBuf   []core.Record
	stats       CSVWriterStats
	wroteHeader bool
	errorState  bool
	closed      bool
	mu          sync.Mutex
}

// NewCSVWriter creates a new CSV writer with extended options.
func NewCSVWriter(w io.WriteCloser, opts ...WriterOptionCSV) (*CSVWriter, error) {
	options := CSVWriterOptions{
		Comma:       ',',
		WriteHeader: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.Comma == '"' || options.Comma == '\r' || options.Comma == '\n' {
		return nil, &CSVWriterError{Op: "validate", Err: fmt.Errorf("invalid delimiter %q", options.Comma)}
	}

	cw := csv.NewWriter(w)
	cw.Comma = options.Comma
	cw.UseCRLF = options.UseCRLF

	return &CSVWriter{
		writer:    cw,
		closer:    w,
		options:   options,
		headers:   append([]string(nil), options.Headers...),
		recordBuf: make([]core.Record, 0, max(options.BatchSize, 1)),
		stats:     CSVWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Write implements the core.DataSink interface.
func (c *CSVWriter) Write(ctx context.Context, record core.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorState {
		return &CSVWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if c.closed {
		return &CSVWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}

	for k, v := range record {
		if v == nil {
			c.stats.NullValueCounts[k]++
		}
	}

	if len(c.headers) == 0 {
		c.headers = orderedColumns(record, c.options.ColumnOrder)
	}

	c.recordBuf = append(c.recordBuf, record)
	c.stats.RecordsWritten++

	if c.options.BatchSize > 0 && len(c.recordBuf) >= c.options.BatchSize {
		if err := c.flushBufferUnsafe(); err != nil {
			c.errorState = true
			return err
		}
	}

	return nil
}

// orderedColumns lists the preferred columns present in record, then the rest sorted.
func orderedColumns(record core.Record, preferred []string) []string {
	columns := make([]string, 0, len(record))
	used := make(map[string]bool, len(record))
	for _, col := range preferred {
		if _, ok := record[col]; ok && !used[col] {
			columns = append(columns, col)
			used[col] = true
		}
	}
	var rest []string
	for col := range record {
		if !used[col] {
			rest = append(rest, col)
		}
	}
	sort.Strings(rest)
	return append(columns, rest...)
}

// Flush implements the core.DataSink interface. With an explicit header and no
// records, Flush still writes the header line.
func (c *CSVWriter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if err := c.flushBufferUnsafe(); err != nil {
		c.errorState = true
		return err
	}
	return nil
}

// Close implements the core.DataSink interface.
func (c *CSVWriter) Close() error {
	if err := c.Flush(); err != nil {
		c.closeUnderlying()
		return err
	}
	return c.closeUnderlying()
}

func (c *CSVWriter) closeUnderlying() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.closer != nil {
		if err := c.closer.Close(); err != nil {
			return &CSVWriterError{Op: "close", Err: err}
		}
	}
	return nil
}

// flushBufferUnsafe writes the header if due and buffered records to CSV (must hold mutex).
func (c *CSVWriter) flushBufferUnsafe() error {
	start := time.Now()

	if !c.wroteHeader && c.options.WriteHeader && len(c.headers) > 0 {
		if err := c.writer.Write(c.headers); err != nil {
			return &CSVWriterError{Op: "write_header", Err: err}
		}
		c.wroteHeader = true
	}

	for _, record := range c.recordBuf {
		row := make([]string, len(c.headers))
		for i, key := range c.headers {
			if val, ok := record[key]; ok && val != nil {
				row[i] = fmt.Sprintf("%v", val)
			}
		}
		if err := c.writer.Write(row); err != nil {
			return &CSVWriterError{Op: "write_row", Err: err}
		}
	}

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return &CSVWriterError{Op: "flush", Err: err}
	}

	c.stats.FlushCount++
	c.stats.LastFlushTime = time.Now()
	c.stats.FlushDuration += time.Since(start)
	c.recordBuf = c.recordBuf[:0]

	return nil
}

// Stats returns write statistics.
func (c *CSVWriter) Stats() CSVWriterStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	statsCopy := c.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(c.stats.NullValueCounts))
	for k, v := range c.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}
