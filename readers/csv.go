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
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// CSVReaderError wraps structured error information for the CSV reader.
type CSVReaderError struct {
	Op  string
	Err error
}

func (e *CSVReaderError) Error() string {
	return fmt.Sprintf("csv reader %s: %v", e.Op, e.Err)
}

func (e *CSVReaderError) Unwrap() error {
	return e.Err
}

// CSVReaderStats holds statistics about the CSV reader's performance.
type CSVReaderStats struct {
	RecordsRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
}

// CSVReaderOptions configures the CSV reader.
type CSVReaderOptions struct {
	Comma            rune
	Comment          rune
	LazyQuotes       bool
	TrimLeadingSpace bool
	HasHeaders       bool
	InferTypes       bool            // Parse integers, floats and true/false; otherwise every value is a string
	StringColumns    map[string]bool // Columns read as text even when InferTypes is set
}

// ReaderOptionCSV allows functional customization of CSVReader.
type ReaderOptionCSV func(*CSVReaderOptions)

func WithCSVComma(r rune) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.Comma = r }
}

func WithCSVHasHeaders(hasHeaders bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.HasHeaders = hasHeaders }
}

func WithCSVTrimSpace(trim bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.TrimLeadingSpace = trim }
}

func WithCSVInferTypes(infer bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.InferTypes = infer }
}

// WithCSVStringColumns keeps the named columns as strings, so a title such as
// "1984" is not read as a number.
func WithCSVStringColumns(columns ...string) ReaderOptionCSV {
	return func(o *CSVReaderOptions) {
		if o.StringColumns == nil {
			o.StringColumns = make(map[string]bool, len(columns))
		}
		for _, col := range columns {
			o.StringColumns[col] = true
		}
	}
}

// CSVReader implements DataSource for CSV files. Empty cells are read as nulls.
type CSVReader struct {
	mu      sync.Mutex
	reader  *csv.Reader
	headers []string
	closer  io.Closer
	stats   CSVReaderStats
	opts    CSVReaderOptions
	started bool
	done    bool
}

// NewCSVReader creates a CSVReader over r. The reader takes ownership of r.
// Nothing is read until the first Read.
func NewCSVReader(r io.ReadCloser, options ...ReaderOptionCSV) *CSVReader {
	opts := CSVReaderOptions{
		Comma:      ',',
		HasHeaders: true,
		InferTypes: true,
	}
	for _, opt := range options {
		opt(&opts)
	}

	csvReader := csv.NewReader(r)
	csvReader.Comma = opts.Comma
	csvReader.Comment = opts.Comment
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = opts.LazyQuotes
	csvReader.TrimLeadingSpace = opts.TrimLeadingSpace
	csvReader.ReuseRecord = true

	return &CSVReader{
		reader: csvReader,
		closer: r,
		opts:   opts,
		stats:  CSVReaderStats{NullValueCounts: make(map[string]int64)},
	}
}

// Read implements the core.DataSource interface.
func (c *CSVReader) Read(ctx context.Context) (core.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, &CSVReaderError{Op: "read", Err: err}
	}
	if c.done {
		return nil, io.EOF
	}

	if !c.started {
		c.started = true
		if c.opts.HasHeaders {
			headers, err := c.reader.Read()
			if errors.Is(err, io.EOF) {
				c.done = true
				return nil, io.EOF
			}
			if err != nil {
				c.done = true
				return nil, &CSVReaderError{Op: "read_headers", Err: err}
			}
			c.headers = append([]string(nil), headers...)
		}
	}

	row, err := c.reader.Read()
	if errors.Is(err, io.EOF) {
		c.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, &CSVReaderError{Op: "read_record", Err: err}
	}

	res := make(core.Record, len(row))
	for i, val := range row {
		key := "col_" + strconv.Itoa(i)
		if i < len(c.headers) {
			key = c.headers[i]
		}
		if strings.TrimSpace(val) == "" {
			c.stats.NullValueCounts[key]++
			res[key] = nil
			continue
		}
		if c.opts.StringColumns[key] {
			res[key] = val
			continue
		}
		res[key] = c.parseValue(val)
	}
	// Short rows leave the remaining columns null.
	for i := len(row); i < len(c.headers); i++ {
		c.stats.NullValueCounts[c.headers[i]]++
		res[c.headers[i]] = nil
	}

	c.stats.RecordsRead++
	c.stats.LastReadTime = time.Now()
	c.stats.ReadDuration += time.Since(start)

	return res, nil
}

// Close implements the core.DataSource interface.
func (c *CSVReader) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.done = true
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

// Stats returns CSV reader performance stats.
func (c *CSVReader) Stats() CSVReaderStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	statsCopy := c.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(c.stats.NullValueCounts))
	for k, v := range c.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// parseValue infers int64, float64 or bool, falling back to string. Numbers
// with leading zeros (UPCs, ISBNs) stay strings.
func (c *CSVReader) parseValue(value string) interface{} {
	if !c.opts.InferTypes {
		return value
	}
	v := strings.TrimSpace(value)

	if !hasLeadingZero(v) {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

func hasLeadingZero(v string) bool {
	v = strings.TrimPrefix(v, "-")
	return len(v) > 1 && v[0] == '0' && v[1] != '.'
}
