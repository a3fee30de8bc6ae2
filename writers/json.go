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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// JSONWriterError wraps JSON-specific write errors with context about the operation.
type JSONWriterError struct {
	Op  string
	Err error
}

func (e *JSONWriterError) Error() string {
	return fmt.Sprintf("json writer %s: %v", e.Op, e.Err)
}

func (e *JSONWriterError) Unwrap() error {
	return e.Err
}

// JSONWriter implements core.DataSink for line-delimited JSON output.
type JSONWriter struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	enc     *json.Encoder
	closer  io.Closer
	written int64
	closed  bool
}

// NewJSONWriter creates a new JSON writer for line-delimited JSON output.
// The writer owns w and closes it on Close.
func NewJSONWriter(w io.WriteCloser) *JSONWriter {
	buf := bufio.NewWriter(w)
	return &JSONWriter{
		buf:    buf,
		enc:    json.NewEncoder(buf),
		closer: w,
	}
}

// Write encodes one record as a JSON line.
func (j *JSONWriter) Write(ctx context.Context, record core.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return &JSONWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}
	if err := j.enc.Encode(record); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}
	j.written++
	return nil
}

// Flush writes buffered lines to the underlying writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if err := j.buf.Flush(); err != nil {
		return &JSONWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close flushes and closes the underlying writer. Calling Close twice is a no-op.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	flushErr := j.buf.Flush()
	closeErr := j.closer.Close()
	if flushErr != nil {
		return &JSONWriterError{Op: "flush", Err: flushErr}
	}
	if closeErr != nil {
		return &JSONWriterError{Op: "close", Err: closeErr}
	}
	return nil
}

// RecordsWritten returns the number of records encoded so far.
func (j *JSONWriter) RecordsWritten() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written
}
