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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// JSONReaderError provides structured error information for JSON reader operations
type JSONReaderError struct {
	Op  string
	Err error
}

func (e *JSONReaderError) Error() string {
	return fmt.Sprintf("json reader %s: %v", e.Op, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// JSONReader implements core.DataSource for a JSON array of objects or for
// line-delimited JSON objects. The layout is detected from the first token.
// Integral numbers decode as int64, other numbers as float64.
type JSONReader struct {
	mu      sync.Mutex
	open    func() (io.ReadCloser, error)
	closer  io.Closer
	dec     *json.Decoder
	inArray bool
	done    bool
	records int64
}

// NewJSONReader creates a JSON reader over r. The reader takes ownership of r.
func NewJSONReader(r io.ReadCloser) *JSONReader {
	return &JSONReader{
		open:   func() (io.ReadCloser, error) { return r, nil },
		closer: r,
	}
}

// OpenJSONFile returns a JSON reader for the file at path.
// The file is opened on the first Read.
func OpenJSONFile(path string) *JSONReader {
	return &JSONReader{
		open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Read implements the core.DataSource interface
func (j *JSONReader) Read(ctx context.Context) (core.Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &JSONReaderError{Op: "read", Err: err}
	}
	if j.done {
		return nil, io.EOF
	}
	if j.dec == nil {
		if err := j.start(); err != nil {
			j.done = true
			return nil, err
		}
	}

	if !j.dec.More() {
		if j.inArray {
			if _, err := j.dec.Token(); err != nil {
				return nil, &JSONReaderError{Op: "decode", Err: err}
			}
		}
		j.done = true
		return nil, io.EOF
	}

	var raw map[string]interface{}
	if err := j.dec.Decode(&raw); err != nil {
		return nil, &JSONReaderError{Op: "decode", Err: fmt.Errorf("record %d: %w", j.records+1, err)}
	}
	if raw == nil {
		return nil, &JSONReaderError{Op: "decode", Err: fmt.Errorf("record %d is null", j.records+1)}
	}
	j.records++

	record := make(core.Record, len(raw))
	for k, v := range raw {
		record[k] = normalizeJSONValue(v)
	}
	return record, nil
}

func (j *JSONReader) start() error {
	rc, err := j.open()
	if err != nil {
		return &JSONReaderError{Op: "open", Err: err}
	}
	j.closer = rc

	br := bufio.NewReader(rc)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		j.dec = json.NewDecoder(strings.NewReader(""))
		return nil
	}
	if err != nil {
		return &JSONReaderError{Op: "read", Err: err}
	}

	j.dec = json.NewDecoder(br)
	j.dec.UseNumber()

	if first == '[' {
		if _, err := j.dec.Token(); err != nil {
			return &JSONReaderError{Op: "decode", Err: err}
		}
		j.inArray = true
	}
	return nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func normalizeJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = normalizeJSONValue(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = normalizeJSONValue(inner)
		}
		return val
	default:
		return v
	}
}

// Close implements the core.DataSource interface
func (j *JSONReader) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.done = true
	if j.closer != nil {
		err := j.closer.Close()
		j.closer = nil
		return err
	}
	return nil
}
