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
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/writers"
)

var parquetBooks = []core.Record{
	{"title": "book a 2020", "stars": int64(3), "price_incl_tax": 12.5, "in_stock": true},
	{"title": "book b", "stars": nil, "price_incl_tax": 10.0, "in_stock": false},
	{"title": "book c 1999", "stars": int64(5), "price_incl_tax": 7.25, "in_stock": true},
}

func writeParquetBooks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.parquet")
	w, err := writers.CreateParquetFile(path, writers.WithBatchSize(2))
	require.NoError(t, err)
	for _, rec := range parquetBooks {
		require.NoError(t, w.Write(context.Background(), rec))
	}
	require.NoError(t, w.Close())
	return path
}

func TestParquetReader_File(t *testing.T) {
	path := writeParquetBooks(t)

	reader, err := OpenParquetFile(path, WithParquetBatchSize(2))
	require.NoError(t, err)
	defer reader.Close()

	records := readAll(t, reader)
	assert.Equal(t, parquetBooks, records)
	assert.Equal(t, int64(3), reader.Stats().RecordsRead)
	assert.Equal(t, int64(1), reader.Stats().NullValueCounts["stars"])
	assert.Len(t, reader.Schema().Fields(), 4)

	_, err = reader.Read(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestParquetReader_StreamIsBuffered(t *testing.T) {
	data, err := os.ReadFile(writeParquetBooks(t))
	require.NoError(t, err)

	reader, err := NewParquetReader(io.NopCloser(bytes.NewReader(data)), WithParquetColumns("title", "stars"))
	require.NoError(t, err)
	defer reader.Close()

	records := readAll(t, reader)
	require.Len(t, records, 3)
	assert.Equal(t, core.Record{"title": "book c 1999", "stars": int64(5)}, records[2])
}

func TestParquetReader_UnknownColumn(t *testing.T) {
	_, err := OpenParquetFile(writeParquetBooks(t), WithParquetColumns("isbn"))
	var pqErr *ParquetReaderError
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, "column_projection", pqErr.Op)
}

func TestParquetReader_NotParquet(t *testing.T) {
	_, err := NewParquetReader(io.NopCloser(bytes.NewReader([]byte("title,stars\n"))))
	var pqErr *ParquetReaderError
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, "create_reader", pqErr.Op)
}

func TestOpenParquetFile_Missing(t *testing.T) {
	_, err := OpenParquetFile(filepath.Join(t.TempDir(), "missing.parquet"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestParquetReader_ClosesInputOnError(t *testing.T) {
	garbage := &trackingCloser{Reader: bytes.NewReader([]byte("title,stars\n"))}
	_, err := NewParquetReader(garbage)
	require.Error(t, err)
	assert.True(t, garbage.closed)

	data, err := os.ReadFile(writeParquetBooks(t))
	require.NoError(t, err)
	valid := &trackingCloser{Reader: bytes.NewReader(data)}
	_, err = NewParquetReader(valid, WithParquetColumns("isbn"))
	require.Error(t, err)
	assert.True(t, valid.closed)
}
