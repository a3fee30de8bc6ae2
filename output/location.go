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

// Package output resolves where pipeline files live (a local path or an S3
// object) and builds sinks and readers for them.
package output

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/writers"
)

// Format represents a supported file format.
type Format int

const (
	FormatCSV Format = iota
	FormatJSON
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	case FormatParquet:
		return "parquet"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

func (f Format) contentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return 0, fmt.Errorf("cannot infer format from %q", path)
	}
}

// Location is a file that sinks write to and readers read from.
type Location interface {
	// NewSink returns a sink for the location. Nothing is created until the
	// sink is first written or flushed. Closing the sink finishes the file; a
	// later write starts it over. columns sets the CSV column order, or the
	// Parquet field list.
	NewSink(format Format, columns ...string) (core.DataSink, error)
	// Open returns the current contents of the location.
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// ParseLocation resolves raw into a Location. "s3://bucket/key" becomes an
// S3Location using client; anything else, including "file://" URLs, is a local path.
func ParseLocation(raw string, client S3API) (Location, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("location is empty")
	}

	if strings.HasPrefix(raw, "s3://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid s3 location %q: %w", raw, err)
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("s3 location %q needs a bucket and a key", raw)
		}
		return S3Location{Bucket: u.Host, Key: key, Client: client}, nil
	}

	if strings.HasPrefix(raw, "file://") {
		return FileLocation{Path: strings.TrimPrefix(raw, "file://")}, nil
	}
	return FileLocation{Path: raw}, nil
}

// IsS3 reports whether raw names an S3 object.
func IsS3(raw string) bool {
	return strings.HasPrefix(raw, "s3://")
}

// FileLocation writes output to a local filesystem path.
type FileLocation struct {
	Path string
}

func (f FileLocation) String() string { return f.Path }

// Open opens the file for reading.
func (f FileLocation) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// NewSink instantiates a writer for the file location. The file is
// truncated when the sink opens, so every run overwrites it.
func (f FileLocation) NewSink(format Format, columns ...string) (core.DataSink, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	return writers.NewLazySink(func(ctx context.Context) (core.DataSink, error) {
		if dir := filepath.Dir(f.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
		file, err := os.Create(f.Path)
		if err != nil {
			return nil, err
		}
		return newWriter(format, file, columns)
	}), nil
}

func checkFormat(format Format) error {
	switch format {
	case FormatCSV, FormatJSON, FormatParquet:
		return nil
	default:
		return fmt.Errorf("unsupported format %s", format)
	}
}

// newWriter wraps w in the writer for format. The writer owns w.
func newWriter(format Format, w io.WriteCloser, columns []string) (core.DataSink, error) {
	var (
		sink core.DataSink
		err  error
	)
	switch format {
	case FormatCSV:
		sink, err = writers.NewCSVWriter(w, writers.WithColumnOrder(columns...))
	case FormatJSON:
		sink = writers.NewJSONWriter(w)
	case FormatParquet:
		var opts []writers.WriterOption
		if len(columns) > 0 {
			opts = append(opts, writers.WithFieldOrder(columns))
		}
		sink, err = writers.NewParquetWriter(w, opts...)
	default:
		err = fmt.Errorf("unsupported format %s", format)
	}
	if err != nil {
		w.Close()
		return nil, err
	}
	return sink, nil
}
