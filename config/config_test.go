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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "bookstore_exploring", cfg.DAG.ID)
	assert.Equal(t, "@daily", cfg.DAG.Schedule)
	assert.False(t, cfg.DAG.Catchup)
	assert.Equal(t, "SELECT * FROM books;", cfg.Source.Query)
	assert.Equal(t, "books_destination", cfg.Destination.Table)
	assert.Equal(t, 0, cfg.Tasks.Retries)

	start, err := cfg.StartTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 10, 31, 0, 0, 0, 0, time.UTC), start)

	assert.NoError(t, cfg.Validate(false))
	err = cfg.Validate(true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "source.dsn is required")
	assert.Contains(t, err.Error(), "destination.dsn is required")
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	err := FromEnv(&cfg, env(map[string]string{
		"BOOKSTORE_SOURCE_DSN":       "postgres://u:p@db/books",
		"BOOKSTORE_CSV_PATH":         "s3://exports/clean_data.csv",
		"BOOKSTORE_RETRIES":          "2",
		"BOOKSTORE_RETRY_DELAY":      "10s",
		"BOOKSTORE_CATCHUP":          "true",
		"BOOKSTORE_S3_PATH_STYLE":    "1",
		"BOOKSTORE_MONGO_URI":        "mongodb://localhost:27017",
		"BOOKSTORE_MONGO_DATABASE":   "bookstore",
		"BOOKSTORE_MONGO_COLLECTION": "books",
		"BOOKSTORE_MIN_ROWS":         "100",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db/books", cfg.Source.DSN)
	assert.Equal(t, "postgres://u:p@db/books", cfg.Destination.DSN, "destination falls back to the source DSN")
	assert.Equal(t, "s3://exports/clean_data.csv", cfg.CSVPath)
	assert.Equal(t, 2, cfg.Tasks.Retries)
	assert.Equal(t, Duration(10*time.Second), cfg.Tasks.RetryDelay)
	assert.True(t, cfg.DAG.Catchup)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.True(t, cfg.Mongo.Enabled())
	assert.Equal(t, 100, cfg.Quality.MinRows)
	assert.NoError(t, cfg.Validate(true))
}

func TestFromEnv_Errors(t *testing.T) {
	cfg := Default()
	err := FromEnv(&cfg, env(map[string]string{
		"BOOKSTORE_RETRIES":      "many",
		"BOOKSTORE_TASK_TIMEOUT": "forever",
		"BOOKSTORE_CATCHUP":      "perhaps",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOOKSTORE_RETRIES")
	assert.Contains(t, err.Error(), "BOOKSTORE_TASK_TIMEOUT")
	assert.Contains(t, err.Error(), "BOOKSTORE_CATCHUP")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookstore.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"source": {"driver": "sqlite", "dsn": "books.db", "query": "SELECT * FROM books;", "batch_size": 50},
		"destination": {"driver": "sqlite", "dsn": "books.db", "table": "books_destination", "batch_size": 50},
		"json_path": "data/Books.json",
		"snapshot_path": "out/books.parquet",
		"tasks": {"retries": 1, "retry_delay": "2s", "timeout": "1m"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Source.Driver)
	assert.Equal(t, 50, cfg.Destination.BatchSize)
	assert.Equal(t, "data/Books.json", cfg.JSONPath)
	assert.Equal(t, "out/books.parquet", cfg.Snapshot)
	assert.Equal(t, Duration(2*time.Second), cfg.Tasks.RetryDelay)
	assert.Equal(t, Duration(time.Minute), cfg.Tasks.Timeout)
	assert.Equal(t, "bookstore_exploring", cfg.DAG.ID, "unset fields keep their defaults")

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"tasks": {"timeout": "soon"}}`), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.DAG.ID = ""
	cfg.DAG.StartDate = "31/10/2023"
	cfg.Source.Driver = "mysql"
	cfg.CSVPath = ""
	cfg.Snapshot = "out/books.xlsx"
	cfg.Tasks.Retries = -1
	cfg.Mongo.URI = "mongodb://localhost"

	err := cfg.Validate(false)
	require.Error(t, err)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 7)
	for _, e := range joined.Unwrap() {
		assert.ErrorIs(t, e, ErrInvalid)
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, Duration(90*time.Second), d)

	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, Duration(1000), d)

	b, err := Duration(time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1s"`, string(b))
}
