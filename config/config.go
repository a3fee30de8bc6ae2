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

// Package config holds the bookstore pipeline configuration: defaults, an
// optional JSON file, and BOOKSTORE_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every error returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// DateLayout is the layout of StartDate.
const DateLayout = "2006-01-02"

// Duration is a time.Duration that reads "30s"-style strings from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the full pipeline configuration.
type Config struct {
	DAG         DAGConfig   `json:"dag"`
	Source      SQLConfig   `json:"source"`
	Destination SQLConfig   `json:"destination"`
	JSONPath    string      `json:"json_path"`     // Local path or s3://bucket/key
	Mongo       MongoConfig `json:"mongo"`         // Replaces the JSON file when URI is set
	CSVPath     string      `json:"csv_path"`      // Local path or s3://bucket/key
	Snapshot    string      `json:"snapshot_path"` // Optional .parquet or .jsonl copy of the transformed rows
	S3          S3Config    `json:"s3"`
	Tasks       TaskConfig  `json:"tasks"`
	Quality     Quality     `json:"quality"`
	Log         LogConfig   `json:"log"`
}

// DAGConfig carries the DAG identity and schedule metadata.
type DAGConfig struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Schedule       string `json:"schedule"`
	StartDate      string `json:"start_date"`
	Catchup        bool   `json:"catchup"`
	MaxParallelism int    `json:"max_parallelism"`
}

// SQLConfig describes a database/sql connection and the table or query used on it.
type SQLConfig struct {
	Driver    string `json:"driver"` // "postgres" or "sqlite"
	DSN       string `json:"dsn"`
	Query     string `json:"query,omitempty"`
	Table     string `json:"table,omitempty"`
	BatchSize int    `json:"batch_size"`
}

// MongoConfig selects a MongoDB collection as the document source. When URI
// is empty the JSON file is used instead.
type MongoConfig struct {
	URI        string `json:"uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// Enabled reports whether the MongoDB source replaces the JSON file.
func (m MongoConfig) Enabled() bool { return m.URI != "" }

// S3Config configures the client used for s3:// locations.
type S3Config struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	UsePathStyle    bool   `json:"use_path_style"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// TaskConfig holds the per-task execution defaults.
type TaskConfig struct {
	Retries    int      `json:"retries"`
	RetryDelay Duration `json:"retry_delay"`
	Timeout    Duration `json:"timeout"`
}

// Quality gates the load: a run whose transformed data fails it loads nothing.
type Quality struct {
	MinRows int `json:"min_rows"` // Fewer transformed rows fail the run instead of emptying the destination
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration of the stock bookstore deployment.
func Default() Config {
	return Config{
		DAG: DAGConfig{
			ID:             "bookstore_exploring",
			Owner:          "Mohamed Medhat",
			Schedule:       "@daily",
			StartDate:      "2023-10-31",
			Catchup:        false,
			MaxParallelism: 4,
		},
		Source: SQLConfig{
			Driver:    "postgres",
			Query:     "SELECT * FROM books;",
			BatchSize: 1000,
		},
		Destination: SQLConfig{
			Driver:    "postgres",
			Table:     "books_destination",
			BatchSize: 1000,
		},
		JSONPath: "Books.json",
		CSVPath:  "clean_data.csv",
		Tasks: TaskConfig{
			RetryDelay: Duration(5 * time.Minute),
			Timeout:    Duration(30 * time.Minute),
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load returns the defaults overlaid with the JSON file at path (if path is
// not empty) and then with the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := FromEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv overlays BOOKSTORE_* variables found through lookup onto cfg.
// The destination DSN defaults to the source DSN when only the latter is set.
func FromEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup("BOOKSTORE_" + name); ok {
			*dst = v
		}
	}

	var errs []error
	integer := func(name string, dst *int) {
		if v, ok := lookup("BOOKSTORE_" + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("BOOKSTORE_%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup("BOOKSTORE_" + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("BOOKSTORE_%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *Duration) {
		if v, ok := lookup("BOOKSTORE_" + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("BOOKSTORE_%s: %w", name, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("DAG_ID", &cfg.DAG.ID)
	str("OWNER", &cfg.DAG.Owner)
	str("SCHEDULE", &cfg.DAG.Schedule)
	str("START_DATE", &cfg.DAG.StartDate)
	boolean("CATCHUP", &cfg.DAG.Catchup)
	integer("MAX_PARALLELISM", &cfg.DAG.MaxParallelism)

	str("SQL_DRIVER", &cfg.Source.Driver)
	str("SQL_DRIVER", &cfg.Destination.Driver)
	str("SOURCE_DSN", &cfg.Source.DSN)
	str("SOURCE_QUERY", &cfg.Source.Query)
	str("DESTINATION_DSN", &cfg.Destination.DSN)
	str("DESTINATION_TABLE", &cfg.Destination.Table)
	if cfg.Destination.DSN == "" {
		cfg.Destination.DSN = cfg.Source.DSN
	}

	str("JSON_PATH", &cfg.JSONPath)
	str("MONGO_URI", &cfg.Mongo.URI)
	str("MONGO_DATABASE", &cfg.Mongo.Database)
	str("MONGO_COLLECTION", &cfg.Mongo.Collection)
	str("CSV_PATH", &cfg.CSVPath)
	str("SNAPSHOT_PATH", &cfg.Snapshot)

	str("S3_REGION", &cfg.S3.Region)
	str("S3_ENDPOINT", &cfg.S3.Endpoint)
	boolean("S3_PATH_STYLE", &cfg.S3.UsePathStyle)
	str("S3_ACCESS_KEY_ID", &cfg.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &cfg.S3.SecretAccessKey)

	integer("RETRIES", &cfg.Tasks.Retries)
	duration("RETRY_DELAY", &cfg.Tasks.RetryDelay)
	duration("TASK_TIMEOUT", &cfg.Tasks.Timeout)
	integer("MIN_ROWS", &cfg.Quality.MinRows)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

// StartTime parses DAG.StartDate.
func (c Config) StartTime() (time.Time, error) {
	return time.Parse(DateLayout, c.DAG.StartDate)
}

// Validate reports every problem with the configuration, each wrapping ErrInvalid.
// Connection strings are only required by Validate when requireConnections is
// set; describing the DAG works without them.
func (c Config) Validate(requireConnections bool) error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.DAG.ID == "" {
		fail("dag.id is required")
	}
	if c.DAG.Schedule == "" {
		fail("dag.schedule is required")
	}
	if _, err := c.StartTime(); err != nil {
		fail("dag.start_date %q must be YYYY-MM-DD", c.DAG.StartDate)
	}
	if c.DAG.MaxParallelism <= 0 {
		fail("dag.max_parallelism must be positive")
	}

	for _, sc := range []struct {
		name string
		SQLConfig
	}{{"source", c.Source}, {"destination", c.Destination}} {
		name := sc.name
		if sc.Driver != "postgres" && sc.Driver != "sqlite" {
			fail("%s.driver %q must be postgres or sqlite", name, sc.Driver)
		}
		if sc.BatchSize <= 0 {
			fail("%s.batch_size must be positive", name)
		}
		if requireConnections && sc.DSN == "" {
			fail("%s.dsn is required", name)
		}
	}
	if c.Source.Query == "" {
		fail("source.query is required")
	}
	if c.Destination.Table == "" {
		fail("destination.table is required")
	}

	if c.Mongo.Enabled() {
		if c.Mongo.Database == "" || c.Mongo.Collection == "" {
			fail("mongo.database and mongo.collection are required with mongo.uri")
		}
	} else if c.JSONPath == "" {
		fail("json_path is required unless mongo.uri is set")
	}
	if c.CSVPath == "" {
		fail("csv_path is required")
	}
	if c.Snapshot != "" {
		switch strings.ToLower(path.Ext(c.Snapshot)) {
		case ".parquet", ".json", ".jsonl", ".ndjson":
		default:
			fail("snapshot_path %q must end in .parquet or .jsonl", c.Snapshot)
		}
	}

	if c.Tasks.Retries < 0 {
		fail("tasks.retries must not be negative")
	}
	if c.Tasks.RetryDelay < 0 || c.Tasks.Timeout < 0 {
		fail("tasks.retry_delay and tasks.timeout must not be negative")
	}
	if c.Quality.MinRows < 0 {
		fail("quality.min_rows must not be negative")
	}

	return errors.Join(errs...)
}
