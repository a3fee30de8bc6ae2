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

package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aaronlmathis/goetl-bookstore/config"
	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/dag"
	"github.com/aaronlmathis/goetl-bookstore/dag/tasks"
	"github.com/aaronlmathis/goetl-bookstore/output"
	"github.com/aaronlmathis/goetl-bookstore/readers"
	"github.com/aaronlmathis/goetl-bookstore/writers"
)

// Option customizes NewDAG.
type Option func(*dagOptions)

type dagOptions struct {
	s3 output.S3API
}

// WithS3Client sets the client used for s3:// locations. Without it a client
// is built from cfg.S3 when a location needs one.
func WithS3Client(client output.S3API) Option {
	return func(o *dagOptions) { o.s3 = client }
}

// NewDAG assembles the bookstore DAG:
//
//	[get_postgres_data_src, get_json_data_src] >> data_merging >> data_cleaning >> data_transformation
//	data_transformation >> create_postgres_table_destination >> insert_data_into_table
//	data_transformation >> save_data_csv
//
// plus save_data_parquet after data_transformation when cfg.Snapshot is set.
// No connection is opened and no file is touched until the DAG runs.
func NewDAG(ctx context.Context, cfg config.Config, opts ...Option) (*dag.DAG, error) {
	var o dagOptions
	for _, opt := range opts {
		opt(&o)
	}

	startDate, err := cfg.StartTime()
	if err != nil {
		return nil, fmt.Errorf("start date: %w", err)
	}

	if o.s3 == nil && needsS3(cfg) {
		client, err := output.NewS3Client(ctx, output.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		o.s3 = client
	}

	documents, err := documentSource(cfg, o.s3)
	if err != nil {
		return nil, err
	}

	writerOpts := []writers.PostgresWriterOption{
		writers.WithPostgresDriver(cfg.Destination.Driver),
		writers.WithPostgresDSN(cfg.Destination.DSN),
		writers.WithTableName(cfg.Destination.Table),
		writers.WithColumns(DestinationColumns),
		writers.WithPostgresBatchSize(cfg.Destination.BatchSize),
		writers.WithTruncateTable(true),
		writers.WithStringifyValues(true),
		writers.WithTransactionMode(true),
	}
	if !writers.ValidTableName(cfg.Destination.Table) {
		return nil, fmt.Errorf("invalid destination table name %q", cfg.Destination.Table)
	}
	destination := writers.NewLazySink(func(ctx context.Context) (core.DataSink, error) {
		return writers.NewPostgresWriter(writerOpts...)
	})

	csvLocation, err := output.ParseLocation(cfg.CSVPath, o.s3)
	if err != nil {
		return nil, fmt.Errorf("csv path: %w", err)
	}
	csvSink, err := csvLocation.NewSink(output.FormatCSV, DestinationColumns...)
	if err != nil {
		return nil, err
	}

	source := cfg.Source
	builder := dag.NewDAG(cfg.DAG.ID, "Bookstore ETL").
		WithDescription("Extract books from a SQL table and a document source, merge, clean, transform and load them into a table and a CSV file").
		WithOwner(cfg.DAG.Owner).
		WithSchedule(cfg.DAG.Schedule, startDate, cfg.DAG.Catchup).
		WithTags("bookstore", "etl").
		WithMaxParallelism(cfg.DAG.MaxParallelism).
		AddSourceTaskFunc(TaskExtractSQL, func(ctx context.Context) (core.DataSource, error) {
			return readers.NewPostgresReader(
				readers.WithPostgresDriver(source.Driver),
				readers.WithPostgresDSN(source.DSN),
				readers.WithPostgresQuery(source.Query),
				readers.WithPostgresBatchSize(source.BatchSize),
			)
		}, tasks.WithDescription("Read the books table")).
		AddSourceTaskFunc(TaskExtractJSON, documents, tasks.WithDescription("Read the book documents")).
		AddJoinTask(TaskMerge, MergeConfig(cfg.Mongo.Enabled()), []string{TaskExtractSQL, TaskExtractJSON},
			tasks.WithDescription("Outer join both sources on their shared columns")).
		AddBatchTask(TaskClean, core.BatchFunc(Clean), []string{TaskMerge},
			tasks.WithDescription("Drop null and duplicate rows, trim and lowercase strings")).
		AddBatchTask(TaskTransform, TransformChecked(cfg.Quality.MinRows), []string{TaskClean},
			tasks.WithDescription("Derive publication_year, domain and discount, then check the result")).
		AddExecTask(TaskCreateTable, createTable(cfg.Destination.Driver, cfg.Destination.DSN, CreateDestinationTableSQL(cfg.Destination.Table)), []string{TaskTransform},
			tasks.WithDescription("Create the destination table if it does not exist")).
		AddSinkTask(TaskInsert, destination, []string{TaskCreateTable},
			tasks.WithDescription("Replace the destination table contents")).
		AddSinkTask(TaskSaveCSV, csvSink, []string{TaskTransform},
			tasks.WithDescription("Write the CSV file"))

	if cfg.Snapshot != "" {
		format, err := output.FormatFromPath(cfg.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("snapshot path: %w", err)
		}
		loc, err := output.ParseLocation(cfg.Snapshot, o.s3)
		if err != nil {
			return nil, fmt.Errorf("snapshot path: %w", err)
		}
		snapshot, err := loc.NewSink(format, DestinationColumns...)
		if err != nil {
			return nil, err
		}
		builder.AddSinkTask(TaskSaveSnapshot, snapshot, []string{TaskTransform},
			tasks.WithDescription("Write a snapshot of the transformed books"))
	}

	if timeout := time.Duration(cfg.Tasks.Timeout); timeout > 0 {
		builder.WithDefaultTimeout(timeout)
	}
	if cfg.Tasks.Retries > 0 {
		builder.WithDefaultRetries(&tasks.RetryConfig{
			MaxRetries: cfg.Tasks.Retries,
			Strategy:   &tasks.FixedBackoff{FixedDelay: time.Duration(cfg.Tasks.RetryDelay)},
		})
	}

	return builder.Build()
}

func needsS3(cfg config.Config) bool {
	return (!cfg.Mongo.Enabled() && output.IsS3(cfg.JSONPath)) ||
		output.IsS3(cfg.CSVPath) ||
		output.IsS3(cfg.Snapshot)
}

// documentSource opens the MongoDB collection when one is configured and the
// document file otherwise. The file is decoded by extension: .csv, .parquet, or JSON.
func documentSource(cfg config.Config, client output.S3API) (tasks.SourceOpener, error) {
	if cfg.Mongo.Enabled() {
		mongo := cfg.Mongo
		return func(ctx context.Context) (core.DataSource, error) {
			return readers.NewMongoReader(
				readers.WithMongoURI(mongo.URI),
				readers.WithMongoDB(mongo.Database),
				readers.WithMongoCollection(mongo.Collection),
			)
		}, nil
	}

	loc, err := output.ParseLocation(cfg.JSONPath, client)
	if err != nil {
		return nil, fmt.Errorf("json path: %w", err)
	}
	format, err := output.FormatFromPath(cfg.JSONPath)
	if err != nil {
		// Unrecognized extensions are read as JSON.
		format = output.FormatJSON
	}
	return func(ctx context.Context) (core.DataSource, error) {
		rc, err := loc.Open(ctx)
		if err != nil {
			return nil, err
		}
		switch format {
		case output.FormatCSV:
			return readers.NewCSVReader(rc, readers.WithCSVStringColumns(TextColumns...)), nil
		case output.FormatParquet:
			pr, err := readers.NewParquetReader(rc)
			if err != nil {
				return nil, err
			}
			return pr, nil
		default:
			return readers.NewJSONReader(rc), nil
		}
	}, nil
}

// createTable runs the destination DDL on its own connection.
func createTable(driver, dsn, statement string) tasks.ExecFunc {
	return func(ctx context.Context) (err error) {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return fmt.Errorf("open destination: %w", err)
		}
		defer func() {
			err = errors.Join(err, db.Close())
		}()

		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("create destination table: %w", err)
		}
		return nil
	}
}
