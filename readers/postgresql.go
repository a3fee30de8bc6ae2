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
	"database/sql"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// Package readers provides implementations of core.DataSource for reading data from various sources.
//
// This file implements a configurable SQL reader for PostgreSQL (and SQLite, for local runs).
// It supports lazy connection, connection pooling, cursor-based streaming, query parameterization, and statistics.

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// PostgresReaderError provides structured error information for Postgres reader operations
type PostgresReaderError struct {
	Op  string // Operation that failed (e.g., "connect", "query", "scan", "read")
	Err error  // Underlying error
}

func (e *PostgresReaderError) Error() string {
	return fmt.Sprintf("postgres reader %s: %v", e.Op, e.Err)
}

func (e *PostgresReaderError) Unwrap() error {
	return e.Err
}

// PostgresReader implements core.DataSource for SQL databases.
// The connection is opened and the query executed on the first Read.
type PostgresReader struct {
	mu              sync.Mutex
	db              *sql.DB
	tx              *sql.Tx
	rows            *sql.Rows
	columnNames     []string
	columnTypes     []*sql.ColumnType
	scanBuffer      []interface{}
	values          []interface{}
	stats           PostgresReaderStats
	opts            *PostgresReaderOptions
	started         bool
	startErr        error
	isFinished      bool
	closed          bool
	lastHealthCheck time.Time
}

// PostgresReaderStats holds statistics about the Postgres reader's performance
type PostgresReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
	ConnectionTime  time.Duration
}

// PostgresReaderOptions configures the Postgres reader
type PostgresReaderOptions struct {
	Driver              string        // database/sql driver name: "postgres" or "sqlite"
	DSN                 string        // Database connection string
	Query               string        // SQL query to execute
	Params              []interface{} // Optional query parameters
	BatchSize           int           // Records to fetch per batch (used for cursor queries)
	ConnMaxLifetime     time.Duration // Maximum connection lifetime
	ConnMaxIdleTime     time.Duration // Maximum connection idle time
	MaxOpenConns        int           // Maximum open connections
	MaxIdleConns        int           // Maximum idle connections
	QueryTimeout        time.Duration // Connect and query timeout
	UseCursor           bool          // Use server-side cursor for large results (postgres only)
	CursorName          string        // Name for the cursor (if UseCursor is true)
	HealthCheckInterval time.Duration
}

// PostgresReaderOption represents a configuration function for PostgresReaderOptions
type PostgresReaderOption func(*PostgresReaderOptions)

// WithPostgresDriver selects the database/sql driver.
func WithPostgresDriver(driver string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Driver = driver
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.DSN = dsn
	}
}

// WithPostgresQuery sets the SQL query and optional parameters.
func WithPostgresQuery(query string, params ...interface{}) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.Query = query
		if len(params) > 0 {
			opts.Params = make([]interface{}, len(params))
			copy(opts.Params, params)
		}
	}
}

// WithPostgresBatchSize sets the batch size for cursor fetches.
func WithPostgresBatchSize(size int) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.BatchSize = size
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
	}
}

// WithPostgresConnectionTimeout sets connection and idle timeouts.
func WithPostgresConnectionTimeout(lifetime, idleTime time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.ConnMaxLifetime = lifetime
		opts.ConnMaxIdleTime = idleTime
	}
}

func WithPostgresHealthCheckInterval(interval time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.HealthCheckInterval = interval
	}
}

// WithPostgresQueryTimeout sets the connect and query timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.QueryTimeout = timeout
	}
}

// WithPostgresCursor enables or disables server-side cursor usage for large results.
func WithPostgresCursor(useCursor bool, cursorName string) PostgresReaderOption {
	return func(opts *PostgresReaderOptions) {
		opts.UseCursor = useCursor
		opts.CursorName = cursorName
	}
}

// NewPostgresReader creates a new SQL reader with the given options.
// It validates the options but does not touch the database until the first Read.
func NewPostgresReader(options ...PostgresReaderOption) (*PostgresReader, error) {
	opts := (&PostgresReaderOptions{}).withDefaults()

	for _, option := range options {
		option(opts)
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &PostgresReader{
		opts: opts,
		stats: PostgresReaderStats{
			NullValueCounts: make(map[string]int64),
		},
	}, nil
}

func (opts *PostgresReaderOptions) validate() error {
	if opts.DSN == "" {
		return &PostgresReaderError{Op: "validate", Err: fmt.Errorf("dsn is required")}
	}
	if opts.Query == "" {
		return &PostgresReaderError{Op: "validate", Err: fmt.Errorf("query is required")}
	}
	switch opts.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if opts.UseCursor {
			return &PostgresReaderError{Op: "validate", Err: fmt.Errorf("cursors require the %s driver", DriverPostgres)}
		}
	default:
		return &PostgresReaderError{Op: "validate", Err: fmt.Errorf("unsupported driver %q", opts.Driver)}
	}
	if opts.UseCursor && !isValidCursorName(opts.CursorName) {
		return &PostgresReaderError{Op: "validate_cursor", Err: fmt.Errorf("invalid cursor name: %s", opts.CursorName)}
	}
	return nil
}

// withDefaults applies default values to PostgresReaderOptions
func (opts *PostgresReaderOptions) withDefaults() *PostgresReaderOptions {
	result := &PostgresReaderOptions{}
	if opts != nil {
		*result = *opts
	}

	if result.Driver == "" {
		result.Driver = DriverPostgres
	}
	if result.BatchSize <= 0 {
		result.BatchSize = 1000
	}
	if result.QueryTimeout <= 0 {
		result.QueryTimeout = 30 * time.Second
	}
	if result.ConnMaxLifetime <= 0 {
		result.ConnMaxLifetime = 5 * time.Minute
	}
	if result.ConnMaxIdleTime <= 0 {
		result.ConnMaxIdleTime = 1 * time.Minute
	}
	if result.MaxOpenConns <= 0 {
		result.MaxOpenConns = 10
	}
	if result.MaxIdleConns <= 0 {
		result.MaxIdleConns = 5
	}
	if result.HealthCheckInterval <= 0 {
		result.HealthCheckInterval = 30 * time.Second
	}
	if result.CursorName == "" {
		result.CursorName = "goetl_cursor"
	}

	return result
}

// Stats returns statistics about the reader's performance
func (p *PostgresReader) Stats() PostgresReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}

	return statsCopy
}

// Read implements the core.DataSource interface.
// Reads the next record from the query result. Thread-safe.
func (p *PostgresReader) Read(ctx context.Context) (core.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(startTime)
		p.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &PostgresReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if p.closed {
		return nil, &PostgresReaderError{Op: "read", Err: fmt.Errorf("reader is closed")}
	}

	if p.startErr != nil {
		return nil, p.startErr
	}
	if !p.started {
		if err := p.start(ctx); err != nil {
			p.startErr = err
			return nil, err
		}
	} else if time.Since(p.lastHealthCheck) > p.opts.HealthCheckInterval {
		if err := p.db.PingContext(ctx); err != nil {
			return nil, &PostgresReaderError{Op: "ping", Err: err}
		}
		p.lastHealthCheck = time.Now()
	}

	if p.isFinished || p.rows == nil {
		return nil, io.EOF
	}

	if !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return nil, &PostgresReaderError{Op: "read", Err: err}
		}
		more, err := p.fetchNextBatch(ctx)
		if err != nil {
			return nil, err
		}
		if !more {
			p.isFinished = true
			return nil, io.EOF
		}
	}

	if err := p.rows.Scan(p.scanBuffer...); err != nil {
		return nil, &PostgresReaderError{Op: "scan", Err: err}
	}

	record, err := p.convertRowToRecord()
	if err != nil {
		return nil, err
	}
	p.stats.RecordsRead++

	return record, nil
}

// Close releases all resources held by the reader
func (p *PostgresReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []string
	if p.rows != nil {
		if err := p.rows.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("closing rows: %v", err))
		}
		p.rows = nil
	}
	if p.tx != nil {
		if err := p.tx.Rollback(); err != nil {
			errs = append(errs, fmt.Sprintf("rolling back transaction: %v", err))
		}
		p.tx = nil
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("closing database: %v", err))
		}
		p.db = nil
	}

	if len(errs) > 0 {
		return &PostgresReaderError{Op: "close", Err: fmt.Errorf("%s", strings.Join(errs, "; "))}
	}
	return nil
}

// Schema returns a map of column name to database type name.
// It is empty until the first Read has executed the query.
func (p *PostgresReader) Schema() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	schema := make(map[string]string, len(p.columnNames))
	for i, name := range p.columnNames {
		if i < len(p.columnTypes) {
			schema[name] = p.columnTypes[i].DatabaseTypeName()
		}
	}
	return schema
}

// start opens the connection and executes the query
func (p *PostgresReader) start(ctx context.Context) error {
	p.started = true
	opts := p.opts

	connStart := time.Now()
	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return &PostgresReaderError{Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	p.db = db

	pingCtx, cancel := context.WithTimeout(ctx, opts.QueryTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return &PostgresReaderError{Op: "ping", Err: err}
	}
	p.stats.ConnectionTime = time.Since(connStart)
	p.lastHealthCheck = time.Now()

	queryStart := time.Now()
	if opts.UseCursor {
		err = p.executeWithCursor(ctx)
	} else {
		p.rows, err = db.QueryContext(ctx, opts.Query, opts.Params...)
	}
	if err != nil {
		return &PostgresReaderError{Op: "query", Err: err}
	}
	p.stats.QueryDuration = time.Since(queryStart)

	return p.describeColumns()
}

func (p *PostgresReader) describeColumns() error {
	columnNames, err := p.rows.Columns()
	if err != nil {
		return &PostgresReaderError{Op: "columns", Err: err}
	}
	columnTypes, err := p.rows.ColumnTypes()
	if err != nil {
		return &PostgresReaderError{Op: "column_types", Err: err}
	}
	p.columnNames = columnNames
	p.columnTypes = columnTypes

	p.values = make([]interface{}, len(columnNames))
	p.scanBuffer = make([]interface{}, len(columnNames))
	for i := range p.scanBuffer {
		p.scanBuffer[i] = &p.values[i]
	}
	return nil
}

// executeWithCursor declares a server-side cursor and fetches the first batch
func (p *PostgresReader) executeWithCursor(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	p.tx = tx

	declareSQL := fmt.Sprintf("DECLARE %s CURSOR FOR %s", p.opts.CursorName, p.opts.Query)
	if _, err := tx.ExecContext(ctx, declareSQL, p.opts.Params...); err != nil {
		return fmt.Errorf("declare cursor: %w", err)
	}

	p.rows, err = tx.QueryContext(ctx, p.fetchSQL())
	if err != nil {
		return fmt.Errorf("fetch cursor: %w", err)
	}
	return nil
}

func (p *PostgresReader) fetchSQL() string {
	return fmt.Sprintf("FETCH %d FROM %s", p.opts.BatchSize, p.opts.CursorName)
}

// fetchNextBatch advances a cursor to its next batch. It reports false when
// the cursor is exhausted or no cursor is in use.
func (p *PostgresReader) fetchNextBatch(ctx context.Context) (bool, error) {
	if p.tx == nil {
		return false, nil
	}
	if err := p.rows.Close(); err != nil {
		return false, &PostgresReaderError{Op: "fetch_cursor", Err: err}
	}
	rows, err := p.tx.QueryContext(ctx, p.fetchSQL())
	if err != nil {
		p.rows = nil
		return false, &PostgresReaderError{Op: "fetch_cursor", Err: err}
	}
	p.rows = rows
	if !rows.Next() {
		return false, rows.Err()
	}
	return true, nil
}

// isValidCursorName validates cursor name for SQL injection prevention
func isValidCursorName(name string) bool {
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return len(name) > 0 && len(name) <= 63 // PostgreSQL identifier limit
}

// convertSQLValue converts SQL driver values to plain Go types.
// NUMERIC columns arrive as text from lib/pq and are parsed to float64.
func convertSQLValue(value interface{}, dbType string) (interface{}, error) {
	if b, ok := value.([]byte); ok {
		switch strings.ToUpper(dbType) {
		case "NUMERIC", "DECIMAL":
			f, err := strconv.ParseFloat(string(b), 64)
			if err != nil {
				return nil, err
			}
			return f, nil
		case "BYTEA", "BLOB":
			return b, nil
		default:
			return string(b), nil
		}
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string:
		return v, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32:
		return rv.Float(), nil
	default:
		return fmt.Sprintf("%v", value), nil
	}
}

// convertRowToRecord converts the scanned SQL row values to a core.Record
func (p *PostgresReader) convertRowToRecord() (core.Record, error) {
	record := make(core.Record, len(p.columnNames))

	for i, columnName := range p.columnNames {
		value := p.values[i]
		if value == nil {
			p.stats.NullValueCounts[columnName]++
			record[columnName] = nil
			continue
		}

		converted, err := convertSQLValue(value, p.columnTypes[i].DatabaseTypeName())
		if err != nil {
			return nil, &PostgresReaderError{Op: "convert", Err: fmt.Errorf("column %s: %w", columnName, err)}
		}
		record[columnName] = converted
	}

	return record, nil
}
