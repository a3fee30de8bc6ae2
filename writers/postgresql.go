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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// Package writers provides implementations of core.DataSink for writing data to various destinations.
//
// This file implements a configurable SQL table writer for PostgreSQL (and SQLite, for local runs).
// It supports batching, lazy connection, table replacement, conflict resolution, and statistics.

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// PostgresWriterError wraps PostgreSQL-specific write errors with context about the operation.
type PostgresWriterError struct {
	Op  string // The operation being performed (e.g., "write", "connect")
	Err error  // The underlying error
}

// Error returns the error string for PostgresWriterError.
func (e *PostgresWriterError) Error() string {
	return fmt.Sprintf("postgres writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for PostgresWriterError.
func (e *PostgresWriterError) Unwrap() error {
	return e.Err
}

// PostgresWriterStats holds write performance statistics.
type PostgresWriterStats struct {
	RecordsWritten   int64
	BatchesWritten   int64
	TransactionCount int64
	LastWriteTime    time.Time
	WriteDuration    time.Duration
	ConnectionTime   time.Duration
	NullValueCounts  map[string]int64
	ConflictCount    int64
}

// ConflictResolution defines how to handle INSERT conflicts.
type ConflictResolution int

const (
	// ConflictError returns an error on conflict (default behavior).
	ConflictError ConflictResolution = iota
	// ConflictIgnore ignores conflicting rows (ON CONFLICT DO NOTHING).
	ConflictIgnore
	// ConflictUpdate updates conflicting rows (ON CONFLICT DO UPDATE).
	ConflictUpdate
)

// PostgresWriterOptions configures the table writer.
type PostgresWriterOptions struct {
	Driver             string             // database/sql driver name: "postgres" or "sqlite"
	DSN                string             // Connection string
	TableName          string             // Target table name
	Columns            []string           // Columns to write (order matters); empty means the first record's keys, sorted
	BatchSize          int                // Number of records per batch
	CreateTable        bool               // Create table if not exists, typed from the first record
	TruncateTable      bool               // Empty the table before writing, even when no records arrive
	StringifyValues    bool               // Write every non-nil value as text
	ConflictResolution ConflictResolution // Conflict handling strategy
	ConflictColumns    []string           // Columns that define uniqueness for conflict resolution
	UpdateColumns      []string           // Columns to update on conflict (for ConflictUpdate)
	TransactionMode    bool               // Wrap batches in transactions
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	MaxOpenConns       int
	MaxIdleConns       int
	QueryTimeout       time.Duration
}

// PostgresWriterOption represents a configuration function for PostgresWriterOptions.
type PostgresWriterOption func(*PostgresWriterOptions)

// WithPostgresDriver selects the database/sql driver.
func WithPostgresDriver(driver string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Driver = driver
	}
}

// WithPostgresDSN sets the connection string.
func WithPostgresDSN(dsn string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.DSN = dsn
	}
}

// WithTableName sets the target table name.
func WithTableName(tableName string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TableName = tableName
	}
}

// WithColumns sets the columns to write. Record fields outside this list are ignored.
func WithColumns(columns []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// WithPostgresBatchSize sets the batch size for writes.
func WithPostgresBatchSize(size int) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCreateTable enables or disables table creation.
func WithCreateTable(create bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.CreateTable = create
	}
}

// WithTruncateTable enables or disables table truncation before writing.
func WithTruncateTable(truncate bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TruncateTable = truncate
	}
}

// WithStringifyValues writes values as text, for all-TEXT tables.
func WithStringifyValues(stringify bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.StringifyValues = stringify
	}
}

// WithConflictResolution sets the conflict resolution strategy and columns.
func WithConflictResolution(resolution ConflictResolution, conflictCols, updateCols []string) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.ConflictResolution = resolution
		opts.ConflictColumns = append([]string(nil), conflictCols...)
		opts.UpdateColumns = append([]string(nil), updateCols...)
	}
}

// WithTransactionMode enables or disables transaction wrapping for batches.
func WithTransactionMode(enabled bool) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.TransactionMode = enabled
	}
}

// WithPostgresConnectionPool configures the connection pool.
func WithPostgresConnectionPool(maxOpen, maxIdle int, maxLifetime, maxIdleTime time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = maxLifetime
		opts.ConnMaxIdleTime = maxIdleTime
	}
}

// WithPostgresQueryTimeout sets the query timeout.
func WithPostgresQueryTimeout(timeout time.Duration) PostgresWriterOption {
	return func(opts *PostgresWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// PostgresWriter implements core.DataSink for SQL tables.
// It connects, and creates or truncates the table, on the first Write or Flush.
type PostgresWriter struct {
	db          *sql.DB
	options     PostgresWriterOptions
	columns     []string
	recordBuf   []core.Record
	stats       PostgresWriterStats
	prepared    *sql.Stmt
	initialized bool
	errorState  bool
	closed      bool
	mu          sync.Mutex
}

// NewPostgresWriter creates a new table writer with the given options.
// No connection is made until data is written or flushed.
func NewPostgresWriter(opts ...PostgresWriterOption) (*PostgresWriter, error) {
	options := (&PostgresWriterOptions{}).withDefaults()

	for _, opt := range opts {
		opt(options)
	}

	if err := validateOptions(options); err != nil {
		return nil, &PostgresWriterError{Op: "validate", Err: err}
	}

	return &PostgresWriter{
		options:   *options,
		columns:   append([]string(nil), options.Columns...),
		recordBuf: make([]core.Record, 0, options.BatchSize),
		stats:     PostgresWriterStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

// Stats returns a copy of the current write statistics.
func (w *PostgresWriter) Stats() PostgresWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	statsCopy := w.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(w.stats.NullValueCounts))
	for k, v := range w.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Write implements the core.DataSink interface.
// Buffers records and writes in batches. Thread-safe.
func (w *PostgresWriter) Write(ctx context.Context, record core.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.errorState {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if w.closed {
		return &PostgresWriterError{Op: "write", Err: fmt.Errorf("writer is closed")}
	}

	if !w.initialized {
		if err := w.initializeUnsafe(ctx, record); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "initialize", Err: err}
		}
	}

	for _, col := range w.columns {
		if record[col] == nil {
			w.stats.NullValueCounts[col]++
		}
	}

	w.recordBuf = append(w.recordBuf, record)

	if len(w.recordBuf) >= w.options.BatchSize {
		if err := w.flushBufferUnsafe(ctx); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "flush_batch", Err: err}
		}
	}

	return nil
}

// Flush implements the core.DataSink interface.
// Forces any buffered records to be written. When nothing has been written
// yet it still connects and applies table creation and truncation.
func (w *PostgresWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.errorState {
		return &PostgresWriterError{Op: "flush", Err: fmt.Errorf("writer is in error state")}
	}
	if w.closed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()

	if !w.initialized {
		if err := w.initializeUnsafe(ctx, nil); err != nil {
			w.errorState = true
			return &PostgresWriterError{Op: "initialize", Err: err}
		}
	}

	if err := w.flushBufferUnsafe(ctx); err != nil {
		w.errorState = true
		return &PostgresWriterError{Op: "flush", Err: err}
	}
	return nil
}

// Close implements the core.DataSink interface.
// Flushes and closes all resources.
func (w *PostgresWriter) Close() error {
	var flushErr error
	w.mu.Lock()
	pending := !w.closed && !w.errorState && (len(w.recordBuf) > 0 || !w.initialized)
	w.mu.Unlock()
	if pending {
		flushErr = w.Flush()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return flushErr
	}
	w.closed = true

	var errs []error
	if flushErr != nil {
		errs = append(errs, flushErr)
	}
	if w.prepared != nil {
		if err := w.prepared.Close(); err != nil {
			errs = append(errs, err)
		}
		w.prepared = nil
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			errs = append(errs, &PostgresWriterError{Op: "close", Err: err})
		}
		w.db = nil
	}
	return errors.Join(errs...)
}

// withDefaults applies default values to PostgresWriterOptions.
func (opts *PostgresWriterOptions) withDefaults() *PostgresWriterOptions {
	if opts.Driver == "" {
		opts.Driver = DriverPostgres
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.ConnMaxIdleTime == 0 {
		opts.ConnMaxIdleTime = 1 * time.Minute
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	return opts
}

// validateOptions validates the writer options.
func validateOptions(opts *PostgresWriterOptions) error {
	if opts.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if opts.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if opts.Driver != DriverPostgres && opts.Driver != DriverSQLite {
		return fmt.Errorf("unsupported driver %q", opts.Driver)
	}
	if opts.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if !isValidIdentifier(opts.TableName, true) {
		return fmt.Errorf("invalid table name %q", opts.TableName)
	}
	for _, group := range [][]string{opts.Columns, opts.ConflictColumns, opts.UpdateColumns} {
		for _, col := range group {
			if !isValidIdentifier(col, false) {
				return fmt.Errorf("invalid column name %q", col)
			}
		}
	}
	if opts.ConflictResolution == ConflictUpdate && len(opts.UpdateColumns) == 0 {
		return fmt.Errorf("update columns required for conflict update resolution")
	}
	if opts.ConflictResolution != ConflictError && len(opts.ConflictColumns) == 0 {
		return fmt.Errorf("conflict columns required for conflict resolution")
	}
	return nil
}

// ValidTableName reports whether name is usable as a table name: an unquoted
// identifier, optionally qualified by a schema.
func ValidTableName(name string) bool {
	return isValidIdentifier(name, true)
}

// isValidIdentifier accepts unquoted SQL identifiers, optionally schema-qualified.
func isValidIdentifier(name string, qualified bool) bool {
	parts := []string{name}
	if qualified {
		parts = strings.Split(name, ".")
		if len(parts) > 2 {
			return false
		}
	}
	for _, part := range parts {
		if part == "" || len(part) > 63 {
			return false
		}
		for i, r := range part {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

// connectUnsafe establishes the database connection and configures the connection pool (must hold mutex).
func (w *PostgresWriter) connectUnsafe(ctx context.Context) error {
	start := time.Now()

	db, err := sql.Open(w.options.Driver, w.options.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(w.options.MaxOpenConns)
	db.SetMaxIdleConns(w.options.MaxIdleConns)
	db.SetConnMaxLifetime(w.options.ConnMaxLifetime)
	db.SetConnMaxIdleTime(w.options.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	w.db = db
	w.stats.ConnectionTime = time.Since(start)
	return nil
}

// initializeUnsafe performs one-time initialization (must hold mutex).
// firstRecord is nil when initialization is triggered by a flush with no data.
func (w *PostgresWriter) initializeUnsafe(ctx context.Context, firstRecord core.Record) error {
	if err := w.connectUnsafe(ctx); err != nil {
		return err
	}

	if len(w.columns) == 0 && firstRecord != nil {
		for key := range firstRecord {
			if !isValidIdentifier(key, false) {
				return fmt.Errorf("invalid column name %q", key)
			}
			w.columns = append(w.columns, key)
		}
		sort.Strings(w.columns)
	}

	if w.options.CreateTable && len(w.columns) > 0 {
		if err := w.createTableUnsafe(ctx, firstRecord); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if w.options.TruncateTable {
		if err := w.truncateTableUnsafe(ctx); err != nil {
			return fmt.Errorf("failed to truncate table: %w", err)
		}
	}

	if len(w.columns) > 0 {
		if err := w.prepareStatementUnsafe(ctx); err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
	}

	w.initialized = true
	return nil
}

// createTableUnsafe creates the target table based on the first record (must hold mutex).
func (w *PostgresWriter) createTableUnsafe(ctx context.Context, record core.Record) error {
	columns := make([]string, 0, len(w.columns))
	for _, col := range w.columns {
		sqlType := "TEXT"
		if !w.options.StringifyValues {
			sqlType = w.inferSQLType(record[col])
		}
		columns = append(columns, fmt.Sprintf("%s %s", col, sqlType))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", w.options.TableName, strings.Join(columns, ", "))
	_, err := w.db.ExecContext(ctx, query)
	return err
}

// truncateTableUnsafe empties the target table (must hold mutex).
func (w *PostgresWriter) truncateTableUnsafe(ctx context.Context) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s", w.options.TableName)
	if w.options.Driver == DriverSQLite {
		query = fmt.Sprintf("DELETE FROM %s", w.options.TableName)
	}
	_, err := w.db.ExecContext(ctx, query)
	return err
}

// insertQuery builds the INSERT statement for the writer's columns.
func (w *PostgresWriter) insertQuery() string {
	placeholders := make([]string, len(w.columns))
	for i := range placeholders {
		if w.options.Driver == DriverSQLite {
			placeholders[i] = "?"
		} else {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		w.options.TableName,
		strings.Join(w.columns, ", "),
		strings.Join(placeholders, ", "))

	switch w.options.ConflictResolution {
	case ConflictIgnore:
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", insert, strings.Join(w.options.ConflictColumns, ", "))
	case ConflictUpdate:
		updateClauses := make([]string, len(w.options.UpdateColumns))
		for i, col := range w.options.UpdateColumns {
			updateClauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
		}
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", insert,
			strings.Join(w.options.ConflictColumns, ", "),
			strings.Join(updateClauses, ", "))
	default:
		return insert
	}
}

// prepareStatementUnsafe prepares the INSERT statement (must hold mutex).
func (w *PostgresWriter) prepareStatementUnsafe(ctx context.Context) error {
	stmt, err := w.db.PrepareContext(ctx, w.insertQuery())
	if err != nil {
		return err
	}
	w.prepared = stmt
	return nil
}

// flushBufferUnsafe writes buffered records (must hold mutex).
func (w *PostgresWriter) flushBufferUnsafe(ctx context.Context) (err error) {
	if len(w.recordBuf) == 0 {
		return nil
	}

	start := time.Now()

	var tx *sql.Tx
	if w.options.TransactionMode {
		tx, err = w.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()
	}

	stmt := w.prepared
	if tx != nil {
		stmt = tx.StmtContext(ctx, w.prepared)
		defer stmt.Close()
	}

	for _, record := range w.recordBuf {
		values := make([]interface{}, len(w.columns))
		for i, col := range w.columns {
			values[i] = w.convertValue(record[col])
		}

		result, execErr := stmt.ExecContext(ctx, values...)
		if execErr != nil {
			return fmt.Errorf("failed to execute insert: %w", execErr)
		}
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil && rowsAffected == 0 {
			w.stats.ConflictCount++
		}
	}

	if tx != nil {
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		w.stats.TransactionCount++
	}

	w.stats.RecordsWritten += int64(len(w.recordBuf))
	w.stats.BatchesWritten++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)
	w.recordBuf = w.recordBuf[:0]

	return nil
}

// inferSQLType infers a column type from a Go value.
func (w *PostgresWriter) inferSQLType(value interface{}) string {
	switch value.(type) {
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMP"
	case []byte:
		return "BYTEA"
	default:
		return "TEXT"
	}
}

// convertValue converts Go values to driver-compatible types.
func (w *PostgresWriter) convertValue(value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if w.options.StringifyValues {
		if b, ok := value.([]byte); ok {
			return string(b)
		}
		return fmt.Sprintf("%v", value)
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string, []byte:
		return v
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	default:
		return fmt.Sprintf("%v", value)
	}
}
