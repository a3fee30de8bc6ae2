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
	"crypto/tls"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// This file implements a MongoDB document reader, used as an alternative
// source for the file-side book records.

// MongoReaderError provides structured error information for MongoDB reader operations
type MongoReaderError struct {
	Op         string // Operation that failed (e.g., "connect", "query", "decode", "aggregate")
	Collection string // Collection being accessed when error occurred
	Err        error  // Underlying error
}

func (e *MongoReaderError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("mongo reader %s [%s]: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("mongo reader %s: %v", e.Op, e.Err)
}

func (e *MongoReaderError) Unwrap() error {
	return e.Err
}

// MongoReaderStats holds statistics about the MongoDB reader's performance
type MongoReaderStats struct {
	RecordsRead     int64
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
	ErrorCount      int64
}

// MongoReadMode defines how data should be read from MongoDB
type MongoReadMode string

const (
	ModeFind      MongoReadMode = "find"
	ModeAggregate MongoReadMode = "aggregate"
)

// MongoReaderOptions configures the MongoDB reader
type MongoReaderOptions struct {
	URI            string
	Database       string
	Collection     string
	Mode           MongoReadMode
	Filter         bson.M
	Projection     bson.M
	Sort           bson.D
	Pipeline       []bson.M
	BatchSize      int32
	Limit          int64
	Timeout        time.Duration // Connect and ping timeout
	MaxPoolSize    uint64
	ReadPreference string // primary, primaryPreferred, secondary, secondaryPreferred, nearest
	AuthDatabase   string
	Username       string
	Password       string
	TLS            bool
	TLSInsecure    bool
}

// ReaderOptionMongo is a functional option for MongoReaderOptions
type ReaderOptionMongo func(*MongoReaderOptions)

func WithMongoURI(uri string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.URI = uri
	}
}

func WithMongoDB(database string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Database = database
	}
}

func WithMongoCollection(collection string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Collection = collection
	}
}

func WithMongoFilter(filter bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Filter = filter
	}
}

func WithMongoProjection(projection bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Projection = projection
	}
}

// WithMongoSort sets an ordered sort specification.
func WithMongoSort(sort bson.D) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Sort = sort
	}
}

// WithMongoPipeline switches the reader to aggregate mode.
func WithMongoPipeline(pipeline []bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Pipeline = pipeline
		opts.Mode = ModeAggregate
	}
}

func WithMongoLimit(limit int64) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Limit = limit
	}
}

func WithMongoBatchSize(batchSize int32) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.BatchSize = batchSize
	}
}

func WithMongoTimeout(timeout time.Duration) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Timeout = timeout
	}
}

func WithMongoReadPreference(preference string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.ReadPreference = preference
	}
}

func WithMongoAuth(username, password, authDB string) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Username = username
		opts.Password = password
		opts.AuthDatabase = authDB
	}
}

func WithMongoTLS(enabled, insecure bool) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.TLS = enabled
		opts.TLSInsecure = insecure
	}
}

// MongoReader implements core.DataSource for MongoDB collections.
// It connects on the first Read.
type MongoReader struct {
	mu        sync.Mutex
	client    *mongo.Client
	cursor    *mongo.Cursor
	opts      *MongoReaderOptions
	stats     MongoReaderStats
	connected bool
}

// NewMongoReader creates a new MongoDB reader with configurable options
func NewMongoReader(options ...ReaderOptionMongo) (*MongoReader, error) {
	opts := &MongoReaderOptions{
		URI:            "mongodb://localhost:27017",
		Mode:           ModeFind,
		BatchSize:      1000,
		Timeout:        30 * time.Second,
		MaxPoolSize:    10,
		ReadPreference: "primary",
	}

	for _, option := range options {
		option(opts)
	}

	if opts.Database == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("database name is required")}
	}
	if opts.Collection == "" {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("collection name is required")}
	}
	if opts.Mode == ModeAggregate && len(opts.Pipeline) == 0 {
		return nil, &MongoReaderError{Op: "validate", Err: fmt.Errorf("pipeline is required for aggregate mode")}
	}
	if _, err := parseReadPreference(opts.ReadPreference); err != nil {
		return nil, &MongoReaderError{Op: "validate", Err: err}
	}

	return &MongoReader{
		opts:  opts,
		stats: MongoReaderStats{NullValueCounts: make(map[string]int64)},
	}, nil
}

func parseReadPreference(preference string) (*readpref.ReadPref, error) {
	switch preference {
	case "", "primary":
		return readpref.Primary(), nil
	case "primaryPreferred":
		return readpref.PrimaryPreferred(), nil
	case "secondary":
		return readpref.Secondary(), nil
	case "secondaryPreferred":
		return readpref.SecondaryPreferred(), nil
	case "nearest":
		return readpref.Nearest(), nil
	default:
		return nil, fmt.Errorf("invalid read preference: %s", preference)
	}
}

// buildClientOptions constructs MongoDB client options from reader configuration
func (mr *MongoReader) buildClientOptions() (*options.ClientOptions, error) {
	clientOpts := options.Client().ApplyURI(mr.opts.URI)

	if mr.opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(mr.opts.MaxPoolSize)
	}
	if mr.opts.Timeout > 0 {
		clientOpts.SetConnectTimeout(mr.opts.Timeout)
		clientOpts.SetServerSelectionTimeout(mr.opts.Timeout)
	}

	if mr.opts.Username != "" && mr.opts.Password != "" {
		auth := options.Credential{
			Username:   mr.opts.Username,
			Password:   mr.opts.Password,
			AuthSource: mr.opts.AuthDatabase,
		}
		if auth.AuthSource == "" {
			auth.AuthSource = mr.opts.Database
		}
		clientOpts.SetAuth(auth)
	}

	if mr.opts.TLS {
		clientOpts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: mr.opts.TLSInsecure,
		})
	}

	readPref, err := parseReadPreference(mr.opts.ReadPreference)
	if err != nil {
		return nil, err
	}
	clientOpts.SetReadPreference(readPref)

	return clientOpts, nil
}

func (mr *MongoReader) connect(ctx context.Context) error {
	clientOpts, err := mr.buildClientOptions()
	if err != nil {
		return &MongoReaderError{Op: "build_options", Err: err}
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return &MongoReaderError{Op: "connect", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, mr.opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return &MongoReaderError{Op: "ping", Err: err}
	}

	collection := client.Database(mr.opts.Database).Collection(mr.opts.Collection)

	var cursor *mongo.Cursor
	switch mr.opts.Mode {
	case ModeAggregate:
		aggOpts := options.Aggregate().SetBatchSize(mr.opts.BatchSize)
		cursor, err = collection.Aggregate(ctx, mr.opts.Pipeline, aggOpts)
	default:
		cursor, err = collection.Find(ctx, mr.filter(), mr.findOptions())
	}
	if err != nil {
		_ = client.Disconnect(ctx)
		return &MongoReaderError{Op: string(mr.opts.Mode), Collection: mr.opts.Collection, Err: err}
	}

	mr.client = client
	mr.cursor = cursor
	mr.connected = true
	return nil
}

func (mr *MongoReader) filter() bson.M {
	if mr.opts.Filter == nil {
		return bson.M{}
	}
	return mr.opts.Filter
}

func (mr *MongoReader) findOptions() *options.FindOptions {
	findOpts := options.Find()
	if mr.opts.BatchSize > 0 {
		findOpts.SetBatchSize(mr.opts.BatchSize)
	}
	if mr.opts.Limit > 0 {
		findOpts.SetLimit(mr.opts.Limit)
	}
	if mr.opts.Projection != nil {
		findOpts.SetProjection(mr.opts.Projection)
	}
	if mr.opts.Sort != nil {
		findOpts.SetSort(mr.opts.Sort)
	}
	return findOpts
}

// Read implements the core.DataSource interface
func (mr *MongoReader) Read(ctx context.Context) (core.Record, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	start := time.Now()
	defer func() {
		mr.stats.ReadDuration += time.Since(start)
		mr.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &MongoReaderError{Op: "read", Collection: mr.opts.Collection, Err: ctx.Err()}
	default:
	}

	if !mr.connected {
		if err := mr.connect(ctx); err != nil {
			mr.stats.ErrorCount++
			return nil, err
		}
	}

	if !mr.cursor.Next(ctx) {
		if err := mr.cursor.Err(); err != nil {
			mr.stats.ErrorCount++
			return nil, &MongoReaderError{Op: "cursor_next", Collection: mr.opts.Collection, Err: err}
		}
		return nil, io.EOF
	}

	var doc bson.M
	if err := mr.cursor.Decode(&doc); err != nil {
		mr.stats.ErrorCount++
		return nil, &MongoReaderError{Op: "decode", Collection: mr.opts.Collection, Err: err}
	}

	record := convertBSONToRecord(doc)
	mr.stats.RecordsRead++
	for key, val := range record {
		if val == nil {
			mr.stats.NullValueCounts[key]++
		}
	}

	return record, nil
}

// Close implements the core.DataSource interface
func (mr *MongoReader) Close() error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	ctx := context.Background()
	var errs []string

	if mr.cursor != nil {
		if err := mr.cursor.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("cursor close: %v", err))
		}
		mr.cursor = nil
	}
	if mr.client != nil {
		if err := mr.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("client disconnect: %v", err))
		}
		mr.client = nil
	}
	mr.connected = false

	if len(errs) > 0 {
		return &MongoReaderError{Op: "close", Err: fmt.Errorf("%s", strings.Join(errs, "; "))}
	}
	return nil
}

// Stats returns MongoDB reader performance statistics
func (mr *MongoReader) Stats() MongoReaderStats {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	stats := mr.stats
	stats.NullValueCounts = make(map[string]int64, len(mr.stats.NullValueCounts))
	for k, v := range mr.stats.NullValueCounts {
		stats.NullValueCounts[k] = v
	}
	return stats
}

// convertBSONToRecord converts BSON document to core.Record
func convertBSONToRecord(doc bson.M) core.Record {
	record := make(core.Record, len(doc))
	for key, value := range doc {
		record[key] = convertBSONValue(value)
	}
	return record
}

// convertBSONValue converts BSON values to plain Go types.
// Decimal128 becomes float64 so prices compare and subtract like other numbers.
func convertBSONValue(value interface{}) interface{} {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return f
		}
		return v.String()
	case int32:
		return int64(v)
	case primitive.Binary:
		return v.Data
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC()
	case primitive.Undefined, primitive.Null:
		return nil
	case bson.M:
		result := make(map[string]interface{}, len(v))
		for k, val := range v {
			result[k] = convertBSONValue(val)
		}
		return result
	case bson.A:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = convertBSONValue(val)
		}
		return result
	default:
		return v
	}
}
