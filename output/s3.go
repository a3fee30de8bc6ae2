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

package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/writers"
)

// S3API is the subset of the S3 client used by S3Location.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the S3 client.
type S3Config struct {
	Region          string
	Profile         string
	Endpoint        string // Custom endpoint, e.g. for MinIO or LocalStack
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Client builds an S3 client from the default AWS configuration chain,
// overridden by cfg. No request is made.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Location writes objects to an S3 bucket.
type S3Location struct {
	Bucket  string
	Key     string
	Client  S3API
	Timeout time.Duration // Upload/download timeout; zero means 5 minutes
}

func (s S3Location) String() string { return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key) }

func (s S3Location) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 5 * time.Minute
}

// Open downloads the object.
func (s S3Location) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("%s: s3 client not configured", s)
	}
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", s, err)
	}
	return out.Body, nil
}

// NewSink creates a writer that buffers the object in memory and uploads it on Close.
func (s S3Location) NewSink(format Format, columns ...string) (core.DataSink, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("%s: s3 client not configured", s)
	}
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	return writers.NewLazySink(func(ctx context.Context) (core.DataSink, error) {
		return newWriter(format, &s3WriteCloser{
			ctx:         ctx,
			buf:         &bytes.Buffer{},
			location:    s,
			contentType: format.contentType(),
		}, columns)
	}), nil
}

// s3WriteCloser uploads under the context the sink was opened with, so a
// cancelled run or task timeout aborts the upload.
type s3WriteCloser struct {
	ctx         context.Context
	buf         *bytes.Buffer
	location    S3Location
	contentType string
	closed      bool
}

func (s *s3WriteCloser) Write(p []byte) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("%s: write after close", s.location)
	}
	return s.buf.Write(p)
}

// Close uploads the buffered object. Later calls do nothing.
func (s *s3WriteCloser) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, s.location.timeout())
	defer cancel()

	_, err := s.location.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.location.Bucket),
		Key:           aws.String(s.location.Key),
		Body:          bytes.NewReader(s.buf.Bytes()),
		ContentLength: aws.Int64(int64(s.buf.Len())),
		ContentType:   aws.String(s.contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.location, err)
	}
	return nil
}
