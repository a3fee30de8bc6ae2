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

package core

import (
	"context"
	"fmt"
	"strings"
)

// Package core defines the error handling types for the GoETL library.
//
// This file contains the per-record error strategy used by record-level tasks.

// ErrorHandler defines how errors are handled during processing.
// Custom error handlers can be used to log, collect, or transform errors.
type ErrorHandler interface {
	// HandleError processes an error that occurred during transformation.
	// Returning a non-nil error will stop the task; returning nil will continue.
	HandleError(ctx context.Context, record Record, err error) error
}

// ErrorStrategy defines how to handle per-record transformation errors.
type ErrorStrategy int

const (
	// FailFast stops processing on the first error encountered.
	FailFast ErrorStrategy = iota
	// SkipErrors continues processing, skipping failed records.
	SkipErrors
	// CollectErrors continues processing, keeping every error for the task result.
	CollectErrors
)

func (s ErrorStrategy) String() string {
	switch s {
	case FailFast:
		return "fail"
	case SkipErrors:
		return "skip"
	case CollectErrors:
		return "collect"
	default:
		return fmt.Sprintf("ErrorStrategy(%d)", int(s))
	}
}

// ParseErrorStrategy maps "fail", "skip" or "collect" to an ErrorStrategy.
func ParseErrorStrategy(s string) (ErrorStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail", "failfast", "fail_fast":
		return FailFast, nil
	case "skip":
		return SkipErrors, nil
	case "collect":
		return CollectErrors, nil
	default:
		return FailFast, fmt.Errorf("unknown error strategy %q", s)
	}
}

// ErrorHandlerFunc is a function adapter for the ErrorHandler interface.
// Allows ordinary functions to be used as error handlers.
type ErrorHandlerFunc func(ctx context.Context, record Record, err error) error

// HandleError implements the ErrorHandler interface for ErrorHandlerFunc.
func (f ErrorHandlerFunc) HandleError(ctx context.Context, record Record, err error) error {
	return f(ctx, record, err)
}

// HandleRecordError applies strategy and handler to an error raised for record.
// It returns a non-nil error when processing should stop.
func HandleRecordError(ctx context.Context, strategy ErrorStrategy, handler ErrorHandler, record Record, err error) error {
	switch strategy {
	case SkipErrors, CollectErrors:
		if handler != nil {
			return handler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return err
	}
}
