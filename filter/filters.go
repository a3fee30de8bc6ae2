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

package filter

import (
	"context"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// Package filter provides reusable, composable record filtering functions for GoETL pipelines.
//
// This package includes null checks, boolean combinators and custom predicates.
// All functions return core.Filter implementations for use in ETL pipelines.

// NotNull creates a filter that excludes records where the specified field is missing,
// nil or NaN. Empty strings are values, not nulls.
func NotNull(field string) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		return !core.IsNull(record[field]), nil
	})
}

// Complete creates a filter that keeps only records with a non-null value in every listed field.
// With no fields it checks every field present in the record.
func Complete(fields ...string) core.Filter {
	if len(fields) == 0 {
		return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
			for _, v := range record {
				if core.IsNull(v) {
					return false, nil
				}
			}
			return true, nil
		})
	}

	checks := make([]core.Filter, len(fields))
	for i, field := range fields {
		checks[i] = NotNull(field)
	}
	return And(checks...)
}

// And creates a filter that requires all provided filters to pass
func And(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if !include {
				return false, nil
			}
		}
		return true, nil
	})
}

// Or creates a filter that requires at least one of the provided filters to pass
func Or(filters ...core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		for _, filter := range filters {
			include, err := filter.ShouldInclude(ctx, record)
			if err != nil {
				return false, err
			}
			if include {
				return true, nil
			}
		}
		return false, nil
	})
}

// Not creates a filter that negates the provided filter
func Not(filter core.Filter) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return false, err
		}
		return !include, nil
	})
}

// Custom creates a filter using a user-provided predicate function
// The predicate function receives a record and returns true if the record should be included
func Custom(predicate func(core.Record) bool) core.Filter {
	return core.FilterFunc(func(ctx context.Context, record core.Record) (bool, error) {
		return predicate(record), nil
	})
}

// Apply returns the records that pass filter, preserving order.
func Apply(ctx context.Context, filter core.Filter, records []core.Record) ([]core.Record, error) {
	kept := make([]core.Record, 0, len(records))
	for _, record := range records {
		include, err := filter.ShouldInclude(ctx, record)
		if err != nil {
			return nil, err
		}
		if include {
			kept = append(kept, record)
		}
	}
	return kept, nil
}
