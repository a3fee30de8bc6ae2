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
	"fmt"
	"regexp"

	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/dag/tasks"
	"github.com/aaronlmathis/goetl-bookstore/filter"
	"github.com/aaronlmathis/goetl-bookstore/logger"
	"github.com/aaronlmathis/goetl-bookstore/transform"
	"github.com/aaronlmathis/goetl-bookstore/validators"
)

// ErrNoSharedColumns is returned by Merge when the two inputs have no column
// in common to join on.
var ErrNoSharedColumns = tasks.ErrNoSharedColumns

var (
	yearPattern   = regexp.MustCompile(`\d{4}`)
	domainPattern = regexp.MustCompile(`://(.[^/]+)`)
)

// MergeConfig is the join used to merge the relational rows (left) with the
// document rows (right): a full outer join on every shared column, after the
// document side's own ids are dropped. MongoDB documents also carry _id.
func MergeConfig(mongo bool) tasks.JoinConfig {
	drop := []string{ColID}
	if mongo {
		drop = append(drop, "_id")
	}
	return tasks.JoinConfig{
		JoinType:  tasks.JoinOuter,
		DropRight: drop,
	}
}

// Merge outer-joins relational and document records on their shared columns.
func Merge(ctx context.Context, relational, documents []core.Record) ([]core.Record, error) {
	merged, _, err := tasks.Join(ctx, MergeConfig(false), relational, documents)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Normalizer trims every string value, lowercases LowercaseColumns and fills
// nulls in ZeroFillColumns with 0.
func Normalizer() core.Transformer {
	return transform.Chain(
		transform.TrimAllStrings(),
		transform.ToLower(LowercaseColumns...),
		transform.FillNull(int64(0), ZeroFillColumns...),
	)
}

// Clean drops rows holding a null in any column of the record set, normalizes
// the remaining rows and removes duplicates. Duplicates are detected after
// normalization, so cleaning its own output changes nothing.
func Clean(ctx context.Context, records []core.Record) ([]core.Record, error) {
	columns := core.Columns(records)

	complete, err := filter.Apply(ctx, filter.Complete(columns...), records)
	if err != nil {
		return nil, err
	}

	normalizer := Normalizer()
	normalized := make([]core.Record, 0, len(complete))
	for i, record := range complete {
		out, err := normalizer.Transform(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("normalize row %d: %w", i, err)
		}
		normalized = append(normalized, out)
	}

	cleaned := dedupe(normalized, columns)

	logger.FromContext(ctx).Info().
		Int("rows_in", len(records)).
		Int("null_rows", len(records)-len(complete)).
		Int("duplicate_rows", len(normalized)-len(cleaned)).
		Int("rows_out", len(cleaned)).
		Msg("cleaned books")

	return cleaned, nil
}

// dedupe keeps the first of every group of rows equal on columns.
func dedupe(records []core.Record, columns []string) []core.Record {
	seen := make(map[string]bool, len(records))
	out := make([]core.Record, 0, len(records))
	for _, record := range records {
		key := core.RowKey(record, columns)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, record)
	}
	return out
}

// Transformer derives publication_year from the first four-digit run of the
// title, domain from the url host and discount as price_incl_tax minus
// price_excl_tax, then drops DroppedColumns.
func Transformer() core.Transformer {
	return transform.Chain(
		transform.ExtractPattern(ColTitle, ColPublicationYear, yearPattern, 0),
		transform.ToInt(ColPublicationYear),
		transform.ExtractPattern(ColURL, ColDomain, domainPattern, 1),
		transform.Difference(ColDiscount, ColPriceInclTax, ColPriceExclTax),
		transform.RemoveFields(DroppedColumns...),
	)
}

// Transform applies Transformer to every record.
func Transform(ctx context.Context, records []core.Record) ([]core.Record, error) {
	t := Transformer()
	out := make([]core.Record, 0, len(records))
	for i, record := range records {
		r, err := t.Transform(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("transform row %d: %w", i, err)
		}
		out = append(out, r)
	}

	logger.FromContext(ctx).Info().
		Int("rows", len(out)).
		Strs("columns", core.Columns(out)).
		Msg("transformed books")

	return out, nil
}

// Quality is the check transformed books must pass before they are loaded:
// at least minRows rows, no dropped column left behind, and derived columns
// of the expected types.
func Quality(minRows int) *validators.Validator {
	return validators.New(minRows, nil,
		validators.WithForbiddenFields(DroppedColumns...),
		validators.WithFieldValidator(ColPublicationYear, validators.FieldValidator{
			DataType: validators.FieldTypeInt,
			MinValue: 0,
			MaxValue: 9999,
		}),
		validators.WithFieldValidator(ColDomain, validators.FieldValidator{DataType: validators.FieldTypeString}),
		validators.WithFieldValidator(ColDiscount, validators.FieldValidator{DataType: validators.FieldTypeFloat}),
	)
}

// TransformChecked runs Transform and then the Quality check.
func TransformChecked(minRows int) core.BatchFunc {
	quality := Quality(minRows)
	return func(ctx context.Context, records []core.Record) ([]core.Record, error) {
		out, err := Transform(ctx, records)
		if err != nil {
			return nil, err
		}
		if err := quality.Validate(ctx, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
