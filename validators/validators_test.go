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

package validators

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

func books() []core.Record {
	return []core.Record{
		{"title": "a", "stars": int64(3), "discount": 2.0, "domain": "x.com", "publication_year": int64(2020)},
		{"title": "b", "stars": int64(5), "discount": 0.0, "domain": "y.org", "publication_year": nil},
	}
}

func TestValidator(t *testing.T) {
	tests := []struct {
		name    string
		v       *Validator
		records []core.Record
		wantErr string
	}{
		{"passes", New(1, []string{"title"}), books(), ""},
		{"empty with no minimum", New(0, nil), nil, ""},
		{"too few", New(3, nil), books(), "insufficient records: got 2, need at least 3"},
		{"too many", New(0, nil, WithMaxRecords(1)), books(), "too many records"},
		{"required", New(0, []string{"upc"}), books(), "record 0 missing required field: upc"},
		{"forbidden", New(0, nil, WithForbiddenFields("url", "stars")), books(), "record 0 contains forbidden field: stars"},
		{"null rate", New(0, nil, WithMaxNullRate(0.4)), books(), "field publication_year has null rate 0.50"},
		{"null rate ok", New(0, nil, WithMaxNullRate(0.5)), books(), ""},
		{"type", New(0, nil, WithFieldValidator("discount", FieldValidator{DataType: FieldTypeInt})), books(), "record 0 field discount has invalid type float64, expected int"},
		{"number", New(0, nil, WithFieldValidator("discount", FieldValidator{DataType: FieldTypeNumber})), books(), ""},
		{"nulls skip field rules", New(0, nil, WithFieldValidator("publication_year", FieldValidator{DataType: FieldTypeInt, MinValue: 1000, MaxValue: 9999})), books(), ""},
		{"range", New(0, nil, WithFieldValidator("stars", FieldValidator{DataType: FieldTypeInt, MinValue: 0, MaxValue: 4})), books(), "record 1 field stars value 5 above maximum 4"},
		{"minimum", New(0, nil, WithFieldValidator("discount", FieldValidator{MinValue: 1})), books(), "record 1 field discount value 0 below minimum 1"},
		{"pattern", New(0, nil, WithFieldValidator("domain", FieldValidator{DataType: FieldTypeString, Pattern: regexp.MustCompile(`\.com$`)})), books(), "record 1 field domain value 'y.org' does not match pattern"},
		{"allowed", New(0, nil, WithFieldValidator("title", FieldValidator{AllowedValues: []interface{}{"a"}})), books(), "record 1 field title value 'b' not in allowed values"},
		{"custom field", New(0, nil, WithFieldValidator("title", FieldValidator{CustomFunc: func(v interface{}) (bool, error) { return v != "b", nil }})), books(), "record 1 field title failed custom validation"},
		{"custom", New(0, nil, WithCustomValidator(func(r []core.Record) (bool, error) { return false, errors.New("boom") })), books(), "custom validator 0 failed: boom"},
		{"url", New(0, nil, WithFieldValidator("domain", FieldValidator{DataType: FieldTypeURL})), books(), "expected url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate(context.Background(), tt.records)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrQuality)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_TransformBatch(t *testing.T) {
	records := books()
	out, err := New(1, nil).TransformBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, records, out)

	out, err = New(5, nil).TransformBatch(context.Background(), records)
	assert.ErrorIs(t, err, ErrQuality)
	assert.Nil(t, out)
}
