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

package transform

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// Package transform provides reusable, composable data transformation functions for GoETL pipelines.
//
// This package includes string normalization, field removal, pattern extraction,
// type conversion, numeric derivation and custom field logic.
// All functions return core.Transformer implementations and never modify their input record.

// Chain applies transformers in order. A nil record from any step ends the chain with a nil result.
func Chain(transformers ...core.Transformer) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		current := record
		for _, t := range transformers {
			next, err := t.Transform(ctx, current)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return nil, nil
			}
			current = next
		}
		return current, nil
	})
}

// AddField creates a transformer that adds a new field with a computed value to each record.
// The value is computed by the provided function, which receives the current record.
func AddField(field string, fn func(core.Record) interface{}) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		result[field] = fn(record)
		return result, nil
	})
}

// TrimSpace creates a transformer that trims whitespace from the specified string fields.
func TrimSpace(fields ...string) core.Transformer {
	return mapStrings(fields, strings.TrimSpace)
}

// TrimAllStrings trims surrounding whitespace from every string value in the record.
func TrimAllStrings() core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for k, v := range record {
			if str, ok := v.(string); ok {
				result[k] = strings.TrimSpace(str)
			}
		}
		return result, nil
	})
}

// ToLower creates a transformer that lowercases the specified string fields.
// Lowercasing is Unicode-aware. Non-string values are left unchanged.
func ToLower(fields ...string) core.Transformer {
	var mu sync.Mutex
	lower := cases.Lower(language.Und)
	return mapStrings(fields, func(s string) string {
		// A Caser is stateful.
		mu.Lock()
		defer mu.Unlock()
		return lower.String(s)
	})
}

func mapStrings(fields []string, fn func(string) string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for _, field := range fields {
			if str, ok := record[field].(string); ok {
				result[field] = fn(str)
			}
		}
		return result, nil
	})
}

// RemoveFields creates a transformer that removes the specified fields from each record.
// Fields that don't exist are ignored.
func RemoveFields(fields ...string) core.Transformer {
	fieldsToRemove := make(map[string]bool, len(fields))
	for _, field := range fields {
		fieldsToRemove[field] = true
	}

	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := make(core.Record, len(record))
		for k, v := range record {
			if !fieldsToRemove[k] {
				result[k] = v
			}
		}
		return result, nil
	})
}

// FillNull replaces nil values of the given fields with value. Fields missing
// from the record are left missing.
func FillNull(value interface{}, fields ...string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		for _, field := range fields {
			if v, ok := result[field]; ok && v == nil {
				result[field] = value
			}
		}
		return result, nil
	})
}

// ExtractPattern sets target to the given capture group of the first match of
// pattern in the string field source. Group 0 is the whole match. target is nil
// when source is missing, not a string, or does not match.
func ExtractPattern(source, target string, pattern *regexp.Regexp, group int) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		result[target] = nil

		str, ok := record[source].(string)
		if !ok {
			return result, nil
		}
		if match := pattern.FindStringSubmatch(str); group < len(match) {
			result[target] = match[group]
		}
		return result, nil
	})
}

// Difference sets target to minuend - subtrahend as float64. Numeric strings are parsed.
// target is nil when either operand is missing or nil.
func Difference(target, minuend, subtrahend string) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		result := record.Clone()
		result[target] = nil

		a, b := record[minuend], record[subtrahend]
		if a == nil || b == nil {
			return result, nil
		}
		x, err := convertToFloat(a)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", minuend, err)
		}
		y, err := convertToFloat(b)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", subtrahend, err)
		}
		result[target] = x - y
		return result, nil
	})
}

// ConvertType creates a transformer that converts the type of a field to the specified reflect.Type.
// Nil values stay nil. If conversion fails, an error is returned.
func ConvertType(field string, targetType reflect.Type) core.Transformer {
	return core.TransformFunc(func(ctx context.Context, record core.Record) (core.Record, error) {
		value, exists := record[field]
		if !exists || value == nil {
			return record.Clone(), nil
		}

		converted, err := convertValue(value, targetType)
		if err != nil {
			return nil, fmt.Errorf("failed to convert field %s: %w", field, err)
		}
		result := record.Clone()
		result[field] = converted
		return result, nil
	})
}

// ToInt creates a transformer that converts a field to an int64.
func ToInt(field string) core.Transformer {
	return ConvertType(field, reflect.TypeOf(int64(0)))
}

// ToFloat creates a transformer that converts a field to a float64.
func ToFloat(field string) core.Transformer {
	return ConvertType(field, reflect.TypeOf(0.0))
}

// convertValue converts a value to the specified reflect.Type for use in type conversion transformers.
func convertValue(value interface{}, targetType reflect.Type) (interface{}, error) {
	if reflect.TypeOf(value) == targetType {
		return value, nil
	}

	switch targetType.Kind() {
	case reflect.String:
		return fmt.Sprintf("%v", value), nil
	case reflect.Int64:
		return convertToInt(value)
	case reflect.Float64:
		return convertToFloat(value)
	default:
		return nil, fmt.Errorf("unsupported target type: %s", targetType)
	}
}

// convertToInt attempts to convert a value to int64.
func convertToInt(value interface{}) (int64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

// convertToFloat attempts to convert a value to float64.
func convertToFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}
