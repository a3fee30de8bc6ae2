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
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// RowKey builds a comparable key from the given fields of a record. Values are
// tagged with their kind so that the string "1" and the number 1 differ, and
// all numeric types compare by value. Missing fields and nil share a key.
func RowKey(record Record, fields []string) string {
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = ValueKey(record[field])
	}
	return strings.Join(parts, "\x1f")
}

// IsNull reports whether value is a null: nil, or a floating point NaN as
// produced by CSV, Parquet and SQL REAL sources.
func IsNull(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(v)
	case float32:
		return math.IsNaN(float64(v))
	}
	return false
}

// ValueKey returns the comparison key of a single value, as used by RowKey.
func ValueKey(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "n:"
	case string:
		return "s:" + v
	case bool:
		return "b:" + strconv.FormatBool(v)
	case time.Time:
		return "t:" + v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return "s:" + string(v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "f:" + strconv.FormatFloat(float64(rv.Int()), 'g', -1, 64)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "f:" + strconv.FormatFloat(float64(rv.Uint()), 'g', -1, 64)
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return "n:"
		}
		return "f:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("v:%v", value)
}
