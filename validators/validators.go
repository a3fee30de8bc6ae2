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

// Package validators implements data quality checks over whole record sets,
// used as a gate before records are loaded.
package validators

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// ErrQuality is wrapped by every error returned from Validate.
var ErrQuality = errors.New("data quality check failed")

// Validator checks record counts, field presence, null rates and per-field rules
type Validator struct {
	MinRecords       int                                 // Minimum number of records required
	MaxRecords       int                                 // Maximum number of records allowed (0 = unlimited)
	MaxNullRate      float64                             // Maximum allowed null rate (0.0-1.0); 0 disables the check
	RequiredFields   []string                            // Fields that must be present in all records
	ForbiddenFields  []string                            // Fields that must not be present
	FieldValidators  map[string]FieldValidator           // Per-field validation rules
	CustomValidators []func([]core.Record) (bool, error) // Custom validation functions
}

// FieldValidator defines validation rules for individual fields
type FieldValidator struct {
	DataType      FieldDataType                   // Expected data type
	Pattern       *regexp.Regexp                  // Regex pattern for string fields
	MinValue      interface{}                     // Minimum value (for numeric fields)
	MaxValue      interface{}                     // Maximum value (for numeric fields)
	AllowedValues []interface{}                   // Whitelist of allowed values
	CustomFunc    func(interface{}) (bool, error) // Custom validation function
}

// FieldDataType represents expected data types for validation
type FieldDataType string

const (
	FieldTypeString FieldDataType = "string"
	FieldTypeInt    FieldDataType = "int"
	FieldTypeFloat  FieldDataType = "float"
	FieldTypeNumber FieldDataType = "number" // int or float
	FieldTypeBool   FieldDataType = "bool"
	FieldTypeURL    FieldDataType = "url"
	FieldTypeAny    FieldDataType = "any"
)

// New creates a validator requiring at least minRecords records, each holding requiredFields
func New(minRecords int, requiredFields []string, options ...Option) *Validator {
	v := &Validator{
		MinRecords:      minRecords,
		RequiredFields:  requiredFields,
		FieldValidators: make(map[string]FieldValidator),
	}
	for _, option := range options {
		option(v)
	}
	return v
}

// Option is a functional option for configuring a Validator
type Option func(*Validator)

// WithMaxRecords sets the maximum record count
func WithMaxRecords(max int) Option {
	return func(v *Validator) {
		v.MaxRecords = max
	}
}

// WithMaxNullRate sets the maximum null value rate
func WithMaxNullRate(rate float64) Option {
	return func(v *Validator) {
		v.MaxNullRate = rate
	}
}

// WithForbiddenFields sets fields that must not be present
func WithForbiddenFields(fields ...string) Option {
	return func(v *Validator) {
		v.ForbiddenFields = append(v.ForbiddenFields, fields...)
	}
}

// WithFieldValidator adds a field-specific validator
func WithFieldValidator(fieldName string, validator FieldValidator) Option {
	return func(v *Validator) {
		if v.FieldValidators == nil {
			v.FieldValidators = make(map[string]FieldValidator)
		}
		v.FieldValidators[fieldName] = validator
	}
}

// WithCustomValidator adds a custom validation function
func WithCustomValidator(validator func([]core.Record) (bool, error)) Option {
	return func(v *Validator) {
		v.CustomValidators = append(v.CustomValidators, validator)
	}
}

// Validate runs every check on records and returns the first failure.
func (v *Validator) Validate(ctx context.Context, records []core.Record) error {
	if err := v.validate(records); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int("rows", len(records)).Msg("data quality check failed")
		return fmt.Errorf("%w: %w", ErrQuality, err)
	}
	return nil
}

// TransformBatch implements core.BatchTransformer. Records pass through unchanged when valid.
func (v *Validator) TransformBatch(ctx context.Context, records []core.Record) ([]core.Record, error) {
	if err := v.Validate(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (v *Validator) validate(records []core.Record) error {
	recordCount := len(records)

	if recordCount < v.MinRecords {
		return fmt.Errorf("insufficient records: got %d, need at least %d", recordCount, v.MinRecords)
	}
	if v.MaxRecords > 0 && recordCount > v.MaxRecords {
		return fmt.Errorf("too many records: got %d, maximum allowed %d", recordCount, v.MaxRecords)
	}
	if recordCount == 0 {
		return nil
	}

	if err := v.validateFieldPresence(records); err != nil {
		return err
	}
	if err := v.validateNullRates(records); err != nil {
		return err
	}
	if err := v.validateFieldValues(records); err != nil {
		return err
	}

	for i, validator := range v.CustomValidators {
		valid, err := validator(records)
		if err != nil {
			return fmt.Errorf("custom validator %d failed: %w", i, err)
		}
		if !valid {
			return fmt.Errorf("custom validator %d failed validation", i)
		}
	}

	return nil
}

// validateFieldPresence checks for required and forbidden fields
func (v *Validator) validateFieldPresence(records []core.Record) error {
	if len(v.RequiredFields) == 0 && len(v.ForbiddenFields) == 0 {
		return nil
	}

	for recordIdx, record := range records {
		for _, field := range v.RequiredFields {
			if _, exists := record[field]; !exists {
				return fmt.Errorf("record %d missing required field: %s", recordIdx, field)
			}
		}
		for _, field := range v.ForbiddenFields {
			if _, exists := record[field]; exists {
				return fmt.Errorf("record %d contains forbidden field: %s", recordIdx, field)
			}
		}
	}

	return nil
}

// validateNullRates checks the null rate of every column, in column order
func (v *Validator) validateNullRates(records []core.Record) error {
	if v.MaxNullRate <= 0 {
		return nil
	}

	for _, field := range core.Columns(records) {
		nullCount := 0
		for _, record := range records {
			if value, exists := record[field]; !exists || core.IsNull(value) {
				nullCount++
			}
		}

		nullRate := float64(nullCount) / float64(len(records))
		if nullRate > v.MaxNullRate {
			return fmt.Errorf("field %s has null rate %.2f, exceeds maximum %.2f",
				field, nullRate, v.MaxNullRate)
		}
	}

	return nil
}

// validateFieldValues validates individual field values using field validators
func (v *Validator) validateFieldValues(records []core.Record) error {
	if len(v.FieldValidators) == 0 {
		return nil
	}

	for recordIdx, record := range records {
		for fieldName, validator := range v.FieldValidators {
			value, exists := record[fieldName]
			if !exists {
				continue // handled by RequiredFields
			}
			if err := validateValue(fieldName, value, validator, recordIdx); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateValue validates a single field value against its validator. Nulls pass.
func validateValue(fieldName string, value interface{}, validator FieldValidator, recordIdx int) error {
	if core.IsNull(value) {
		return nil
	}

	if !validDataType(value, validator.DataType) {
		return fmt.Errorf("record %d field %s has invalid type %T, expected %s",
			recordIdx, fieldName, value, validator.DataType)
	}

	if validator.Pattern != nil {
		if str, ok := value.(string); ok && !validator.Pattern.MatchString(str) {
			return fmt.Errorf("record %d field %s value '%s' does not match pattern",
				recordIdx, fieldName, str)
		}
	}

	if err := validateRange(value, validator.MinValue, validator.MaxValue, fieldName, recordIdx); err != nil {
		return err
	}

	if len(validator.AllowedValues) > 0 {
		valid := false
		for _, allowedValue := range validator.AllowedValues {
			if value == allowedValue {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("record %d field %s value '%v' not in allowed values",
				recordIdx, fieldName, value)
		}
	}

	if validator.CustomFunc != nil {
		valid, err := validator.CustomFunc(value)
		if err != nil {
			return fmt.Errorf("record %d field %s custom validation failed: %w",
				recordIdx, fieldName, err)
		}
		if !valid {
			return fmt.Errorf("record %d field %s failed custom validation", recordIdx, fieldName)
		}
	}

	return nil
}

// validDataType checks if a value matches the expected data type
func validDataType(value interface{}, expectedType FieldDataType) bool {
	switch expectedType {
	case FieldTypeString:
		_, ok := value.(string)
		return ok
	case FieldTypeInt:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case FieldTypeFloat:
		switch value.(type) {
		case float32, float64:
			return true
		}
		return false
	case FieldTypeNumber:
		_, ok := toFloat64(value)
		return ok
	case FieldTypeBool:
		_, ok := value.(bool)
		return ok
	case FieldTypeURL:
		if str, ok := value.(string); ok {
			return strings.HasPrefix(str, "http://") || strings.HasPrefix(str, "https://")
		}
		return false
	default:
		return true
	}
}

// validateRange validates numeric ranges. Non-numeric values are not checked.
func validateRange(value, minValue, maxValue interface{}, fieldName string, recordIdx int) error {
	if minValue == nil && maxValue == nil {
		return nil
	}

	val, ok := toFloat64(value)
	if !ok {
		return nil
	}

	if minValue != nil {
		if min, ok := toFloat64(minValue); ok && val < min {
			return fmt.Errorf("record %d field %s value %v below minimum %v",
				recordIdx, fieldName, value, minValue)
		}
	}
	if maxValue != nil {
		if max, ok := toFloat64(maxValue); ok && val > max {
			return fmt.Errorf("record %d field %s value %v above maximum %v",
				recordIdx, fieldName, value, maxValue)
		}
	}

	return nil
}

// toFloat64 converts numeric types to float64 for comparison
func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
