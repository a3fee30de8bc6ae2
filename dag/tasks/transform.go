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

// transform.go - TransformTask and BatchTask implementations
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// TransformTask wraps a record Transformer in the DAG framework
type TransformTask struct {
	baseTask
	transformer  core.Transformer
	strategy     core.ErrorStrategy
	errorHandler core.ErrorHandler
}

func (tt *TransformTask) setErrorStrategy(strategy core.ErrorStrategy, handler core.ErrorHandler) {
	tt.strategy = strategy
	tt.errorHandler = handler
}

func (tt *TransformTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	transformed := make([]core.Record, 0, len(input.Records))
	var recordErrors []error

	for _, record := range input.Records {
		select {
		case <-ctx.Done():
			return TaskOutput{}, ctx.Err()
		default:
		}

		out, err := tt.transformer.Transform(ctx, record)
		if err != nil {
			if herr := core.HandleRecordError(ctx, tt.strategy, tt.errorHandler, record, err); herr != nil {
				return TaskOutput{}, fmt.Errorf("transform failed: %w", herr)
			}
			if tt.strategy == core.CollectErrors {
				recordErrors = append(recordErrors, err)
			}
			continue
		}
		if len(out) == 0 {
			continue
		}

		transformed = append(transformed, out)
	}

	if len(recordErrors) > 0 {
		zerolog.Ctx(ctx).Warn().
			Str("task_id", tt.id).
			Int("record_errors", len(recordErrors)).
			Msg("records failed to transform")
	}

	zerolog.Ctx(ctx).Info().
		Str("task_id", tt.id).
		Int("rows", len(transformed)).
		Strs("columns", core.Columns(transformed)).
		Msg("transformed records")

	meta := result(start, len(input.Records), len(transformed))
	meta.RecordErrors = recordErrors

	return TaskOutput{
		Records:  transformed,
		Context:  input.Context,
		Metadata: meta,
	}, nil
}

// NewTransformTask creates a new TransformTask
func NewTransformTask(id string, transformer core.Transformer, dependencies []string, options ...TaskOption) *TransformTask {
	task := &TransformTask{
		baseTask:    newBaseTask(id, TaskTypeTransform, dependencies),
		transformer: transformer,
		strategy:    core.FailFast,
	}
	applyOptions(task, options)
	return task
}

// BatchTask wraps a BatchTransformer, which sees the whole record set of its
// dependencies at once.
type BatchTask struct {
	baseTask
	transformer core.BatchTransformer
}

func (bt *BatchTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()

	records, err := bt.transformer.TransformBatch(ctx, input.Records)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("batch transform failed: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("task_id", bt.id).
		Int("rows_in", len(input.Records)).
		Int("rows_out", len(records)).
		Msg("batch transformed")

	return TaskOutput{
		Records:  records,
		Context:  input.Context,
		Metadata: result(start, len(input.Records), len(records)),
	}, nil
}

// NewBatchTask creates a new BatchTask
func NewBatchTask(id string, transformer core.BatchTransformer, dependencies []string, options ...TaskOption) *BatchTask {
	task := &BatchTask{
		baseTask:    newBaseTask(id, TaskTypeBatch, dependencies),
		transformer: transformer,
	}
	applyOptions(task, options)
	return task
}
