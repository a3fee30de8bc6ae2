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

// source.go - SourceTask implementation
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// SourceOpener creates a fresh DataSource for one execution attempt.
type SourceOpener func(ctx context.Context) (core.DataSource, error)

// SourceTask wraps a DataSource in the DAG framework.
// It drains the source into memory and closes it. A task built from a
// SourceOpener opens a new source on every attempt, so retries re-read
// from the start; a task built from a plain DataSource can only be drained once.
type SourceTask struct {
	baseTask
	source core.DataSource
	open   SourceOpener
}

func (st *SourceTask) Execute(ctx context.Context, input TaskInput) (out TaskOutput, err error) {
	start := time.Now()
	var records []core.Record

	source := st.source
	if st.open != nil {
		if source, err = st.open(ctx); err != nil {
			return TaskOutput{}, fmt.Errorf("source open failed: %w", err)
		}
	}

	defer func() {
		if cerr := source.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("source close failed: %w", cerr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return TaskOutput{}, ctx.Err()
		default:
		}

		record, err := source.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return TaskOutput{}, fmt.Errorf("source read failed: %w", err)
		}

		records = append(records, record)
	}

	zerolog.Ctx(ctx).Info().
		Str("task_id", st.id).
		Int("rows", len(records)).
		Msg("extracted records")

	return TaskOutput{
		Records:  records,
		Context:  input.Context,
		Metadata: result(start, 0, len(records)),
	}, nil
}

// NewSourceTask creates a new SourceTask with the given ID and source
func NewSourceTask(id string, source core.DataSource, options ...TaskOption) *SourceTask {
	task := &SourceTask{
		baseTask: newBaseTask(id, TaskTypeSource, nil),
		source:   source,
	}
	applyOptions(task, options)
	return task
}

// NewSourceTaskFunc creates a SourceTask that opens its source on each attempt.
func NewSourceTaskFunc(id string, open SourceOpener, options ...TaskOption) *SourceTask {
	task := &SourceTask{
		baseTask: newBaseTask(id, TaskTypeSource, nil),
		open:     open,
	}
	applyOptions(task, options)
	return task
}
