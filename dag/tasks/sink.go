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

// sink.go - SinkTask implementation
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// SinkTask wraps a DataSink in the DAG framework.
// The sink is flushed and closed once every input record has been written.
// sinkOpener is implemented by sinks that open their destination under a context.
type sinkOpener interface {
	Open(ctx context.Context) error
}

type SinkTask struct {
	baseTask
	sink core.DataSink
}

func (st *SinkTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()
	written := 0

	if opener, ok := st.sink.(sinkOpener); ok {
		if err := opener.Open(ctx); err != nil {
			return TaskOutput{}, fmt.Errorf("sink open failed: %w", err)
		}
	}

	for _, record := range input.Records {
		select {
		case <-ctx.Done():
			st.sink.Close()
			return TaskOutput{}, ctx.Err()
		default:
		}

		if err := st.sink.Write(ctx, record); err != nil {
			st.sink.Close()
			return TaskOutput{}, fmt.Errorf("sink write failed: %w", err)
		}
		written++
	}

	if err := st.sink.Flush(); err != nil {
		st.sink.Close()
		return TaskOutput{}, fmt.Errorf("sink flush failed: %w", err)
	}
	if err := st.sink.Close(); err != nil {
		return TaskOutput{}, fmt.Errorf("sink close failed: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("task_id", st.id).
		Int("rows", written).
		Msg("loaded records")

	return TaskOutput{
		Records:  []core.Record{}, // Sinks don't produce output records
		Context:  input.Context,
		Metadata: result(start, len(input.Records), written),
	}, nil
}

// NewSinkTask creates a new SinkTask
func NewSinkTask(id string, sink core.DataSink, dependencies []string, options ...TaskOption) *SinkTask {
	task := &SinkTask{
		baseTask: newBaseTask(id, TaskTypeSink, dependencies),
		sink:     sink,
	}
	applyOptions(task, options)
	return task
}
