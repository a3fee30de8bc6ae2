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

// exec.go - ExecTask implementation
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ExecFunc performs a side effect such as running a DDL statement.
type ExecFunc func(ctx context.Context) error

// ExecTask runs an ExecFunc and passes its input records through unchanged,
// so tasks downstream of it still receive the data flowing past.
type ExecTask struct {
	baseTask
	fn ExecFunc
}

func (et *ExecTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()

	if err := et.fn(ctx); err != nil {
		return TaskOutput{}, fmt.Errorf("exec failed: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("task_id", et.id).Msg("exec completed")

	return TaskOutput{
		Records:  input.Records,
		Context:  input.Context,
		Metadata: result(start, len(input.Records), len(input.Records)),
	}, nil
}

// NewExecTask creates a new ExecTask
func NewExecTask(id string, fn ExecFunc, dependencies []string, options ...TaskOption) *ExecTask {
	task := &ExecTask{
		baseTask: newBaseTask(id, TaskTypeExec, dependencies),
		fn:       fn,
	}
	applyOptions(task, options)
	return task
}
