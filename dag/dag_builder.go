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

// dag_builder.go - Fluent API for DAG construction
package dag

import (
	"errors"
	"fmt"
	"time"

	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/dag/tasks"
)

// DAGBuilder provides a fluent API for constructing DAGs
type DAGBuilder struct {
	dag  *DAG
	errs []error
}

// NewDAG creates a new DAG builder
func NewDAG(id, name string) *DAGBuilder {
	return &DAGBuilder{
		dag: &DAG{
			id:           id,
			name:         name,
			tasks:        make(map[string]tasks.Task),
			dependencies: make(map[string][]string),
			metadata: DAGMetadata{
				MaxParallelism: 4, // Sensible default
				DefaultTimeout: 30 * time.Minute,
			},
		},
	}
}

// AddTask adds an already constructed task to the DAG
func (db *DAGBuilder) AddTask(task tasks.Task) *DAGBuilder {
	id := task.ID()
	if _, exists := db.dag.tasks[id]; exists {
		db.errs = append(db.errs, fmt.Errorf("duplicate task id %s", id))
		return db
	}
	db.dag.tasks[id] = task
	db.dag.taskOrder = append(db.dag.taskOrder, id)
	db.dag.dependencies[id] = task.Dependencies()
	return db
}

// AddSourceTask adds a data source task to the DAG
func (db *DAGBuilder) AddSourceTask(id string, source core.DataSource, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewSourceTask(id, source, opts...))
}

// AddSourceTaskFunc adds a source task that opens a fresh data source on every attempt
func (db *DAGBuilder) AddSourceTaskFunc(id string, open tasks.SourceOpener, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewSourceTaskFunc(id, open, opts...))
}

// AddTransformTask adds a transformation task to the DAG
func (db *DAGBuilder) AddTransformTask(id string, transformer core.Transformer, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewTransformTask(id, transformer, dependencies, opts...))
}

// AddBatchTask adds a whole-dataset transformation task to the DAG
func (db *DAGBuilder) AddBatchTask(id string, transformer core.BatchTransformer, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewBatchTask(id, transformer, dependencies, opts...))
}

// AddJoinTask adds a join operation task to the DAG
func (db *DAGBuilder) AddJoinTask(id string, config tasks.JoinConfig, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewJoinTask(id, config, dependencies, opts...))
}

// AddExecTask adds a side-effect task (e.g. DDL) to the DAG
func (db *DAGBuilder) AddExecTask(id string, fn tasks.ExecFunc, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewExecTask(id, fn, dependencies, opts...))
}

// AddSinkTask adds a data sink task to the DAG
func (db *DAGBuilder) AddSinkTask(id string, sink core.DataSink, dependencies []string, opts ...tasks.TaskOption) *DAGBuilder {
	return db.AddTask(tasks.NewSinkTask(id, sink, dependencies, opts...))
}

// WithDescription sets the DAG description
func (db *DAGBuilder) WithDescription(description string) *DAGBuilder {
	db.dag.metadata.Description = description
	return db
}

// WithOwner sets the DAG owner
func (db *DAGBuilder) WithOwner(owner string) *DAGBuilder {
	db.dag.metadata.Owner = owner
	return db
}

// WithSchedule records the schedule an external trigger should use, such as "@daily".
func (db *DAGBuilder) WithSchedule(schedule string, startDate time.Time, catchup bool) *DAGBuilder {
	db.dag.metadata.Schedule = schedule
	db.dag.metadata.StartDate = startDate
	db.dag.metadata.Catchup = catchup
	return db
}

// WithTags tags the DAG
func (db *DAGBuilder) WithTags(tags ...string) *DAGBuilder {
	db.dag.metadata.Tags = append(db.dag.metadata.Tags, tags...)
	return db
}

// WithMaxParallelism sets the maximum number of concurrent tasks
func (db *DAGBuilder) WithMaxParallelism(max int) *DAGBuilder {
	db.dag.metadata.MaxParallelism = max
	return db
}

// WithDefaultTimeout sets the default timeout for all tasks
func (db *DAGBuilder) WithDefaultTimeout(timeout time.Duration) *DAGBuilder {
	db.dag.metadata.DefaultTimeout = timeout
	return db
}

// WithDefaultRetries sets the retry configuration for tasks that have none
func (db *DAGBuilder) WithDefaultRetries(config *tasks.RetryConfig) *DAGBuilder {
	db.dag.metadata.DefaultRetries = config
	return db
}

// WithGlobalContext sets global context available to all tasks
func (db *DAGBuilder) WithGlobalContext(ctx map[string]interface{}) *DAGBuilder {
	db.dag.metadata.GlobalContext = ctx
	return db
}

// validateDAG checks for duplicate ids, missing dependencies and cycles
func (db *DAGBuilder) validateDAG() error {
	if len(db.errs) > 0 {
		return errors.Join(db.errs...)
	}

	for _, taskID := range db.dag.taskOrder {
		for _, dep := range db.dag.dependencies[taskID] {
			if _, exists := db.dag.tasks[dep]; !exists {
				return fmt.Errorf("task %s depends on non-existent task %s", taskID, dep)
			}
		}
	}

	if db.dag.hasCycle() {
		return fmt.Errorf("DAG contains cycles")
	}

	return nil
}

// Build validates and returns the constructed DAG
func (db *DAGBuilder) Build() (*DAG, error) {
	if err := db.validateDAG(); err != nil {
		return nil, err
	}

	return db.dag, nil
}
