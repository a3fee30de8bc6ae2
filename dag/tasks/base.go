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

// base.go - Task interface and base types
package tasks

import (
	"context"
	"time"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// TaskType represents the type of task
type TaskType string

const (
	TaskTypeSource    TaskType = "source"
	TaskTypeTransform TaskType = "transform"
	TaskTypeBatch     TaskType = "batch"
	TaskTypeJoin      TaskType = "join"
	TaskTypeExec      TaskType = "exec"
	TaskTypeSink      TaskType = "sink"
)

// TriggerRule defines when a task should be triggered
type TriggerRule string

const (
	TriggerRuleAllSuccess    TriggerRule = "all_success"
	TriggerRuleAllFailed     TriggerRule = "all_failed"
	TriggerRuleAllDone       TriggerRule = "all_done"
	TriggerRuleOneSuccess    TriggerRule = "one_success"
	TriggerRuleOneFailed     TriggerRule = "one_failed"
	TriggerRuleNoneFailedMin TriggerRule = "none_failed_min_one_success"
)

// BackoffStrategy interface for advanced retry strategies
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

// RetryConfig defines retry behavior for tasks
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration   // Simple backoff duration
	Strategy   BackoffStrategy // Advanced backoff strategy (optional)
	RetryOn    []error         // Specific errors to retry on; empty retries everything
}

// GetDelay returns the delay for a given attempt
func (rc *RetryConfig) GetDelay(attempt int) time.Duration {
	if rc.Strategy != nil {
		return rc.Strategy.Delay(attempt)
	}
	return rc.Backoff
}

// ExponentialBackoff implements BackoffStrategy
type ExponentialBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (eb *ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := eb.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > eb.MaxDelay {
		delay = eb.MaxDelay
	}
	return delay
}

// FixedBackoff implements fixed delay backoff strategy
type FixedBackoff struct {
	FixedDelay time.Duration
}

func (fb *FixedBackoff) Delay(attempt int) time.Duration {
	return fb.FixedDelay
}

// TaskMetadata holds metadata about a task
type TaskMetadata struct {
	Name         string
	Description  string
	TaskType     TaskType
	RetryConfig  *RetryConfig
	Timeout      time.Duration
	TriggerRule  TriggerRule
	Tags         []string
	Owner        string
	CustomFields map[string]interface{}
}

// TaskInput represents input data for task execution
type TaskInput struct {
	Records   []core.Record
	Context   map[string]interface{}
	SourceMap map[string][]core.Record
	Metadata  map[string]TaskResultMetadata
}

// TaskOutput represents output data from task execution
type TaskOutput struct {
	Records  []core.Record
	Context  map[string]interface{}
	Metadata TaskResultMetadata
}

// TaskResultMetadata holds execution result metadata
type TaskResultMetadata struct {
	StartTime    time.Time
	EndTime      time.Time
	RecordsIn    int64
	RecordsOut   int64
	Success      bool
	Skipped      bool
	Error        error
	RecordErrors []error
	AttemptCount int
}

// Duration returns how long the task ran.
func (m TaskResultMetadata) Duration() time.Duration {
	if m.EndTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// Task defines the interface that all tasks must implement
type Task interface {
	ID() string
	Dependencies() []string
	Execute(ctx context.Context, input TaskInput) (TaskOutput, error)
	Metadata() TaskMetadata
	SetRetryConfig(config *RetryConfig)
	SetTimeout(timeout time.Duration)
	SetTriggerRule(rule TriggerRule)
	SetDescription(description string)
	SetTags(tags ...string)
	SetOwner(owner string)
	SetCustomField(key string, value interface{})
}

// baseTask carries the identity and metadata shared by every task kind.
type baseTask struct {
	id           string
	dependencies []string
	metadata     TaskMetadata
}

func newBaseTask(id string, taskType TaskType, dependencies []string) baseTask {
	deps := append([]string(nil), dependencies...)
	if deps == nil {
		deps = []string{}
	}
	return baseTask{
		id:           id,
		dependencies: deps,
		metadata: TaskMetadata{
			Name:     id,
			TaskType: taskType,
		},
	}
}

func (bt *baseTask) ID() string             { return bt.id }
func (bt *baseTask) Dependencies() []string { return bt.dependencies }
func (bt *baseTask) Metadata() TaskMetadata { return bt.metadata }

func (bt *baseTask) SetRetryConfig(config *RetryConfig) { bt.metadata.RetryConfig = config }
func (bt *baseTask) SetTimeout(timeout time.Duration)   { bt.metadata.Timeout = timeout }
func (bt *baseTask) SetTriggerRule(rule TriggerRule)    { bt.metadata.TriggerRule = rule }
func (bt *baseTask) SetDescription(description string)  { bt.metadata.Description = description }
func (bt *baseTask) SetOwner(owner string)              { bt.metadata.Owner = owner }

func (bt *baseTask) SetTags(tags ...string) {
	bt.metadata.Tags = append(bt.metadata.Tags, tags...)
}

func (bt *baseTask) SetCustomField(key string, value interface{}) {
	if bt.metadata.CustomFields == nil {
		bt.metadata.CustomFields = make(map[string]interface{})
	}
	bt.metadata.CustomFields[key] = value
}

// result builds the success metadata for a task run that started at start.
func result(start time.Time, in, out int) TaskResultMetadata {
	return TaskResultMetadata{
		StartTime:  start,
		EndTime:    time.Now(),
		RecordsIn:  int64(in),
		RecordsOut: int64(out),
		Success:    true,
	}
}

// TaskOption is a functional option for configuring tasks
type TaskOption func(Task)

// WithRetries sets the retry configuration for a task
func WithRetries(maxRetries int, backoff time.Duration) TaskOption {
	return func(t Task) {
		t.SetRetryConfig(&RetryConfig{
			MaxRetries: maxRetries,
			Backoff:    backoff,
		})
	}
}

// WithRetryConfig sets the retry configuration for a task
func WithRetryConfig(config *RetryConfig) TaskOption {
	return func(t Task) {
		t.SetRetryConfig(config)
	}
}

// WithTimeout sets the timeout for a task
func WithTimeout(timeout time.Duration) TaskOption {
	return func(t Task) {
		t.SetTimeout(timeout)
	}
}

// WithTriggerRule sets the trigger rule for a task
func WithTriggerRule(rule TriggerRule) TaskOption {
	return func(t Task) {
		t.SetTriggerRule(rule)
	}
}

// WithDescription sets the description for a task
func WithDescription(description string) TaskOption {
	return func(t Task) {
		t.SetDescription(description)
	}
}

// WithTags adds tags to a task
func WithTags(tags ...string) TaskOption {
	return func(t Task) {
		t.SetTags(tags...)
	}
}

// WithOwner sets the owner for a task
func WithOwner(owner string) TaskOption {
	return func(t Task) {
		t.SetOwner(owner)
	}
}

// WithCustomField adds a custom field to a task
func WithCustomField(key string, value interface{}) TaskOption {
	return func(t Task) {
		t.SetCustomField(key, value)
	}
}

// WithRecordErrorStrategy sets how a record-level task treats per-record errors.
// Tasks that do not process records one at a time ignore it.
func WithRecordErrorStrategy(strategy core.ErrorStrategy, handler core.ErrorHandler) TaskOption {
	return func(t Task) {
		if s, ok := t.(interface {
			setErrorStrategy(core.ErrorStrategy, core.ErrorHandler)
		}); ok {
			s.setErrorStrategy(strategy, handler)
		}
	}
}

func applyOptions(t Task, options []TaskOption) {
	for _, opt := range options {
		opt(t)
	}
}
