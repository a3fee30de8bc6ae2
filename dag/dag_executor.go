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

// dag_executor.go - DAG execution engine with topological sort
package dag

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/dag/tasks"
)

// ErrTriggerRuleNotMet marks a task skipped because its upstream results did
// not satisfy its trigger rule.
var ErrTriggerRuleNotMet = errors.New("trigger rule not satisfied")

// DAGExecutor executes DAGs with topological sorting and parallelism
type DAGExecutor struct {
	maxWorkers   int
	retryBackoff tasks.BackoffStrategy
}

// DAGExecutorOption configures a DAGExecutor
type DAGExecutorOption func(*DAGExecutor)

// WithMaxWorkers sets the maximum number of concurrent workers
func WithMaxWorkers(workers int) DAGExecutorOption {
	return func(de *DAGExecutor) {
		if workers > 0 {
			de.maxWorkers = workers
		}
	}
}

// WithBackoffStrategy sets the backoff used when a task's retry config has none
func WithBackoffStrategy(strategy tasks.BackoffStrategy) DAGExecutorOption {
	return func(de *DAGExecutor) {
		de.retryBackoff = strategy
	}
}

// NewDAGExecutor creates a new DAG executor with options
func NewDAGExecutor(opts ...DAGExecutorOption) *DAGExecutor {
	de := &DAGExecutor{
		maxWorkers: runtime.NumCPU(),
		retryBackoff: &tasks.ExponentialBackoff{
			BaseDelay: time.Second,
			MaxDelay:  time.Minute,
		},
	}

	for _, opt := range opts {
		opt(de)
	}

	return de
}

// Execute performs one run of the DAG. Tasks run level by level; a failed task
// does not stop its siblings, and tasks downstream of it run or are skipped
// according to their trigger rules. The returned error joins every task failure.
func (de *DAGExecutor) Execute(ctx context.Context, dag *DAG) (*DAGResult, error) {
	sortedTasks, err := dag.topologicalSort()
	if err != nil {
		return nil, fmt.Errorf("topological sort failed: %w", err)
	}

	runID := uuid.NewString()
	logger := zerolog.Ctx(ctx).With().
		Str("dag_id", dag.id).
		Str("run_id", runID).
		Logger()
	ctx = logger.WithContext(ctx)

	execCtx := &executionContext{
		dag:           dag,
		taskOutputs:   make(map[string]tasks.TaskOutput),
		taskResults:   make(map[string]tasks.TaskResultMetadata),
		globalContext: make(map[string]interface{}),
	}
	for k, v := range dag.metadata.GlobalContext {
		execCtx.globalContext[k] = v
	}
	execCtx.globalContext["run_id"] = runID

	result := &DAGResult{
		RunID:     runID,
		DAGID:     dag.id,
		StartTime: time.Now(),
	}

	logger.Info().Int("tasks", len(sortedTasks)).Msg("dag run started")

	var failures []error
	for levelIdx, level := range de.groupTasksByLevel(dag, sortedTasks) {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		failures = append(failures, de.executeLevel(ctx, execCtx, level)...)

		logger.Debug().Int("level", levelIdx).Strs("tasks", level).Msg("level completed")
	}

	result.EndTime = time.Now()
	result.TaskResults = execCtx.taskResults
	result.outputs = execCtx.taskOutputs
	result.Error = errors.Join(failures...)
	result.Success = result.Error == nil

	if result.Success {
		logger.Info().Dur("duration", result.EndTime.Sub(result.StartTime)).Msg("dag run succeeded")
		return result, nil
	}

	logger.Error().Err(result.Error).Msg("dag run failed")
	return result, fmt.Errorf("DAG execution failed: %w", result.Error)
}

// groupTasksByLevel groups tasks by their dependency level for parallel execution.
// Within a level tasks keep their topological order.
func (de *DAGExecutor) groupTasksByLevel(dag *DAG, sortedTasks []string) [][]string {
	taskLevel := make(map[string]int, len(sortedTasks))
	var levels [][]string

	for _, taskID := range sortedTasks {
		level := 0
		for _, dep := range dag.dependencies[taskID] {
			if depLevel, exists := taskLevel[dep]; exists && depLevel+1 > level {
				level = depLevel + 1
			}
		}
		taskLevel[taskID] = level
		for len(levels) <= level {
			levels = append(levels, nil)
		}
		levels[level] = append(levels[level], taskID)
	}

	return levels
}

func (de *DAGExecutor) workerLimit(dag *DAG) int {
	limit := de.maxWorkers
	if p := dag.metadata.MaxParallelism; p > 0 && p < limit {
		limit = p
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// executeLevel executes all tasks in a level concurrently and returns their failures
func (de *DAGExecutor) executeLevel(ctx context.Context, execCtx *executionContext, taskIDs []string) []error {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []error
	)
	g.SetLimit(de.workerLimit(execCtx.dag))

	for _, taskID := range taskIDs {
		g.Go(func() error {
			if err := de.executeTaskWithRetry(ctx, execCtx, taskID); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("task %s failed: %w", taskID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return failures
}

// executeTaskWithRetry executes a single task with retry logic
func (de *DAGExecutor) executeTaskWithRetry(ctx context.Context, execCtx *executionContext, taskID string) error {
	task := execCtx.dag.tasks[taskID]
	metadata := task.Metadata()
	logger := zerolog.Ctx(ctx).With().Str("task_id", taskID).Logger()
	ctx = logger.WithContext(ctx)

	if !de.shouldExecuteTask(execCtx, task) {
		logger.Warn().Str("trigger_rule", string(triggerRule(metadata))).Msg("task skipped")
		now := time.Now()
		execCtx.mu.Lock()
		execCtx.taskResults[taskID] = tasks.TaskResultMetadata{
			StartTime: now,
			EndTime:   now,
			Skipped:   true,
			Error:     ErrTriggerRuleNotMet,
		}
		execCtx.mu.Unlock()
		return nil
	}

	retryConfig := metadata.RetryConfig
	if retryConfig == nil {
		retryConfig = execCtx.dag.metadata.DefaultRetries
	}
	timeout := metadata.Timeout
	if timeout == 0 {
		timeout = execCtx.dag.metadata.DefaultTimeout
	}

	maxRetries := 0
	if retryConfig != nil {
		maxRetries = retryConfig.MaxRetries
	}

	start := time.Now()
	var lastErr error
	attempts := 0
retry:
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		input := de.prepareTaskInput(execCtx, task)

		output, err := de.runAttempt(ctx, task, input, timeout)
		if err == nil {
			output.Metadata.AttemptCount = attempts
			execCtx.mu.Lock()
			execCtx.taskOutputs[taskID] = output
			execCtx.taskResults[taskID] = output.Metadata
			for k, v := range output.Context {
				execCtx.globalContext[k] = v
			}
			execCtx.mu.Unlock()
			logger.Debug().Int("attempt", attempts).Dur("duration", output.Metadata.Duration()).Msg("task succeeded")
			return nil
		}

		lastErr = err

		if retryConfig == nil || attempt >= maxRetries || !de.shouldRetryError(err, retryConfig) {
			break
		}

		delay := de.retryDelay(retryConfig, attempt)
		logger.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", delay).Msg("task attempt failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		}
	}

	logger.Error().Err(lastErr).Int("attempts", attempts).Msg("task failed")

	execCtx.mu.Lock()
	execCtx.taskResults[taskID] = tasks.TaskResultMetadata{
		StartTime:    start,
		EndTime:      time.Now(),
		Success:      false,
		Error:        lastErr,
		AttemptCount: attempts,
	}
	execCtx.mu.Unlock()

	return lastErr
}

func (de *DAGExecutor) runAttempt(ctx context.Context, task tasks.Task, input tasks.TaskInput, timeout time.Duration) (tasks.TaskOutput, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return task.Execute(ctx, input)
}

func (de *DAGExecutor) retryDelay(config *tasks.RetryConfig, attempt int) time.Duration {
	if config.Strategy != nil || config.Backoff > 0 {
		return config.GetDelay(attempt)
	}
	return de.retryBackoff.Delay(attempt)
}

func triggerRule(metadata tasks.TaskMetadata) tasks.TriggerRule {
	if metadata.TriggerRule == "" {
		return tasks.TriggerRuleAllSuccess
	}
	return metadata.TriggerRule
}

// shouldExecuteTask checks if a task should execute based on its trigger rule.
// Skipped upstream tasks count as done but neither succeeded nor failed.
func (de *DAGExecutor) shouldExecuteTask(execCtx *executionContext, task tasks.Task) bool {
	dependencies := task.Dependencies()
	if len(dependencies) == 0 {
		return true
	}

	execCtx.mu.RLock()
	defer execCtx.mu.RUnlock()

	successCount := 0
	failureCount := 0
	doneCount := 0

	for _, depID := range dependencies {
		result, exists := execCtx.taskResults[depID]
		if !exists {
			continue
		}
		doneCount++
		switch {
		case result.Success:
			successCount++
		case !result.Skipped:
			failureCount++
		}
	}

	switch triggerRule(task.Metadata()) {
	case tasks.TriggerRuleAllSuccess:
		return successCount == len(dependencies)
	case tasks.TriggerRuleAllFailed:
		return failureCount == len(dependencies)
	case tasks.TriggerRuleAllDone:
		return doneCount == len(dependencies)
	case tasks.TriggerRuleOneSuccess:
		return successCount > 0
	case tasks.TriggerRuleOneFailed:
		return failureCount > 0
	case tasks.TriggerRuleNoneFailedMin:
		return failureCount == 0 && successCount > 0
	default:
		return successCount == len(dependencies)
	}
}

// prepareTaskInput gathers dependency outputs, keeping each one addressable by task id
func (de *DAGExecutor) prepareTaskInput(execCtx *executionContext, task tasks.Task) tasks.TaskInput {
	execCtx.mu.RLock()
	defer execCtx.mu.RUnlock()

	var allRecords []core.Record
	sourceMap := make(map[string][]core.Record)
	metadataMap := make(map[string]tasks.TaskResultMetadata)

	for _, depID := range task.Dependencies() {
		if output, exists := execCtx.taskOutputs[depID]; exists {
			allRecords = append(allRecords, output.Records...)
			sourceMap[depID] = output.Records
		}
		if result, exists := execCtx.taskResults[depID]; exists {
			metadataMap[depID] = result
		}
	}

	globalContext := make(map[string]interface{}, len(execCtx.globalContext))
	for k, v := range execCtx.globalContext {
		globalContext[k] = v
	}

	return tasks.TaskInput{
		Records:   allRecords,
		Context:   globalContext,
		SourceMap: sourceMap,
		Metadata:  metadataMap,
	}
}

// shouldRetryError determines if an error should trigger a retry
func (de *DAGExecutor) shouldRetryError(err error, config *tasks.RetryConfig) bool {
	if len(config.RetryOn) == 0 {
		return true
	}

	for _, retryErr := range config.RetryOn {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	return false
}

// executionContext holds state during DAG execution
type executionContext struct {
	dag           *DAG
	taskOutputs   map[string]tasks.TaskOutput
	taskResults   map[string]tasks.TaskResultMetadata
	globalContext map[string]interface{}
	mu            sync.RWMutex
}

// DAGResult contains the results of one DAG run
type DAGResult struct {
	RunID       string
	DAGID       string
	Success     bool
	StartTime   time.Time
	EndTime     time.Time
	TaskResults map[string]tasks.TaskResultMetadata
	Error       error

	outputs map[string]tasks.TaskOutput
}

// Records returns the records a task produced during the run.
func (r *DAGResult) Records(taskID string) []core.Record {
	return r.outputs[taskID].Records
}
