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

package dag

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aaronlmathis/goetl-bookstore/dag/tasks"
)

// GetTasks returns all tasks in the DAG
func (d *DAG) GetTasks() map[string]tasks.Task {
	return d.tasks
}

// GetTask returns the task with the given id.
func (d *DAG) GetTask(taskID string) (tasks.Task, bool) {
	t, ok := d.tasks[taskID]
	return t, ok
}

// GetDependencies returns the dependencies for a specific task
func (d *DAG) GetDependencies(taskID string) []string {
	if deps, exists := d.dependencies[taskID]; exists {
		return deps
	}
	return []string{}
}

// GetTasksByType returns tasks filtered by type
func (d *DAG) GetTasksByType(taskType tasks.TaskType) map[string]tasks.Task {
	result := make(map[string]tasks.Task)
	for id, task := range d.tasks {
		if task.Metadata().TaskType == taskType {
			result[id] = task
		}
	}
	return result
}

// GetTaskCount returns the total number of tasks
func (d *DAG) GetTaskCount() int {
	return len(d.tasks)
}

// HasTask checks if a task exists in the DAG
func (d *DAG) HasTask(taskID string) bool {
	_, exists := d.tasks[taskID]
	return exists
}

// GetDownstreamTasks returns all tasks that depend on this task, in insertion order
func (d *DAG) GetDownstreamTasks(taskID string) []string {
	var downstream []string
	for _, id := range d.taskOrder {
		for _, dep := range d.dependencies[id] {
			if dep == taskID {
				downstream = append(downstream, id)
				break
			}
		}
	}
	return downstream
}

func (d *DAG) GetMetadata() DAGMetadata { return d.metadata }
func (d *DAG) GetID() string            { return d.id }
func (d *DAG) GetName() string          { return d.name }

// PrintDAGStructure writes a human-readable description of the DAG to w.
func (d *DAG) PrintDAGStructure(w io.Writer) {
	fmt.Fprintf(w, "DAG: %s (%s)", d.name, d.id)
	if d.metadata.Description != "" {
		fmt.Fprintf(w, " - %s", d.metadata.Description)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Configuration:\n")
	if d.metadata.Owner != "" {
		fmt.Fprintf(w, "  Owner: %s\n", d.metadata.Owner)
	}
	if d.metadata.Schedule != "" {
		fmt.Fprintf(w, "  Schedule: %s (catchup: %t)\n", d.metadata.Schedule, d.metadata.Catchup)
	}
	if !d.metadata.StartDate.IsZero() {
		fmt.Fprintf(w, "  Start Date: %s\n", d.metadata.StartDate.Format(time.DateOnly))
	}
	fmt.Fprintf(w, "  Max Parallelism: %d\n", d.metadata.MaxParallelism)
	fmt.Fprintf(w, "  Default Timeout: %v\n", d.metadata.DefaultTimeout)
	fmt.Fprintf(w, "  Tasks: %d\n", len(d.tasks))

	order := d.getExecutionOrderSafe()
	if len(order) == 0 {
		order = d.taskOrder
	}

	fmt.Fprintln(w, "Structure:")
	for _, id := range order {
		task := d.tasks[id]
		metadata := task.Metadata()
		deps := d.GetDependencies(id)
		downstream := d.GetDownstreamTasks(id)

		fmt.Fprintf(w, "  %s [%s]\n", id, metadata.TaskType)
		if metadata.Description != "" {
			fmt.Fprintf(w, "    Description: %s\n", metadata.Description)
		}
		if len(deps) > 0 {
			fmt.Fprintf(w, "    ← depends on: %s\n", strings.Join(deps, ", "))
		}
		if len(downstream) > 0 {
			fmt.Fprintf(w, "    → triggers: %s\n", strings.Join(downstream, ", "))
		}
		if metadata.Timeout > 0 {
			fmt.Fprintf(w, "    Timeout: %v\n", metadata.Timeout)
		}
		if metadata.RetryConfig != nil {
			fmt.Fprintf(w, "    Retries: %d\n", metadata.RetryConfig.MaxRetries)
		}
		if len(metadata.Tags) > 0 {
			fmt.Fprintf(w, "    Tags: %s\n", strings.Join(metadata.Tags, ", "))
		}
	}
}

// ValidateDAGStructure performs comprehensive validation of the DAG structure
func (d *DAG) ValidateDAGStructure() []error {
	var errors []error

	// Check for missing dependencies
	for _, taskID := range d.taskOrder {
		for _, dep := range d.dependencies[taskID] {
			if !d.HasTask(dep) {
				errors = append(errors, fmt.Errorf("task %s depends on non-existent task %s", taskID, dep))
			}
		}
	}

	// Check for orphaned tasks (no dependencies and no dependents)
	for _, taskID := range d.taskOrder {
		if len(d.GetDependencies(taskID)) == 0 && len(d.GetDownstreamTasks(taskID)) == 0 && len(d.tasks) > 1 {
			errors = append(errors, fmt.Errorf("task %s appears to be orphaned (no connections)", taskID))
		}
	}

	if d.hasCycle() {
		errors = append(errors, fmt.Errorf("DAG contains cycles"))
	}

	for _, taskID := range d.taskOrder {
		metadata := d.tasks[taskID].Metadata()

		if metadata.Timeout < 0 {
			errors = append(errors, fmt.Errorf("task %s has invalid negative timeout", taskID))
		}
		if metadata.RetryConfig != nil && metadata.RetryConfig.MaxRetries < 0 {
			errors = append(errors, fmt.Errorf("task %s has invalid negative retry count", taskID))
		}
	}

	return errors
}

// GetExecutionOrder returns the tasks in topological order. Among tasks that
// are ready at the same time, insertion order wins.
func (d *DAG) GetExecutionOrder() ([]string, error) {
	return d.topologicalSort()
}

func (d *DAG) getExecutionOrderSafe() []string {
	if order, err := d.GetExecutionOrder(); err == nil {
		return order
	}
	return nil
}

// MaxDepth returns the length of the longest dependency chain.
func (d *DAG) MaxDepth() int {
	depths := make(map[string]int)

	var depthOf func(taskID string, seen map[string]bool) int
	depthOf = func(taskID string, seen map[string]bool) int {
		if depth, ok := depths[taskID]; ok {
			return depth
		}
		if seen[taskID] {
			return 0
		}
		seen[taskID] = true

		maxDepth := 0
		for _, dep := range d.GetDependencies(taskID) {
			if depDepth := depthOf(dep, seen); depDepth > maxDepth {
				maxDepth = depDepth
			}
		}
		depths[taskID] = maxDepth + 1
		return depths[taskID]
	}

	maxOverall := 0
	for _, taskID := range d.taskOrder {
		if depth := depthOf(taskID, make(map[string]bool)); depth > maxOverall {
			maxOverall = depth
		}
	}
	return maxOverall
}

func (d *DAG) hasCycle() bool {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, taskID := range d.taskOrder {
		if !visited[taskID] && d.dfsHasCycle(taskID, visited, recStack) {
			return true
		}
	}
	return false
}

func (d *DAG) dfsHasCycle(taskID string, visited, recStack map[string]bool) bool {
	visited[taskID] = true
	recStack[taskID] = true

	for _, dep := range d.dependencies[taskID] {
		if !visited[dep] {
			if d.dfsHasCycle(dep, visited, recStack) {
				return true
			}
		} else if recStack[dep] {
			return true
		}
	}

	recStack[taskID] = false
	return false
}

func (d *DAG) topologicalSort() ([]string, error) {
	position := make(map[string]int, len(d.taskOrder))
	for i, id := range d.taskOrder {
		position[id] = i
	}

	inDegree := make(map[string]int, len(d.tasks))
	for _, taskID := range d.taskOrder {
		inDegree[taskID] = len(d.dependencies[taskID])
	}

	var ready []string
	for _, taskID := range d.taskOrder {
		if inDegree[taskID] == 0 {
			ready = append(ready, taskID)
		}
	}

	var result []string
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		result = append(result, current)

		for _, taskID := range d.GetDownstreamTasks(current) {
			inDegree[taskID]--
			if inDegree[taskID] == 0 {
				ready = append(ready, taskID)
			}
		}
		sort.SliceStable(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
	}

	if len(result) != len(d.tasks) {
		return nil, fmt.Errorf("DAG contains cycles")
	}

	return result, nil
}
