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

// join.go - JoinTask implementation
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// ErrNoSharedColumns is returned when a join has no explicit keys and its
// inputs have no column in common.
var ErrNoSharedColumns = errors.New("no shared columns to join on")

// JoinType selects which unmatched rows a join keeps.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinOuter JoinType = "outer"
)

// JoinConfig defines join operation parameters
type JoinConfig struct {
	JoinType  JoinType
	LeftKeys  []string // Join keys for the left dataset; empty means shared columns
	RightKeys []string // Join keys for the right dataset; empty means LeftKeys
	DropLeft  []string // Fields removed from left records before joining
	DropRight []string // Fields removed from right records before joining
}

// JoinTask performs SQL-style hash joins between the outputs of its first two
// dependencies. Null keys match each other, and every output row carries the
// full column set of both inputs, with nil for fields a side did not supply.
type JoinTask struct {
	baseTask
	joinConfig JoinConfig
}

func (jt *JoinTask) Execute(ctx context.Context, input TaskInput) (TaskOutput, error) {
	start := time.Now()

	if len(jt.dependencies) < 2 {
		return TaskOutput{}, fmt.Errorf("join task requires at least 2 dependencies, got %d", len(jt.dependencies))
	}

	leftRecords, okLeft := input.SourceMap[jt.dependencies[0]]
	rightRecords, okRight := input.SourceMap[jt.dependencies[1]]
	if !okLeft || !okRight {
		return TaskOutput{}, fmt.Errorf("missing source data for join operation")
	}

	joined, keys, err := Join(ctx, jt.joinConfig, leftRecords, rightRecords)
	if err != nil {
		return TaskOutput{}, fmt.Errorf("join operation failed: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("task_id", jt.id).
		Strs("keys", keys).
		Int("left_rows", len(leftRecords)).
		Int("right_rows", len(rightRecords)).
		Int("rows", len(joined)).
		Msg("merged records")

	return TaskOutput{
		Records:  joined,
		Context:  input.Context,
		Metadata: result(start, len(leftRecords)+len(rightRecords), len(joined)),
	}, nil
}

// Join joins left and right according to config and returns the joined rows
// and the left key columns used. Left rows keep their order; unmatched right
// rows follow in their original order.
func Join(ctx context.Context, config JoinConfig, left, right []core.Record) ([]core.Record, []string, error) {
	left = dropFields(left, config.DropLeft)
	right = dropFields(right, config.DropRight)

	leftCols := core.Columns(left)
	rightCols := core.Columns(right)

	leftKeys := config.LeftKeys
	rightKeys := config.RightKeys
	if len(leftKeys) == 0 {
		leftKeys = sharedColumns(leftCols, rightCols)
		if len(leftKeys) == 0 {
			return nil, nil, ErrNoSharedColumns
		}
	}
	if len(rightKeys) == 0 {
		rightKeys = leftKeys
	}
	if len(leftKeys) != len(rightKeys) {
		return nil, nil, fmt.Errorf("left has %d keys, right has %d", len(leftKeys), len(rightKeys))
	}

	joinType := config.JoinType
	if joinType == "" {
		joinType = JoinInner
	}
	switch joinType {
	case JoinInner, JoinLeft, JoinRight, JoinOuter:
	default:
		return nil, nil, fmt.Errorf("unsupported join type %q", joinType)
	}

	columns := outputColumns(leftCols, rightCols, leftKeys, rightKeys)

	rightIndex := make(map[string][]int, len(right))
	for i, rightRecord := range right {
		key := core.RowKey(rightRecord, rightKeys)
		rightIndex[key] = append(rightIndex[key], i)
	}

	matchedRight := make([]bool, len(right))
	var out []core.Record

	for _, leftRecord := range left {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		matches := rightIndex[core.RowKey(leftRecord, leftKeys)]
		if len(matches) == 0 {
			if joinType == JoinLeft || joinType == JoinOuter {
				out = append(out, mergeRecords(columns, leftRecord, nil, leftKeys, rightKeys))
			}
			continue
		}
		for _, idx := range matches {
			matchedRight[idx] = true
			out = append(out, mergeRecords(columns, leftRecord, right[idx], leftKeys, rightKeys))
		}
	}

	if joinType == JoinRight || joinType == JoinOuter {
		for i, rightRecord := range right {
			if !matchedRight[i] {
				out = append(out, mergeRecords(columns, nil, rightRecord, leftKeys, rightKeys))
			}
		}
	}

	return out, leftKeys, nil
}

func dropFields(records []core.Record, fields []string) []core.Record {
	if len(fields) == 0 {
		return records
	}
	out := make([]core.Record, len(records))
	for i, r := range records {
		c := r.Clone()
		for _, f := range fields {
			delete(c, f)
		}
		out[i] = c
	}
	return out
}

func sharedColumns(leftCols, rightCols []string) []string {
	inRight := make(map[string]bool, len(rightCols))
	for _, c := range rightCols {
		inRight[c] = true
	}
	var shared []string
	for _, c := range leftCols {
		if inRight[c] {
			shared = append(shared, c)
		}
	}
	return shared
}

// outputColumn maps an output field to where its value comes from.
type outputColumn struct {
	name     string
	left     string // source field on the left record, "" if none
	right    string // source field on the right record, "" if none
	isKey    bool
	keyIndex int
}

func outputColumns(leftCols, rightCols, leftKeys, rightKeys []string) []outputColumn {
	leftKeyIdx := make(map[string]int, len(leftKeys))
	for i, k := range leftKeys {
		leftKeyIdx[k] = i
	}
	rightKeyIdx := make(map[string]int, len(rightKeys))
	for i, k := range rightKeys {
		rightKeyIdx[k] = i
	}

	var cols []outputColumn
	taken := make(map[string]bool)
	for _, c := range leftCols {
		col := outputColumn{name: c, left: c}
		if i, ok := leftKeyIdx[c]; ok {
			col.isKey = true
			col.keyIndex = i
			col.right = rightKeys[i]
		}
		cols = append(cols, col)
		taken[c] = true
	}
	for _, c := range rightCols {
		if i, ok := rightKeyIdx[c]; ok && taken[leftKeys[i]] {
			continue
		}
		name := c
		// Handle field name conflicts
		if taken[name] {
			name = "right_" + c
		}
		cols = append(cols, outputColumn{name: name, right: c})
		taken[name] = true
	}
	return cols
}

// mergeRecords combines left and right records into one row holding every output column.
func mergeRecords(columns []outputColumn, leftRecord, rightRecord core.Record, leftKeys, rightKeys []string) core.Record {
	out := make(core.Record, len(columns))
	for _, col := range columns {
		var value interface{}
		switch {
		case col.isKey && leftRecord != nil:
			value = leftRecord[leftKeys[col.keyIndex]]
		case col.isKey && rightRecord != nil:
			value = rightRecord[rightKeys[col.keyIndex]]
		case col.left != "" && leftRecord != nil:
			value = leftRecord[col.left]
		case col.left == "" && col.right != "" && rightRecord != nil:
			value = rightRecord[col.right]
		}
		out[col.name] = value
	}
	return out
}

// NewJoinTask creates a new JoinTask
func NewJoinTask(id string, config JoinConfig, dependencies []string, options ...TaskOption) *JoinTask {
	task := &JoinTask{
		baseTask:   newBaseTask(id, TaskTypeJoin, dependencies),
		joinConfig: config,
	}
	applyOptions(task, options)
	return task
}
