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

package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

func TestJoin_OuterKeepsEveryRow(t *testing.T) {
	left := []core.Record{
		{"upc": "a1", "title": "one", "price": 10.0},
		{"upc": "b2", "title": "two", "price": 20.0},
	}
	right := []core.Record{
		{"upc": "b2", "title": "two", "stars": 3},
		{"upc": "c3", "title": "three", "stars": 5},
	}

	joined, keys, err := Join(context.Background(), JoinConfig{JoinType: JoinOuter}, left, right)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "upc"}, keys)

	require.Len(t, joined, 3)
	assert.Equal(t, core.Record{"upc": "a1", "title": "one", "price": 10.0, "stars": nil}, joined[0])
	assert.Equal(t, core.Record{"upc": "b2", "title": "two", "price": 20.0, "stars": 3}, joined[1])
	assert.Equal(t, core.Record{"upc": "c3", "title": "three", "price": nil, "stars": 5}, joined[2])
}

func TestJoin_OuterMatchesOnSharedColumns(t *testing.T) {
	left := []core.Record{
		{"upc": "a1", "title": "one", "price": 10.0},
		{"upc": "b2", "title": "two", "price": 20.0},
	}
	right := []core.Record{
		{"id": 7, "upc": "b2", "title": "two"},
		{"id": 8, "upc": "c3", "title": "three"},
	}

	joined, keys, err := Join(context.Background(), JoinConfig{JoinType: JoinOuter, DropRight: []string{"id"}}, left, right)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "upc"}, keys)

	require.Len(t, joined, 3)
	assert.Equal(t, core.Record{"upc": "a1", "title": "one", "price": 10.0}, joined[0])
	assert.Equal(t, core.Record{"upc": "b2", "title": "two", "price": 20.0}, joined[1])
	assert.Equal(t, core.Record{"upc": "c3", "title": "three", "price": nil}, joined[2])
	for _, r := range joined {
		assert.NotContains(t, r, "id")
	}
}

func TestJoin_Types(t *testing.T) {
	left := []core.Record{{"k": 1, "l": "x"}, {"k": 2, "l": "y"}}
	right := []core.Record{{"k": int64(2), "r": "z"}, {"k": 3, "r": "w"}}

	tests := []struct {
		joinType JoinType
		rows     int
	}{
		{JoinInner, 1},
		{JoinLeft, 2},
		{JoinRight, 2},
		{JoinOuter, 3},
		{"", 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.joinType), func(t *testing.T) {
			joined, _, err := Join(context.Background(), JoinConfig{JoinType: tt.joinType}, left, right)
			require.NoError(t, err)
			assert.Len(t, joined, tt.rows)
		})
	}
}

func TestJoin_KeyTyping(t *testing.T) {
	left := []core.Record{{"k": "1"}, {"k": nil}}
	right := []core.Record{{"k": 1}, {"k": nil}}

	joined, _, err := Join(context.Background(), JoinConfig{JoinType: JoinInner}, left, right)
	require.NoError(t, err)
	require.Len(t, joined, 1, "only the null keys match; string \"1\" is not number 1")
	assert.Nil(t, joined[0]["k"])
}

func TestJoin_Errors(t *testing.T) {
	ctx := context.Background()

	_, _, err := Join(ctx, JoinConfig{JoinType: JoinOuter}, []core.Record{{"a": 1}}, []core.Record{{"b": 1}})
	assert.ErrorIs(t, err, ErrNoSharedColumns)

	_, _, err = Join(ctx, JoinConfig{JoinType: "cross"}, []core.Record{{"a": 1}}, []core.Record{{"a": 1}})
	assert.Error(t, err)

	_, _, err = Join(ctx, JoinConfig{LeftKeys: []string{"a", "b"}, RightKeys: []string{"a"}}, nil, nil)
	assert.Error(t, err)
}

func TestJoin_ExplicitKeysRenameConflicts(t *testing.T) {
	left := []core.Record{{"id": 1, "name": "left"}}
	right := []core.Record{{"ref": 1, "name": "right"}}

	joined, _, err := Join(context.Background(), JoinConfig{
		JoinType:  JoinInner,
		LeftKeys:  []string{"id"},
		RightKeys: []string{"ref"},
	}, left, right)
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, core.Record{"id": 1, "name": "left", "right_name": "right"}, joined[0])
}

func TestJoinTask_Execute(t *testing.T) {
	task := NewJoinTask("merge", JoinConfig{JoinType: JoinOuter}, []string{"pg", "json"})
	assert.Equal(t, TaskTypeJoin, task.Metadata().TaskType)

	out, err := task.Execute(context.Background(), TaskInput{
		SourceMap: map[string][]core.Record{
			"pg":   {{"upc": "a"}},
			"json": {{"upc": "b"}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, out.Records, 2)
	assert.True(t, out.Metadata.Success)
	assert.EqualValues(t, 2, out.Metadata.RecordsIn)

	_, err = task.Execute(context.Background(), TaskInput{SourceMap: map[string][]core.Record{"pg": {}}})
	assert.Error(t, err)

	single := NewJoinTask("merge", JoinConfig{}, []string{"pg"})
	_, err = single.Execute(context.Background(), TaskInput{})
	assert.Error(t, err)
}
