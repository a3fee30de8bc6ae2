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

package filter

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

func include(t *testing.T, f core.Filter, r core.Record) bool {
	t.Helper()
	ok, err := f.ShouldInclude(context.Background(), r)
	require.NoError(t, err)
	return ok
}

func TestNotNull(t *testing.T) {
	f := NotNull("title")
	assert.True(t, include(t, f, core.Record{"title": "a"}))
	assert.True(t, include(t, f, core.Record{"title": ""}))
	assert.True(t, include(t, f, core.Record{"title": int64(0)}))
	assert.False(t, include(t, f, core.Record{"title": nil}))
	assert.False(t, include(t, f, core.Record{}))
	assert.False(t, include(t, f, core.Record{"title": math.NaN()}))
	assert.False(t, include(t, f, core.Record{"title": float32(math.NaN())}))
}

func TestComplete(t *testing.T) {
	listed := Complete("title", "upc")
	assert.True(t, include(t, listed, core.Record{"title": "a", "upc": "1", "tax": nil}))
	assert.False(t, include(t, listed, core.Record{"title": "a"}))

	all := Complete()
	assert.True(t, include(t, all, core.Record{"title": "a", "upc": "1"}))
	assert.False(t, include(t, all, core.Record{"title": "a", "tax": nil}))
	assert.True(t, include(t, all, core.Record{}))
	assert.False(t, include(t, all, core.Record{"title": "a", "price": math.NaN()}))
	assert.False(t, include(t, listed, core.Record{"title": "a", "upc": math.NaN()}))
}

func TestCombinators(t *testing.T) {
	hasTitle := NotNull("title")
	hasUPC := NotNull("upc")

	r := core.Record{"title": "a"}
	assert.False(t, include(t, And(hasTitle, hasUPC), r))
	assert.True(t, include(t, Or(hasTitle, hasUPC), r))
	assert.False(t, include(t, Not(hasTitle), r))
	assert.True(t, include(t, And(), r))
	assert.False(t, include(t, Or(), r))

	boom := core.FilterFunc(func(ctx context.Context, r core.Record) (bool, error) {
		return false, errors.New("boom")
	})
	_, err := And(hasTitle, boom).ShouldInclude(context.Background(), r)
	assert.Error(t, err)
	_, err = Not(boom).ShouldInclude(context.Background(), r)
	assert.Error(t, err)
}

func TestCustomAndApply(t *testing.T) {
	short := Custom(func(r core.Record) bool { return len(r) < 2 })
	records := []core.Record{{"a": 1}, {"a": 1, "b": 2}, {"c": 3}}

	kept, err := Apply(context.Background(), short, records)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"a": 1}, {"c": 3}}, kept)
}
