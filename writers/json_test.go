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

package writers

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

func TestJSONWriter(t *testing.T) {
	out := &mockCSVWriteCloser{Builder: &strings.Builder{}}
	writer := NewJSONWriter(out)

	ctx := context.Background()
	require.NoError(t, writer.Write(ctx, core.Record{"title": "book a", "stars": int64(3)}))
	require.NoError(t, writer.Write(ctx, core.Record{"title": "book b", "domain": nil}))
	require.NoError(t, writer.Flush())

	assert.Equal(t,
		"{\"stars\":3,\"title\":\"book a\"}\n{\"domain\":null,\"title\":\"book b\"}\n",
		out.String())
	assert.Equal(t, int64(2), writer.RecordsWritten())

	require.NoError(t, writer.Close())
	assert.True(t, out.closed)
	assert.NoError(t, writer.Close())

	err := writer.Write(ctx, core.Record{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestJSONWriter_UnencodableValue(t *testing.T) {
	writer := NewJSONWriter(&mockCSVWriteCloser{Builder: &strings.Builder{}})
	err := writer.Write(context.Background(), core.Record{"bad": make(chan int)})
	require.Error(t, err)
	var writerErr *JSONWriterError
	require.ErrorAs(t, err, &writerErr)
	assert.Equal(t, "write", writerErr.Op)
}
