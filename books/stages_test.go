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

package books

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/readers"
	"github.com/aaronlmathis/goetl-bookstore/validators"
)

func TestMerge_KeepsEveryRow(t *testing.T) {
	relational := []core.Record{
		{"title": "A", "upc": "1", "price": 10.0},
		{"title": "B", "upc": "2", "price": 5.0},
	}
	documents := []core.Record{
		{"id": int64(1), "title": "B", "upc": "2", "stars": int64(3)},
		{"id": int64(2), "title": "C", "upc": "3", "stars": int64(4)},
	}

	merged, err := Merge(context.Background(), relational, documents)
	require.NoError(t, err)

	assert.Equal(t, []core.Record{
		{"title": "A", "upc": "1", "price": 10.0, "stars": nil},
		{"title": "B", "upc": "2", "price": 5.0, "stars": int64(3)},
		{"title": "C", "upc": "3", "price": nil, "stars": int64(4)},
	}, merged)
}

func TestMerge_NoSharedColumns(t *testing.T) {
	_, err := Merge(context.Background(),
		[]core.Record{{"a": 1}},
		[]core.Record{{"id": 1, "b": 2}})
	assert.ErrorIs(t, err, ErrNoSharedColumns)
}

func TestMergeConfig(t *testing.T) {
	assert.Equal(t, []string{"id"}, MergeConfig(false).DropRight)
	assert.Equal(t, []string{"id", "_id"}, MergeConfig(true).DropRight)
	assert.Empty(t, MergeConfig(true).LeftKeys)
}

func TestClean(t *testing.T) {
	records := []core.Record{
		{"title": "  Book A 2020 ", "url": " HTTP://X.com/a", "upc": "ABC", "category": "Poetry", "stars": int64(3)},
		{"title": "book a 2020", "url": "http://x.com/a", "upc": "abc", "category": "poetry", "stars": int64(3)},
		{"title": "Book B", "url": "http://x.com/b", "upc": "B", "category": "Poetry", "stars": nil},
		{"title": "Book C", "url": "http://x.com/c", "upc": "C", "stars": int64(1)},
		{"title": "Book D", "url": "http://x.com/d", "upc": "D", "category": " Travel ", "stars": int64(5)},
	}

	cleaned, err := Clean(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, []core.Record{
		{"title": "book a 2020", "url": "http://x.com/a", "upc": "abc", "category": "poetry", "stars": int64(3)},
		{"title": "book d", "url": "http://x.com/d", "upc": "d", "category": "travel", "stars": int64(5)},
	}, cleaned)
	assert.Equal(t, "  Book A 2020 ", records[0]["title"], "input must not be modified")
}

func TestClean_DropsNaN(t *testing.T) {
	reader := readers.NewCSVReader(io.NopCloser(strings.NewReader(
		"title,price,upc\nBook A 2020,NaN,a1\nBook B,3.5,b1\n")))
	defer reader.Close()

	var records []core.Record
	for {
		rec, err := reader.Read(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		records = append(records, rec)
	}
	require.Len(t, records, 2)

	cleaned, err := Clean(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"title": "book b", "price": 3.5, "upc": "b1"}}, cleaned)
}

func TestClean_Empty(t *testing.T) {
	cleaned, err := Clean(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, cleaned)
}

// sampleBooks returns rows with repeated, padded and mixed-case values and
// the occasional null.
func sampleBooks(n int) []core.Record {
	records := make([]core.Record, 0, n)
	for i := 0; i < n; i++ {
		r := core.Record{
			"title":          fmt.Sprintf("  Book %d Edition %d ", i%7, 1990+i%5),
			"url":            fmt.Sprintf("HTTPS://Books.Example.com/%d", i%7),
			"upc":            fmt.Sprintf("UPC%d", i%7),
			"product_type":   "Books ",
			"category":       []string{"Poetry", " Travel", "MYSTERY"}[i%3],
			"description":    "A Description",
			"availability":   int64(i % 4),
			"stars":          int64(i % 5),
			"price":          float64(i%7) + 0.5,
			"price_incl_tax": float64(i%7) + 0.5,
			"price_excl_tax": float64(i % 7),
		}
		if i%11 == 0 {
			r["description"] = nil
		}
		records = append(records, r)
	}
	return records
}

func TestClean_Properties(t *testing.T) {
	cleaned, err := Clean(context.Background(), sampleBooks(100))
	require.NoError(t, err)
	require.NotEmpty(t, cleaned)

	columns := core.Columns(cleaned)
	seen := make(map[string]bool)
	for _, r := range cleaned {
		key := core.RowKey(r, columns)
		assert.False(t, seen[key], "duplicate row %v", r)
		seen[key] = true

		for _, col := range columns {
			v, ok := r[col]
			assert.True(t, ok, "row %v is missing %s", r, col)
			assert.NotNil(t, v, "row %v has a null %s", r, col)
		}
		for _, col := range LowercaseColumns {
			s, ok := r[col].(string)
			require.True(t, ok)
			assert.Equal(t, strings.ToLower(strings.TrimSpace(s)), s)
		}
	}
}

func TestClean_Idempotent(t *testing.T) {
	ctx := context.Background()
	once, err := Clean(ctx, sampleBooks(60))
	require.NoError(t, err)
	twice, err := Clean(ctx, once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestTransform_EndToEndExample(t *testing.T) {
	out, err := Transform(context.Background(), []core.Record{{
		"title":          "Book A 2020",
		"url":            "http://x.com/a",
		"price_incl_tax": 12,
		"price_excl_tax": 10,
		"description":    "d",
		"num_reviews":    int64(0),
		"upc":            "x",
	}})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, core.Record{
		"title":            "Book A 2020",
		"upc":              "x",
		"price_incl_tax":   12,
		"publication_year": int64(2020),
		"domain":           "x.com",
		"discount":         2.0,
	}, out[0])
}

func TestTransform_PublicationYear(t *testing.T) {
	tests := []struct {
		title string
		want  interface{}
	}{
		{"book a 2020", int64(2020)},
		{"edition 12345 of 1999", int64(1234)},
		{"no year here", nil},
		{"123", nil},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			out, err := Transformer().Transform(context.Background(), core.Record{"title": tt.title})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out[ColPublicationYear])
		})
	}
}

func TestTransform_Domain(t *testing.T) {
	tests := []struct {
		url  string
		want interface{}
	}{
		{"https://books.toscrape.com/catalogue/a-light_1000/index.html", "books.toscrape.com"},
		{"http://x.com", "x.com"},
		{"books.toscrape.com/a", nil},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			out, err := Transformer().Transform(context.Background(), core.Record{"url": tt.url})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out[ColDomain])
			assert.NotContains(t, out, ColURL)
		})
	}
}

func TestTransform_Discount(t *testing.T) {
	records := sampleBooks(20)
	out, err := Transform(context.Background(), records)
	require.NoError(t, err)

	for i, r := range out {
		want := records[i]["price_incl_tax"].(float64) - records[i]["price_excl_tax"].(float64)
		assert.InDelta(t, want, r[ColDiscount], 1e-9)
		for _, col := range DroppedColumns {
			assert.NotContains(t, r, col)
		}
	}
}

func TestTransform_BadPrice(t *testing.T) {
	_, err := Transform(context.Background(), []core.Record{{"price_incl_tax": "£12", "price_excl_tax": 10}})
	assert.Error(t, err)
}

func TestTransformChecked(t *testing.T) {
	ctx := context.Background()
	records := sampleBooks(10)

	out, err := TransformChecked(10)(ctx, records)
	require.NoError(t, err)
	assert.Len(t, out, 10)

	_, err = TransformChecked(11)(ctx, records)
	assert.ErrorIs(t, err, validators.ErrQuality)
}

func TestQuality_RejectsBadDerivedColumns(t *testing.T) {
	err := Quality(0).Validate(context.Background(), []core.Record{{"discount": "2"}})
	assert.ErrorIs(t, err, validators.ErrQuality)

	err = Quality(0).Validate(context.Background(), []core.Record{{"title": "a", "url": "http://x.com"}})
	assert.ErrorIs(t, err, validators.ErrQuality)
}

func TestCreateDestinationTableSQL(t *testing.T) {
	stmt := CreateDestinationTableSQL(DefaultDestination)
	assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS books_destination (\n"))
	assert.True(t, strings.HasSuffix(stmt, "\tdiscount TEXT\n);"))
	assert.Equal(t, len(DestinationColumns), strings.Count(stmt, " TEXT"))
}
