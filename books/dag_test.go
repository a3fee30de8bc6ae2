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
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/goetl-bookstore/config"
	"github.com/aaronlmathis/goetl-bookstore/core"
	"github.com/aaronlmathis/goetl-bookstore/dag"
	"github.com/aaronlmathis/goetl-bookstore/readers"
	"github.com/aaronlmathis/goetl-bookstore/writers"
)

const booksJSON = `[
  {"id": 1, "title": "Tipping the Velvet", "url": "https://books.toscrape.com/b", "upc": "B2", "product_type": "Books",
   "category": "Historical Fiction", "description": "desc b", "availability": 5, "stars": 1, "price": 54.5,
   "price_incl_tax": 54.5, "price_excl_tax": 50.5, "tax": 4.0, "num_reviews": 0},
  {"id": 2, "title": "Soumission 2015", "url": "https://books.toscrape.com/s", "upc": "C3", "product_type": "Books",
   "category": "Fiction", "description": "desc c", "availability": 2, "stars": 4, "price": 12.5,
   "price_incl_tax": 12.5, "price_excl_tax": 10.5, "tax": 2.0, "num_reviews": 0}
]`

var wantCSV = strings.Join([]string{
	"availability,category,price,product_type,stars,tax,title,upc,publication_year,domain,discount,price_incl_tax",
	"3,poetry,51.77,books,3,0,a light in the attic 2011,a1,2011,books.toscrape.com,0,51.77",
	"5,historical fiction,54.5,books,1,4,tipping the velvet,b2,,books.toscrape.com,4,54.5",
	"2,fiction,12.5,books,4,2,soumission 2015,c3,2015,books.toscrape.com,2,12.5",
	"",
}, "\n")

// seedBooks creates the source table and a stale destination table in a new
// SQLite database and returns its path.
func seedBooks(t *testing.T, dir string) string {
	t.Helper()
	dsn := filepath.Join(dir, "books.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE books (title TEXT, url TEXT, upc TEXT, product_type TEXT, category TEXT, description TEXT,
			availability INTEGER, stars INTEGER, price REAL, price_incl_tax REAL, price_excl_tax REAL, tax REAL, num_reviews INTEGER)`,
		`INSERT INTO books VALUES
			('  A Light in the Attic 2011 ', 'https://books.toscrape.com/a', 'A1', 'Books', 'Poetry', 'desc a', 3, 3, 51.77, 51.77, 51.77, 0.0, 0),
			('Tipping the Velvet', 'https://books.toscrape.com/b', 'B2', 'Books', 'Historical Fiction', 'desc b', 5, 1, 54.5, 54.5, 50.5, 4.0, 0),
			('Sharp Objects', 'https://books.toscrape.com/c', 'S4', 'Books', 'Mystery', NULL, 4, 4, 47.82, 47.82, 47.82, 0.0, 0)`,
		CreateDestinationTableSQL(DefaultDestination),
		`INSERT INTO books_destination (title) VALUES ('stale')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return dsn
}

func localConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	dsn := seedBooks(t, dir)
	jsonPath := filepath.Join(dir, "Books.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(booksJSON), 0644))

	cfg := config.Default()
	cfg.Source.Driver = "sqlite"
	cfg.Source.DSN = dsn
	cfg.Destination.Driver = "sqlite"
	cfg.Destination.DSN = dsn
	cfg.JSONPath = jsonPath
	cfg.CSVPath = filepath.Join(dir, "out", "clean_data.csv")
	return cfg
}

func destinationRows(t *testing.T, dsn string) [][]interface{} {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT title, publication_year, domain, discount FROM books_destination ORDER BY title`)
	require.NoError(t, err)
	defer rows.Close()

	var out [][]interface{}
	for rows.Next() {
		var title, year, domain, discount sql.NullString
		require.NoError(t, rows.Scan(&title, &year, &domain, &discount))
		row := make([]interface{}, 0, 4)
		for _, v := range []sql.NullString{title, year, domain, discount} {
			if v.Valid {
				row = append(row, v.String)
			} else {
				row = append(row, nil)
			}
		}
		out = append(out, row)
	}
	require.NoError(t, rows.Err())
	return out
}

var wantDestination = [][]interface{}{
	{"a light in the attic 2011", "2011", "books.toscrape.com", "0"},
	{"soumission 2015", "2015", "books.toscrape.com", "2"},
	{"tipping the velvet", nil, "books.toscrape.com", "4"},
}

func TestNewDAG_Structure(t *testing.T) {
	d, err := NewDAG(context.Background(), config.Default())
	require.NoError(t, err)

	assert.Equal(t, "bookstore_exploring", d.GetID())
	assert.Equal(t, 8, d.GetTaskCount())
	assert.Empty(t, d.ValidateDAGStructure())

	deps := map[string][]string{
		TaskExtractSQL:  nil,
		TaskExtractJSON: nil,
		TaskMerge:       {TaskExtractSQL, TaskExtractJSON},
		TaskClean:       {TaskMerge},
		TaskTransform:   {TaskClean},
		TaskCreateTable: {TaskTransform},
		TaskInsert:      {TaskCreateTable},
		TaskSaveCSV:     {TaskTransform},
	}
	for id, want := range deps {
		assert.ElementsMatch(t, want, d.GetDependencies(id), id)
	}

	order, err := d.GetExecutionOrder()
	require.NoError(t, err)
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for id, want := range deps {
		for _, dep := range want {
			assert.Less(t, pos[dep], pos[id], "%s must run before %s", dep, id)
		}
	}

	meta := d.GetMetadata()
	assert.Equal(t, "Mohamed Medhat", meta.Owner)
	assert.Equal(t, "@daily", meta.Schedule)
	assert.False(t, meta.Catchup)
	assert.Equal(t, time.Date(2023, 10, 31, 0, 0, 0, 0, time.UTC), meta.StartDate)
	assert.Nil(t, meta.DefaultRetries)

	var buf bytes.Buffer
	d.PrintDAGStructure(&buf)
	for id := range deps {
		assert.Contains(t, buf.String(), id)
	}
}

func TestNewDAG_Options(t *testing.T) {
	cfg := config.Default()
	cfg.Snapshot = "snap/books.parquet"
	cfg.Tasks.Retries = 2
	cfg.Tasks.RetryDelay = config.Duration(time.Second)

	d, err := NewDAG(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 9, d.GetTaskCount())
	assert.Equal(t, []string{TaskTransform}, d.GetDependencies(TaskSaveSnapshot))

	retries := d.GetMetadata().DefaultRetries
	require.NotNil(t, retries)
	assert.Equal(t, 2, retries.MaxRetries)
	assert.Equal(t, time.Second, retries.GetDelay(1))
}

func TestNewDAG_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"table", func(c *config.Config) { c.Destination.Table = "books; DROP TABLE books" }},
		{"snapshot", func(c *config.Config) { c.Snapshot = "snapshot.xml" }},
		{"start date", func(c *config.Config) { c.DAG.StartDate = "31/10/2023" }},
		{"csv", func(c *config.Config) { c.CSVPath = "s3://bucket-only" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(&cfg)
			_, err := NewDAG(context.Background(), cfg, WithS3Client(newMemS3()))
			assert.Error(t, err)
		})
	}
}

func TestNewDAG_RunLocal(t *testing.T) {
	cfg := localConfig(t)
	cfg.Snapshot = filepath.Join(filepath.Dir(cfg.CSVPath), "books.parquet")

	d, err := NewDAG(context.Background(), cfg)
	require.NoError(t, err)

	executor := dag.NewDAGExecutor()
	// A second run on the same DAG must replace, not append to, every output.
	for run := 0; run < 2; run++ {
		result, err := executor.Execute(context.Background(), d)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Len(t, result.Records(TaskMerge), 4)
		assert.Len(t, result.Records(TaskClean), 3)
		assert.Len(t, result.Records(TaskTransform), 3)
	}

	csv, err := os.ReadFile(cfg.CSVPath)
	require.NoError(t, err)
	assert.Equal(t, wantCSV, string(csv))

	assert.Equal(t, wantDestination, destinationRows(t, cfg.Destination.DSN))

	f, err := os.Open(cfg.Snapshot)
	require.NoError(t, err)
	defer f.Close()
	table, err := pqarrow.ReadTable(context.Background(), f, parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	defer table.Release()
	assert.Equal(t, int64(3), table.NumRows())
	assert.Equal(t, int64(len(DestinationColumns)), table.NumCols())
}

func TestNewDAG_RunS3(t *testing.T) {
	cfg := localConfig(t)
	client := newMemS3()
	client.objects["landing/Books.json"] = []byte(booksJSON)
	cfg.JSONPath = "s3://landing/Books.json"
	cfg.CSVPath = "s3://exports/daily/clean_data.csv"

	d, err := NewDAG(context.Background(), cfg, WithS3Client(client))
	require.NoError(t, err)

	_, err = dag.NewDAGExecutor().Execute(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, wantCSV, string(client.objects["exports/daily/clean_data.csv"]))
	assert.Equal(t, wantDestination, destinationRows(t, cfg.Destination.DSN))
}

const booksCSV = `id,title,url,upc,product_type,category,description,availability,stars,price,price_incl_tax,price_excl_tax,tax,num_reviews
1,Tipping the Velvet,https://books.toscrape.com/b,B2,Books,Historical Fiction,desc b,5,1,54.5,54.5,50.5,4.0,0
2,Soumission 2015,https://books.toscrape.com/s,C3,Books,Fiction,desc c,2,4,12.5,12.5,10.5,2.0,0
`

func writeBooksParquet(t *testing.T, path string) {
	t.Helper()
	docs := readers.NewJSONReader(io.NopCloser(strings.NewReader(booksJSON)))
	defer docs.Close()

	w, err := writers.CreateParquetFile(path)
	require.NoError(t, err)
	for {
		rec, err := docs.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, w.Write(context.Background(), rec))
	}
	require.NoError(t, w.Close())
}

func TestNewDAG_DocumentFormats(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		write func(t *testing.T, path string)
	}{
		{"csv", "Books.csv", func(t *testing.T, path string) {
			require.NoError(t, os.WriteFile(path, []byte(booksCSV), 0644))
		}},
		{"parquet", "Books.parquet", writeBooksParquet},
		{"ndjson", "Books.ndjson", func(t *testing.T, path string) {
			lines := `{"id": 1, "title": "Tipping the Velvet", "url": "https://books.toscrape.com/b", "upc": "B2", "product_type": "Books", "category": "Historical Fiction", "description": "desc b", "availability": 5, "stars": 1, "price": 54.5, "price_incl_tax": 54.5, "price_excl_tax": 50.5, "tax": 4.0, "num_reviews": 0}
{"id": 2, "title": "Soumission 2015", "url": "https://books.toscrape.com/s", "upc": "C3", "product_type": "Books", "category": "Fiction", "description": "desc c", "availability": 2, "stars": 4, "price": 12.5, "price_incl_tax": 12.5, "price_excl_tax": 10.5, "tax": 2.0, "num_reviews": 0}
`
			require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig(t)
			cfg.JSONPath = filepath.Join(t.TempDir(), tt.file)
			tt.write(t, cfg.JSONPath)

			d, err := NewDAG(context.Background(), cfg)
			require.NoError(t, err)
			_, err = dag.NewDAGExecutor().Execute(context.Background(), d)
			require.NoError(t, err)

			csv, err := os.ReadFile(cfg.CSVPath)
			require.NoError(t, err)
			assert.Equal(t, wantCSV, string(csv))
			assert.Equal(t, wantDestination, destinationRows(t, cfg.Destination.DSN))
		})
	}
}

func TestDocumentSource_CSVTextColumns(t *testing.T) {
	cfg := config.Default()
	cfg.JSONPath = filepath.Join(t.TempDir(), "Books.csv")
	require.NoError(t, os.WriteFile(cfg.JSONPath,
		[]byte("title,upc,stars,price_incl_tax\n1984,0042,4,9.5\n"), 0644))

	open, err := documentSource(cfg, nil)
	require.NoError(t, err)
	src, err := open(context.Background())
	require.NoError(t, err)
	defer src.Close()

	rec, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Record{"title": "1984", "upc": "0042", "stars": int64(4), "price_incl_tax": 9.5}, rec)

	transformed, err := Transform(context.Background(), []core.Record{{
		"title": rec["title"], "url": "https://books.toscrape.com/x",
		"price_incl_tax": 9.5, "price_excl_tax": 9.5,
	}})
	require.NoError(t, err)
	require.Len(t, transformed, 1)
	assert.Equal(t, int64(1984), transformed[0][ColPublicationYear])
}

func TestNewDAG_MissingJSONFailsRun(t *testing.T) {
	cfg := localConfig(t)
	cfg.JSONPath = filepath.Join(t.TempDir(), "missing.json")

	d, err := NewDAG(context.Background(), cfg)
	require.NoError(t, err)

	result, err := dag.NewDAGExecutor().Execute(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, result.Success)

	_, statErr := os.Stat(cfg.CSVPath)
	assert.True(t, os.IsNotExist(statErr), "csv must not be written when extraction fails")
}

func TestNewDAG_QualityGateKeepsDestination(t *testing.T) {
	cfg := localConfig(t)
	cfg.Quality.MinRows = 10

	d, err := NewDAG(context.Background(), cfg)
	require.NoError(t, err)

	_, err = dag.NewDAGExecutor().Execute(context.Background(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient records: got 3, need at least 10")

	assert.Equal(t, [][]interface{}{{"stale", nil, nil, nil}}, destinationRows(t, cfg.Destination.DSN))
	_, statErr := os.Stat(cfg.CSVPath)
	assert.True(t, os.IsNotExist(statErr))
}

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemS3() *memS3 {
	return &memS3{objects: make(map[string][]byte)}
}

func (m *memS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}
