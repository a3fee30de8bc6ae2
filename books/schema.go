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

// Package books implements the bookstore ETL workflow: the merge, clean and
// transform stages and the DAG that extracts, prepares and loads book records.
package books

import "strings"

// Book record columns.
const (
	ColTitle           = "title"
	ColURL             = "url"
	ColAvailability    = "availability"
	ColStars           = "stars"
	ColCategory        = "category"
	ColPrice           = "price"
	ColPriceInclTax    = "price_incl_tax"
	ColPriceExclTax    = "price_excl_tax"
	ColTax             = "tax"
	ColUPC             = "upc"
	ColProductType     = "product_type"
	ColDescription     = "description"
	ColNumReviews      = "num_reviews"
	ColID              = "id"
	ColPublicationYear = "publication_year"
	ColDomain          = "domain"
	ColDiscount        = "discount"
)

// Task ids of the bookstore DAG.
const (
	TaskExtractSQL     = "get_postgres_data_src"
	TaskExtractJSON    = "get_json_data_src"
	TaskMerge          = "data_merging"
	TaskClean          = "data_cleaning"
	TaskTransform      = "data_transformation"
	TaskCreateTable    = "create_postgres_table_destination"
	TaskInsert         = "insert_data_into_table"
	TaskSaveCSV        = "save_data_csv"
	TaskSaveSnapshot   = "save_data_parquet"
	DefaultDestination = "books_destination"
)

var (
	// LowercaseColumns are lowercased by Clean.
	LowercaseColumns = []string{ColProductType, ColURL, ColUPC, ColTitle, ColDescription, ColCategory}

	// TextColumns are read as strings from untyped document files (CSV).
	TextColumns = []string{ColTitle, ColURL, ColUPC, ColProductType, ColCategory, ColDescription}

	// ZeroFillColumns have nulls replaced with 0 by Clean. Clean drops rows
	// with nulls first, so the fill never changes anything.
	ZeroFillColumns = []string{ColAvailability, ColStars, ColPriceInclTax, ColPrice, ColPriceExclTax}

	// DroppedColumns are removed by Transform when present.
	DroppedColumns = []string{ColURL, ColDescription, ColNumReviews, ColPriceExclTax}

	// DestinationColumns is the schema of the destination table, in order.
	DestinationColumns = []string{
		ColAvailability, ColCategory, ColPrice, ColProductType, ColStars, ColTax,
		ColTitle, ColUPC, ColPublicationYear, ColDomain, ColDiscount,
	}
)

// SelectBooksSQL reads the relational source.
const SelectBooksSQL = "SELECT * FROM books;"

// CreateDestinationTableSQL returns the CREATE TABLE IF NOT EXISTS statement
// for the destination table. Every column is TEXT.
func CreateDestinationTableSQL(table string) string {
	cols := make([]string, len(DestinationColumns))
	for i, c := range DestinationColumns {
		cols[i] = "\t" + c + " TEXT"
	}
	return "CREATE TABLE IF NOT EXISTS " + table + " (\n" + strings.Join(cols, ",\n") + "\n);"
}
