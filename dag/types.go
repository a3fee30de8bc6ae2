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
	"time"

	"github.com/aaronlmathis/goetl-bookstore/dag/tasks"
)

// DAG represents a directed acyclic graph of tasks
type DAG struct {
	id           string
	name         string
	tasks        map[string]tasks.Task
	taskOrder    []string // insertion order, used to break ties deterministically
	dependencies map[string][]string
	metadata     DAGMetadata
}

// DAGMetadata contains DAG-level configuration and scheduling information.
// Schedule, StartDate and Catchup describe how an external trigger should run
// the DAG; the executor runs a single DAG run per Execute call.
type DAGMetadata struct {
	Description    string
	Owner          string
	StartDate      time.Time
	Schedule       string // e.g. "@daily"
	Catchup        bool
	Tags           []string
	MaxParallelism int
	DefaultTimeout time.Duration
	DefaultRetries *tasks.RetryConfig
	GlobalContext  map[string]interface{}
}
