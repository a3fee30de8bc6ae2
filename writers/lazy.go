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
	"sync"

	"github.com/aaronlmathis/goetl-bookstore/core"
)

// LazySink opens its underlying sink on first use and drops it on Close, so
// the same LazySink can be written again (for example by a retried task) and
// starts a fresh destination each time.
type LazySink struct {
	mu   sync.Mutex
	open func(ctx context.Context) (core.DataSink, error)
	sink core.DataSink
}

// NewLazySink returns a LazySink that calls open whenever it needs a new sink.
// open receives the context of the Open or Write call that triggered it; the
// sink may keep it for work done at Close.
func NewLazySink(open func(ctx context.Context) (core.DataSink, error)) *LazySink {
	return &LazySink{open: open}
}

// Open opens the underlying sink under ctx unless it is already open.
func (l *LazySink) Open(ctx context.Context) error {
	_, err := l.current(ctx)
	return err
}

func (l *LazySink) current(ctx context.Context) (core.DataSink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink == nil {
		sink, err := l.open(ctx)
		if err != nil {
			return nil, err
		}
		l.sink = sink
	}
	return l.sink, nil
}

// Write implements the core.DataSink interface.
func (l *LazySink) Write(ctx context.Context, record core.Record) error {
	sink, err := l.current(ctx)
	if err != nil {
		return err
	}
	return sink.Write(ctx, record)
}

// Flush opens the sink if needed, so a run with no records still reaches the
// destination. Call Open first to bind a context in that case.
func (l *LazySink) Flush() error {
	sink, err := l.current(context.Background())
	if err != nil {
		return err
	}
	return sink.Flush()
}

// Close closes the current sink, if any.
func (l *LazySink) Close() error {
	l.mu.Lock()
	sink := l.sink
	l.sink = nil
	l.mu.Unlock()

	if sink == nil {
		return nil
	}
	return sink.Close()
}
