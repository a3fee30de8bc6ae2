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

// Command bookstore runs the bookstore ETL DAG once, prints its structure, or
// checks its configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/aaronlmathis/goetl-bookstore/books"
	"github.com/aaronlmathis/goetl-bookstore/config"
	"github.com/aaronlmathis/goetl-bookstore/dag"
	"github.com/aaronlmathis/goetl-bookstore/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Bookstore ETL")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  bookstore <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  run       Execute the DAG once")
	fmt.Fprintln(w, "  describe  Print the DAG structure and execution order")
	fmt.Fprintln(w, "  validate  Check the configuration and the DAG structure")
	fmt.Fprintln(w, "  help      Show this help message")
	fmt.Fprintln(w, "\nRun 'bookstore <command> -h' for more information on a command.")
}

// run executes the command in args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	var cmd func(context.Context, []string, io.Writer, io.Writer) error
	switch args[0] {
	case "run":
		cmd = runDAG
	case "describe":
		cmd = describe
	case "validate":
		cmd = validate
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return 2
	}

	if err := cmd(ctx, args[1:], stdout, stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// cliFlags are shared by every command. Each flag overrides the
// configuration file and environment only when it is given.
type cliFlags struct {
	configPath     string
	logLevel       string
	logFormat      string
	driver         string
	sourceDSN      string
	destinationDSN string
	jsonPath       string
	csvPath        string
	snapshot       string
	retries        int
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *cliFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &cliFlags{}
	fs.StringVar(&f.configPath, "config", "", "Path to a JSON configuration file")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format (console or json)")
	fs.StringVar(&f.driver, "driver", "", "SQL driver for source and destination (postgres or sqlite)")
	fs.StringVar(&f.sourceDSN, "source-dsn", "", "Source database connection string")
	fs.StringVar(&f.destinationDSN, "destination-dsn", "", "Destination database connection string (defaults to the source)")
	fs.StringVar(&f.jsonPath, "json", "", "Book documents file (.json, .jsonl, .csv or .parquet), local path or s3://bucket/key")
	fs.StringVar(&f.csvPath, "csv", "", "Output CSV file, local path or s3://bucket/key")
	fs.StringVar(&f.snapshot, "snapshot", "", "Optional .parquet or .jsonl snapshot of the transformed books")
	fs.IntVar(&f.retries, "retries", 0, "Retries per task")
	return fs, f
}

// load builds the configuration: defaults, then the file, then BOOKSTORE_*
// variables, then the flags that were set.
func (f *cliFlags) load(fs *flag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}

	destinationSet := false
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "log-format":
			cfg.Log.Format = f.logFormat
		case "driver":
			cfg.Source.Driver = f.driver
			cfg.Destination.Driver = f.driver
		case "source-dsn":
			cfg.Source.DSN = f.sourceDSN
		case "destination-dsn":
			cfg.Destination.DSN = f.destinationDSN
			destinationSet = true
		case "json":
			cfg.JSONPath = f.jsonPath
		case "csv":
			cfg.CSVPath = f.csvPath
		case "snapshot":
			cfg.Snapshot = f.snapshot
		case "retries":
			cfg.Tasks.Retries = f.retries
		}
	})
	if f.sourceDSN != "" && !destinationSet && cfg.Destination.DSN == "" {
		cfg.Destination.DSN = cfg.Source.DSN
	}
	return cfg, nil
}

func setup(ctx context.Context, name string, args []string, stderr io.Writer, requireConnections bool) (context.Context, config.Config, *dag.DAG, error) {
	fs, f := newFlagSet(name, stderr)
	if err := fs.Parse(args); err != nil {
		return ctx, config.Config{}, nil, err
	}

	cfg, err := f.load(fs)
	if err != nil {
		return ctx, cfg, nil, err
	}
	if err := cfg.Validate(requireConnections); err != nil {
		return ctx, cfg, nil, err
	}

	log, err := logger.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return ctx, cfg, nil, err
	}
	ctx = logger.WithContext(ctx, logger.WithFields(log, map[string]interface{}{
		"command": name,
		"dag_id":  cfg.DAG.ID,
	}))

	d, err := books.NewDAG(ctx, cfg)
	if err != nil {
		return ctx, cfg, nil, fmt.Errorf("build DAG: %w", err)
	}
	return ctx, cfg, d, nil
}

func runDAG(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	ctx, cfg, d, err := setup(ctx, "run", args, stderr, true)
	if err != nil {
		return err
	}

	executor := dag.NewDAGExecutor(dag.WithMaxWorkers(cfg.DAG.MaxParallelism))
	result, runErr := executor.Execute(ctx, d)
	if result != nil {
		printResult(stdout, d, result)
	}
	return runErr
}

func printResult(w io.Writer, d *dag.DAG, result *dag.DAGResult) {
	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "Run %s of %s %s in %v\n", result.RunID, result.DAGID, status, result.EndTime.Sub(result.StartTime))

	order, err := d.GetExecutionOrder()
	if err != nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATUS\tATTEMPTS\tROWS IN\tROWS OUT\tDURATION")
	for _, id := range order {
		r, ok := result.TaskResults[id]
		if !ok {
			fmt.Fprintf(tw, "%s\tnot run\t\t\t\t\n", id)
			continue
		}
		state := "success"
		switch {
		case r.Skipped:
			state = "skipped"
		case !r.Success:
			state = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%v\n", id, state, r.AttemptCount, r.RecordsIn, r.RecordsOut, r.Duration())
	}
	tw.Flush()
}

func describe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	_, _, d, err := setup(ctx, "describe", args, stderr, false)
	if err != nil {
		return err
	}

	d.PrintDAGStructure(stdout)
	order, err := d.GetExecutionOrder()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Execution order:")
	for i, id := range order {
		fmt.Fprintf(stdout, "  %d. %s\n", i+1, id)
	}
	return nil
}

func validate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	_, _, d, err := setup(ctx, "validate", args, stderr, true)
	if err != nil {
		return err
	}
	if errs := d.ValidateDAGStructure(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	fmt.Fprintf(stdout, "Configuration and DAG %s are valid (%d tasks)\n", d.GetID(), d.GetTaskCount())
	return nil
}
