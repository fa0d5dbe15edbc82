// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/worldbank/db"
	"github.com/stockparfait/worldbank/message"
	"github.com/stockparfait/worldbank/metrics"
	"github.com/stockparfait/worldbank/pipeline"
	"github.com/stockparfait/worldbank/table"
	"github.com/stockparfait/worldbank/wb"
	"github.com/stockparfait/worldbank/wb/wdi"
)

const defaultEnvFile = ".env"

type Flags struct {
	Config   string // TOML config file; default: built-in defaults
	EnvFile  string // default: .env, if it exists
	LogLevel logging.Level
	Dump     string // write CSV files to this directory instead of the store
	Summary  bool   // print per-indicator statistics after a completed run
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("wb-etl", flag.ExitOnError)
	fs.StringVar(&flags.Config, "conf", "", "configuration file (TOML)")
	fs.StringVar(&flags.EnvFile, "env", defaultEnvFile,
		"file with DB_* environment variables")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")
	fs.StringVar(&flags.Dump, "dump", "",
		"write CSV tables to this directory instead of the database")
	fs.BoolVar(&flags.Summary, "summary", false, "print indicator statistics")

	err := fs.Parse(args)
	return &flags, err
}

// loadEnv adds the variables from the env file to the process environment.
// Variables already set in the environment take precedence. A missing default
// file is not an error.
func loadEnv(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if path == defaultEnvFile && errors.Is(err, os.ErrNotExist) {
			logging.Debugf(ctx, "no %s file, using the process environment", path)
			return nil
		}
		return errors.Annotate(err, "failed to load env file %s", path)
	}
	return nil
}

func parseConfig(path string) (*pipeline.Config, error) {
	if path == "" {
		return pipeline.DefaultConfig(), nil
	}
	var c pipeline.Config
	if err := message.ReadTOML(path, &c); err != nil {
		return nil, errors.Annotate(err, "failed to read config")
	}
	return &c, nil
}

func newSink(flags *Flags, c *pipeline.Config) (pipeline.Sink, error) {
	if flags.Dump != "" {
		return &pipeline.DirSink{Dir: flags.Dump}, nil
	}
	dbc, err := db.ConfigFromEnv()
	if err != nil {
		return nil, errors.Annotate(err, "failed to configure the database")
	}
	l, err := db.NewLoader(dbc)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create loader")
	}
	l.ProbeFatal = c.ProbeFatal
	if c.Store.MaxParams != nil {
		l.MaxParams = *c.Store.MaxParams
	}
	return l, nil
}

func printSummary(o *pipeline.Outcome, w io.Writer) error {
	t := wdi.SummaryTable(wdi.Summarize(o.Series.Rows))
	if err := t.WriteText(w, table.Params{}); err != nil {
		return errors.Annotate(err, "failed to print summary")
	}
	return nil
}

// run executes the pipeline. The error is only for failures to set up the run;
// an aborted run is reported in the Outcome.
func run(ctx context.Context, flags *Flags, w io.Writer) (*pipeline.Outcome, error) {
	if err := loadEnv(ctx, flags.EnvFile); err != nil {
		return nil, err
	}
	c, err := parseConfig(flags.Config)
	if err != nil {
		return nil, err
	}
	indicators, err := wdi.LoadCatalog(c.Indicators)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load indicator catalog")
	}
	sink, err := newSink(flags, c)
	if err != nil {
		return nil, err
	}
	m := metrics.NewCollector()
	ctx = metrics.Use(ctx, m)
	ctx = wb.UseClient(ctx, c.BaseURL, nil)

	p := &pipeline.Pipeline{
		Config:     c,
		Indicators: indicators,
		Source:     &pipeline.APISource{PerPage: c.CollectionPageSize},
		Sink:       sink,
	}
	o := p.Run(ctx)
	for _, line := range o.Lines {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, o.String())

	if c.Push != nil {
		if err := m.Push(ctx, c.Push.URL, c.Push.Job); err != nil {
			logging.Warningf(ctx, "%s", err.Error())
		}
	}
	if flags.Summary && o.State == pipeline.Completed {
		if err := printSummary(o, w); err != nil {
			return o, err
		}
	}
	return o, nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	o, err := run(ctx, flags, os.Stdout)
	if err != nil {
		logging.Errorf(ctx, "%s", err.Error())
		os.Exit(1)
	}
	if o.State != pipeline.Completed {
		os.Exit(2)
	}
}
