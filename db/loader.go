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

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/worldbank/metrics"
	"github.com/stockparfait/worldbank/table"
)

// MaxParams is the default maximum number of bound parameters in a single
// INSERT statement. Postgres allows at most 65535.
const MaxParams = 60000

// ConnectionError means the store is unreachable.
type ConnectionError struct {
	Addr string
	Err  error
}

var _ error = &ConnectionError{}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %s", e.Addr, e.Err.Error())
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// LoadError lists the tables which failed to load. The other tables have been
// replaced successfully.
type LoadError struct {
	Tables []string
	Errs   []error // in the same order as Tables
}

var _ error = &LoadError{}

func (e *LoadError) Error() string {
	strs := make([]string, len(e.Tables))
	for i, t := range e.Tables {
		strs[i] = fmt.Sprintf("%s: %s", t, e.Errs[i].Error())
	}
	return "failed to load tables: " + strings.Join(strs, "; ")
}

// Loader replaces entire tables in the store.
type Loader struct {
	Config     *Config
	ProbeFatal bool // whether a failed connectivity probe aborts the load
	MaxParams  int  // per INSERT statement; default: MaxParams
	dialect    dialect
	open       func(driver, dsn string) (*sql.DB, error)
}

// NewLoader creates a new Loader for the store. The connectivity probe is
// fatal by default.
func NewLoader(c *Config) (*Loader, error) {
	d, err := dialectFor(c.Driver)
	if err != nil {
		return nil, err
	}
	return &Loader{
		Config:     c,
		ProbeFatal: true,
		MaxParams:  MaxParams,
		dialect:    d,
		open:       sql.Open,
	}, nil
}

// Statements that Load executes for the table, in order.
func (l *Loader) Statements(t *table.Table) ([]Statement, error) {
	return replaceStatements(l.dialect, t, l.MaxParams)
}

func (l *Loader) loadTable(ctx context.Context, conn *sql.DB, t *table.Table) error {
	stmts, err := l.Statements(t)
	if err != nil {
		return errors.Annotate(err, "failed to generate statements")
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "failed to begin transaction")
	}
	for _, s := range stmts {
		logging.Debugf(ctx, "%s", s.String())
		if _, err := tx.ExecContext(ctx, s.SQL, s.Args...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Warningf(ctx, "rollback failed for %s: %s", t.Name, rbErr.Error())
			}
			return errors.Annotate(err, "failed to execute %s", s.String())
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Annotate(err, "failed to commit")
	}
	return nil
}

// Load replaces the tables in the store, each in its own transaction. All the
// tables are attempted; the failed ones are reported as *LoadError. A store
// which cannot be reached yields *ConnectionError, unless ProbeFatal is false,
// in which case the probe failure is only logged.
//
// Note, that MySQL commits DDL statements implicitly, so a failed table may
// remain empty there.
func (l *Loader) Load(ctx context.Context, tables ...*table.Table) error {
	conn, err := l.open(l.Config.DriverName(), l.Config.DSN())
	if err != nil {
		return &ConnectionError{Addr: l.Config.Addr(), Err: err}
	}
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		if l.ProbeFatal {
			return &ConnectionError{Addr: l.Config.Addr(), Err: err}
		}
		logging.Warningf(ctx, "connectivity probe for %s failed, loading anyway: %s",
			l.Config.String(), err.Error())
	} else {
		logging.Infof(ctx, "connected to %s", l.Config.String())
	}

	var lerr LoadError
	for _, t := range tables {
		if err := l.loadTable(ctx, conn, t); err != nil {
			logging.Errorf(ctx, "failed to load table %s: %s", t.Name, err.Error())
			lerr.Tables = append(lerr.Tables, t.Name)
			lerr.Errs = append(lerr.Errs, err)
			continue
		}
		metrics.Get(ctx).Rows(t.Name, t.Len())
		logging.Infof(ctx, "replaced table %s with %d rows", t.Name, t.Len())
	}
	if len(lerr.Tables) > 0 {
		return &lerr
	}
	return nil
}
