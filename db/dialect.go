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
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/stockparfait/errors"
	"github.com/stockparfait/worldbank/table"
)

// dialect is the SQL flavor of the store.
type dialect interface {
	Quote(name string) string
	Placeholder(n int) string // n starts from 1
	ColumnType(t table.ColumnType) (string, error)
}

type postgresDialect struct{}

var _ dialect = postgresDialect{}

func (postgresDialect) Quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (postgresDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (postgresDialect) ColumnType(t table.ColumnType) (string, error) {
	switch t {
	case table.Text:
		return "TEXT", nil
	case table.Integer:
		return "BIGINT", nil
	case table.Float:
		return "DOUBLE PRECISION", nil
	}
	return "", errors.Reason("unsupported column type: %s", t)
}

type mysqlDialect struct{}

var _ dialect = mysqlDialect{}

func (mysqlDialect) Quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) Placeholder(int) string {
	return "?"
}

func (mysqlDialect) ColumnType(t table.ColumnType) (string, error) {
	switch t {
	case table.Text:
		return "TEXT", nil
	case table.Integer:
		return "BIGINT", nil
	case table.Float:
		return "DOUBLE", nil
	}
	return "", errors.Reason("unsupported column type: %s", t)
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case Postgres:
		return postgresDialect{}, nil
	case MySQL:
		return mysqlDialect{}, nil
	}
	return nil, errors.Reason("unsupported driver: %q", driver)
}

// Statement is a single SQL statement with its arguments.
type Statement struct {
	SQL  string
	Args []interface{}
}

func (s Statement) String() string {
	return fmt.Sprintf("%s [%d args]", s.SQL, len(s.Args))
}

// replaceStatements generates the statements replacing the entire content of
// the table: drop, create and insert in batches of at most maxParams bound
// parameters each.
func replaceStatements(d dialect, t *table.Table, maxParams int) ([]Statement, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	name := d.Quote(t.Name)
	cols := make([]string, len(t.Columns))
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		tp, err := d.ColumnType(c.Type)
		if err != nil {
			return nil, errors.Annotate(err, "column %s", c.Name)
		}
		cols[i] = d.Quote(c.Name)
		defs[i] = cols[i] + " " + tp
	}
	res := []Statement{
		{SQL: "DROP TABLE IF EXISTS " + name},
		{SQL: fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))},
	}
	batch := maxParams / len(cols)
	if batch < 1 {
		batch = 1
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", name, strings.Join(cols, ", "))
	for start := 0; start < len(t.Rows); start += batch {
		end := start + batch
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		var b strings.Builder
		b.WriteString(prefix)
		args := make([]interface{}, 0, (end-start)*len(cols))
		for i, r := range t.Rows[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j, v := range r.Values() {
				if j > 0 {
					b.WriteString(", ")
				}
				args = append(args, v)
				b.WriteString(d.Placeholder(len(args)))
			}
			b.WriteString(")")
		}
		res = append(res, Statement{SQL: b.String(), Args: args})
	}
	return res, nil
}
