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

package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stockparfait/errors"
)

// Value of a table cell: nil (NULL), string, int64 or float64.
type Value = interface{}

// ColumnType is the type of the values in a column. Any column may contain
// NULLs.
type ColumnType string

// Supported column types.
const (
	Text    ColumnType = "text"
	Integer ColumnType = "integer"
	Float   ColumnType = "float"
)

// Column definition.
type Column struct {
	Name string
	Type ColumnType
}

// Row interface that a table row representation must implement.
type Row interface {
	Values() []Value // in the order of the table columns
}

// Tuple is a generic Row.
type Tuple []Value

var _ Row = Tuple{}

// Values implements Row.
func (t Tuple) Values() []Value { return t }

// Table container.
//
// A typical use:
//   type MyRow struct {
//     Name string
//     Age int
//   }
//
//   func (r MyRow) Values() []table.Value {
//     return []table.Value{r.Name, int64(r.Age)}
//   }
//   t := NewTable("people", Column{"name", Text}, Column{"age", Integer})
//   t.AddRow(MyRow{"John", 25}, MyRow{"Jane", 24})
//
// A Table is not modified after it's been produced; consumers only read it.
type Table struct {
	Name    string // destination table name
	Columns []Column
	Rows    []Row
}

// NewTable creates a new Table instance with the given columns.
func NewTable(name string, columns ...Column) *Table {
	return &Table{Name: name, Columns: columns}
}

// AddRow adds one or more rows to the table.
func (t *Table) AddRow(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Len is the number of rows. Valid for nil.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Header is the list of column names.
func (t *Table) Header() []string {
	h := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		h[i] = c.Name
	}
	return h
}

func checkType(v Value, tp ColumnType) bool {
	if v == nil {
		return true
	}
	switch tp {
	case Text:
		_, ok := v.(string)
		return ok
	case Integer:
		_, ok := v.(int64)
		return ok
	case Float:
		_, ok := v.(float64)
		return ok
	}
	return false
}

// Validate checks that every row has a value of the right type for every
// column.
func (t *Table) Validate() error {
	if t.Name == "" {
		return errors.Reason("table has no name")
	}
	if len(t.Columns) == 0 {
		return errors.Reason("table %s has no columns", t.Name)
	}
	for i, r := range t.Rows {
		vs := r.Values()
		if len(vs) != len(t.Columns) {
			return errors.Reason("table %s, row %d: expected %d values, got %d",
				t.Name, i, len(t.Columns), len(vs))
		}
		for j, v := range vs {
			if !checkType(v, t.Columns[j].Type) {
				return errors.Reason("table %s, row %d: column %s expects %s, got %T",
					t.Name, i, t.Columns[j].Name, t.Columns[j].Type, v)
			}
		}
	}
	return nil
}

// FormatValue converts a cell value to its CSV representation; NULL is an
// empty string.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// CSV is an encoding/csv compatible row representation.
func CSV(r Row) []string {
	vs := r.Values()
	res := make([]string, len(vs))
	for i, v := range vs {
		res[i] = FormatValue(v)
	}
	return res
}

// Params are parameters for pretty-printing or CSV export of Table data.
type Params struct {
	Rows        int  // max. number of rows to write; 0 = unlimited (default)
	NoHeader    bool // whether to print the header, default - yes
	MaxColWidth int  // for WriteText only; 0 = unlimited, otherwise must be >= 4
}

// WriteCSV writes the entire table to w in CSV format.
func (t *Table) WriteCSV(w io.Writer, p Params) error {
	cw := csv.NewWriter(w)
	if !p.NoHeader && len(t.Columns) > 0 {
		if err := cw.Write(t.Header()); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
	}
	for i, r := range t.Rows {
		if p.Rows > 0 && i >= p.Rows {
			break
		}
		if err := cw.Write(CSV(r)); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to flush written rows")
	}
	return nil
}

// WriteText writes the table as a text formatted for ease of reading.
func (t *Table) WriteText(w io.Writer, p Params) error {
	if p.MaxColWidth != 0 && p.MaxColWidth < 4 {
		return errors.Reason("MaxColWidth [%d] must be 0 or >= 4", p.MaxColWidth)
	}
	var widths []int
	update := func(row []string) error {
		if len(row) == 0 {
			return errors.Reason("row size = 0")
		}
		if len(widths) == 0 {
			widths = make([]int, len(row))
		}
		if len(row) != len(widths) {
			return errors.Reason("row size [%d] != expected size [%d]",
				len(row), len(widths))
		}
		for i := range widths {
			if n := len([]rune(row[i])); widths[i] < n {
				widths[i] = n
				if p.MaxColWidth > 0 && widths[i] > p.MaxColWidth {
					widths[i] = p.MaxColWidth
				}
			}
		}
		return nil
	}

	write := func(row []string) error {
		trimmed := make([]string, len(row))
		for i, s := range row {
			trimmed[i] = s
			if len([]rune(s)) > widths[i] {
				r := []rune(s)[:widths[i]-2]
				trimmed[i] = string(r) + ".."
			}
			trimmed[i] = fmt.Sprintf("%[2]*[1]s", trimmed[i], widths[i])
		}
		_, err := fmt.Fprintf(w, "%s\n", strings.Join(trimmed, " | "))
		return err
	}

	dashedRow := func() []string {
		row := make([]string, len(widths))
		for i, w := range widths {
			row[i] = strings.Repeat("-", w)
		}
		return row
	}

	showHeader := !p.NoHeader && len(t.Columns) > 0
	if showHeader {
		if err := update(t.Header()); err != nil {
			return errors.Annotate(err, "failed to update header widths")
		}
	}
	for i, r := range t.Rows {
		if p.Rows > 0 && i >= p.Rows {
			break
		}
		if err := update(CSV(r)); err != nil {
			return errors.Annotate(err, "failed to update row widths")
		}
	}

	if showHeader {
		if err := write(t.Header()); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
		if err := write(dashedRow()); err != nil {
			return errors.Annotate(err, "failed to write header separator")
		}
	}
	for i, r := range t.Rows {
		if p.Rows > 0 && i >= p.Rows {
			break
		}
		if err := write(CSV(r)); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	return nil
}
