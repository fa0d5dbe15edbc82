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

package wdi

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stockparfait/worldbank/table"
	"github.com/stockparfait/worldbank/wb"
)

// Destination table names.
const (
	CountriesTable  = "countries"
	IndicatorsTable = "indicators"
	DataTable       = "data"
)

// AggregatesRegion is the region value of the pseudo-countries such as "World"
// or "Euro area".
const AggregatesRegion = "Aggregates"

// MalformedRecordError is a record which doesn't have the expected shape.
type MalformedRecordError struct {
	Entity string // "country", "indicator" or "observation"
	Index  int    // position of the record in the input
	Field  string // dotted path, e.g. "region.value"
	Reason string
}

var _ error = &MalformedRecordError{}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record #%d: %s %s", e.Entity, e.Index, e.Field, e.Reason)
}

// recordReader extracts typed fields from a record, remembering the first
// error. Subsequent calls after an error are no-ops.
type recordReader struct {
	entity string
	index  int
	rec    wb.Record
	err    *MalformedRecordError
}

func newReader(entity string, index int, rec wb.Record) *recordReader {
	return &recordReader{entity: entity, index: index, rec: rec}
}

func (r *recordReader) fail(field, format string, args ...interface{}) {
	if r.err == nil {
		r.err = &MalformedRecordError{
			Entity: r.entity,
			Index:  r.index,
			Field:  field,
			Reason: fmt.Sprintf(format, args...),
		}
	}
}

// Err returns the first error, or nil.
func (r *recordReader) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

func lookup(m map[string]wb.Value, path []string) (wb.Value, bool, string) {
	var v wb.Value = m
	for i, key := range path {
		obj, ok := v.(map[string]interface{})
		if !ok {
			if v == nil {
				return nil, false, "is missing"
			}
			return nil, false, fmt.Sprintf("expected an object at %s but found %T",
				strings.Join(path[:i], "."), v)
		}
		v, ok = obj[key]
		if !ok {
			return nil, false, "is missing"
		}
	}
	return v, true, ""
}

// String is a required string field at the dotted path.
func (r *recordReader) String(field string) string {
	if r.err != nil {
		return ""
	}
	v, ok, reason := lookup(r.rec, strings.Split(field, "."))
	if !ok {
		r.fail(field, "%s", reason)
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "expected a string but found %T: %v", v, v)
		return ""
	}
	return s
}

// NullString is an optional string field. The field itself may be absent or
// null; when the path goes through a sub-object, the sub-object may be absent
// or null, but if present, it must have the field.
func (r *recordReader) NullString(field string) sql.NullString {
	if r.err != nil {
		return sql.NullString{}
	}
	path := strings.Split(field, ".")
	if len(path) > 1 {
		if parent, ok, _ := lookup(r.rec, path[:len(path)-1]); !ok || parent == nil {
			return sql.NullString{}
		}
		if _, ok, reason := lookup(r.rec, path); !ok {
			r.fail(field, "%s", reason)
			return sql.NullString{}
		}
	}
	v, ok, _ := lookup(r.rec, path)
	if !ok || v == nil {
		return sql.NullString{}
	}
	s, ok := v.(string)
	if !ok {
		r.fail(field, "expected a string but found %T: %v", v, v)
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Year is a required integer field, possibly encoded as a string.
func (r *recordReader) Year(field string) int {
	if r.err != nil {
		return 0
	}
	v, ok, reason := lookup(r.rec, strings.Split(field, "."))
	if !ok {
		r.fail(field, "%s", reason)
		return 0
	}
	switch x := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			r.fail(field, "is not an integer: %q", x)
			return 0
		}
		return n
	case float64: // JSON numbers always unmarshal to float64
		if x != math.Trunc(x) {
			r.fail(field, "is not an integer: %v", x)
			return 0
		}
		return int(x)
	}
	r.fail(field, "expected an integer but found %T: %v", v, v)
	return 0
}

// NullFloat is a required but nullable number field.
func (r *recordReader) NullFloat(field string) sql.NullFloat64 {
	if r.err != nil {
		return sql.NullFloat64{}
	}
	v, ok, reason := lookup(r.rec, strings.Split(field, "."))
	if !ok {
		r.fail(field, "%s", reason)
		return sql.NullFloat64{}
	}
	if v == nil {
		return sql.NullFloat64{}
	}
	x, ok := v.(float64)
	if !ok {
		r.fail(field, "expected a number but found %T: %v", v, v)
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: x, Valid: true}
}

func nullStr(s sql.NullString) table.Value {
	if !s.Valid {
		return nil
	}
	return s.String
}

func nullFloat(f sql.NullFloat64) table.Value {
	if !f.Valid {
		return nil
	}
	return f.Float64
}

// Country is a row in the countries table. It is comparable, so exact
// duplicates can be detected with a map.
type Country struct {
	ID               string // e.g. "CAN"
	ISO2Code         string // e.g. "CA"
	Name             string
	CapitalCity      string // empty for aggregates
	RegionID         string // e.g. "NAC"
	RegionValue      string // e.g. "North America", or "Aggregates"
	IncomeLevelValue sql.NullString
	LendingTypeValue sql.NullString
}

var _ table.Row = Country{}

// CountryColumns of the countries table.
var CountryColumns = []table.Column{
	{Name: "id_cnt", Type: table.Text},
	{Name: "iso2_code", Type: table.Text},
	{Name: "name", Type: table.Text},
	{Name: "capital_city", Type: table.Text},
	{Name: "region_id", Type: table.Text},
	{Name: "region_value", Type: table.Text},
	{Name: "income_level_value", Type: table.Text},
	{Name: "lending_type_value", Type: table.Text},
}

// Values implements table.Row.
func (c Country) Values() []table.Value {
	return []table.Value{
		c.ID,
		c.ISO2Code,
		c.Name,
		c.CapitalCity,
		c.RegionID,
		c.RegionValue,
		nullStr(c.IncomeLevelValue),
		nullStr(c.LendingTypeValue),
	}
}

// IsAggregate checks whether the row is a regional or income group aggregate
// rather than an actual economy.
func (c Country) IsAggregate() bool {
	return c.RegionValue == AggregatesRegion
}

// ParseCountry extracts a Country from a raw record. The index is only used in
// the error message.
func ParseCountry(index int, rec wb.Record) (Country, error) {
	r := newReader("country", index, rec)
	c := Country{
		ID:               r.String("id"),
		ISO2Code:         r.String("iso2Code"),
		Name:             r.String("name"),
		CapitalCity:      r.String("capitalCity"),
		RegionID:         r.String("region.id"),
		RegionValue:      r.String("region.value"),
		IncomeLevelValue: r.NullString("incomeLevel.value"),
		LendingTypeValue: r.NullString("lendingType.value"),
	}
	// adminregion contributes no column, but its shape is still checked.
	r.NullString("adminregion.value")
	return c, r.Err()
}

// NormalizeCountries converts raw country records into rows, excluding
// aggregates and exact duplicates. The order of the first occurrences is
// preserved.
func NormalizeCountries(records []wb.Record) ([]Country, error) {
	seen := make(map[Country]struct{})
	var res []Country
	for i, rec := range records {
		c, err := ParseCountry(i, rec)
		if err != nil {
			return nil, err
		}
		if c.IsAggregate() {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		res = append(res, c)
	}
	return res, nil
}

// CountryTable creates the countries table.
func CountryTable(countries []Country) *table.Table {
	t := table.NewTable(CountriesTable, CountryColumns...)
	for _, c := range countries {
		t.AddRow(c)
	}
	return t
}

// Indicator is a row in the indicators table.
type Indicator struct {
	ID         string // e.g. "NY.GDP.MKTP.CD"
	Name       string
	Source     string // e.g. "World Development Indicators"
	SourceNote sql.NullString
}

var _ table.Row = Indicator{}

// IndicatorColumns of the indicators table.
var IndicatorColumns = []table.Column{
	{Name: "id_ind", Type: table.Text},
	{Name: "name", Type: table.Text},
	{Name: "source", Type: table.Text},
	{Name: "source_note", Type: table.Text},
}

// Values implements table.Row.
func (ind Indicator) Values() []table.Value {
	return []table.Value{ind.ID, ind.Name, ind.Source, nullStr(ind.SourceNote)}
}

// ParseIndicator extracts an Indicator from a raw record.
func ParseIndicator(index int, rec wb.Record) (Indicator, error) {
	r := newReader("indicator", index, rec)
	ind := Indicator{
		ID:         r.String("id"),
		Name:       r.String("name"),
		Source:     r.String("source.value"),
		SourceNote: r.NullString("sourceNote"),
	}
	return ind, r.Err()
}

// NormalizeIndicators converts raw indicator records into rows, in the same
// order.
func NormalizeIndicators(records []wb.Record) ([]Indicator, error) {
	res := make([]Indicator, 0, len(records))
	for i, rec := range records {
		ind, err := ParseIndicator(i, rec)
		if err != nil {
			return nil, err
		}
		res = append(res, ind)
	}
	return res, nil
}

// IndicatorTable creates the indicators table.
func IndicatorTable(indicators []Indicator) *table.Table {
	t := table.NewTable(IndicatorsTable, IndicatorColumns...)
	for _, ind := range indicators {
		t.AddRow(ind)
	}
	return t
}

// Observation is a row in the data table: the value of an indicator for a
// country in a year.
type Observation struct {
	Country       string // display name
	ISO3Code      string
	Indicator     string // display name
	IndicatorCode string
	Year          int
	Value         sql.NullFloat64 // null for unreported periods
}

var _ table.Row = Observation{}

// ObservationColumns of the data table.
var ObservationColumns = []table.Column{
	{Name: "country", Type: table.Text},
	{Name: "iso3_code", Type: table.Text},
	{Name: "indicator", Type: table.Text},
	{Name: "indicator_code", Type: table.Text},
	{Name: "year", Type: table.Integer},
	{Name: "value", Type: table.Float},
}

// Values implements table.Row.
func (o Observation) Values() []table.Value {
	return []table.Value{
		o.Country,
		o.ISO3Code,
		o.Indicator,
		o.IndicatorCode,
		int64(o.Year),
		nullFloat(o.Value),
	}
}

// ParseObservation extracts an Observation from a raw series record.
func ParseObservation(index int, rec wb.Record) (Observation, error) {
	r := newReader("observation", index, rec)
	o := Observation{
		Country:       r.String("country.value"),
		ISO3Code:      r.String("countryiso3code"),
		Indicator:     r.String("indicator.value"),
		IndicatorCode: r.String("indicator.id"),
		Year:          r.Year("date"),
		Value:         r.NullFloat("value"),
	}
	return o, r.Err()
}

// ObservationTable creates the data table.
func ObservationTable(rows []Observation) *table.Table {
	t := table.NewTable(DataTable, ObservationColumns...)
	for _, o := range rows {
		t.AddRow(o)
	}
	return t
}
