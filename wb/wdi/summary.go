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
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/stockparfait/worldbank/table"
)

// Summary of the observations of a single indicator.
type Summary struct {
	IndicatorCode string
	Indicator     string
	Count         int // total number of observations
	Nulls         int // observations without a value
	Min           float64
	Max           float64
	Mean          float64
}

var _ table.Row = Summary{}

// SummaryColumns for the summary table.
var SummaryColumns = []table.Column{
	{Name: "indicator_code", Type: table.Text},
	{Name: "indicator", Type: table.Text},
	{Name: "count", Type: table.Integer},
	{Name: "nulls", Type: table.Integer},
	{Name: "min", Type: table.Float},
	{Name: "max", Type: table.Float},
	{Name: "mean", Type: table.Float},
}

// Values implements table.Row. Statistics are NULL when there are no values.
func (s Summary) Values() []table.Value {
	v := []table.Value{s.IndicatorCode, s.Indicator, int64(s.Count), int64(s.Nulls),
		nil, nil, nil}
	if s.Count > s.Nulls {
		v[4], v[5], v[6] = s.Min, s.Max, s.Mean
	}
	return v
}

// Summarize the observations per indicator, in the order of the first
// appearance of each indicator.
func Summarize(rows []Observation) []Summary {
	var res []Summary
	values := make(map[string][]float64)
	index := make(map[string]int)
	for _, o := range rows {
		i, ok := index[o.IndicatorCode]
		if !ok {
			i = len(res)
			index[o.IndicatorCode] = i
			res = append(res, Summary{IndicatorCode: o.IndicatorCode, Indicator: o.Indicator})
		}
		res[i].Count++
		if !o.Value.Valid {
			res[i].Nulls++
			continue
		}
		values[o.IndicatorCode] = append(values[o.IndicatorCode], o.Value.Float64)
	}
	for i := range res {
		xs := values[res[i].IndicatorCode]
		if len(xs) == 0 {
			continue
		}
		res[i].Min = floats.Min(xs)
		res[i].Max = floats.Max(xs)
		res[i].Mean = stat.Mean(xs, nil)
	}
	return res
}

// SummaryTable creates a table for printing the summaries.
func SummaryTable(summaries []Summary) *table.Table {
	t := table.NewTable("summary", SummaryColumns...)
	for _, s := range summaries {
		t.AddRow(s)
	}
	return t
}
