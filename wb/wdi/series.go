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
	"context"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/worldbank/wb"
)

// NotFoundPolicy determines what happens when the API reports that an
// indicator is not found.
type NotFoundPolicy string

const (
	// SkipNotFound skips the indicator and continues with the next one.
	SkipNotFound NotFoundPolicy = "skip"
	// StopNotFound stops fetching altogether, keeping the rows fetched so far.
	StopNotFound NotFoundPolicy = "stop"
)

// Defaults for SeriesQuery.
const (
	DefaultLanguage      = "en"
	DefaultSeriesPerPage = 10000
)

// SeriesQuery is the cross-product of indicators and countries over a range of
// years.
type SeriesQuery struct {
	Indicators []string // indicator codes, fetched in this order
	Countries  []string // ISO2 country codes
	StartYear  int
	EndYear    int            // inclusive
	Language   string         // default: "en"
	PerPage    int            // default: DefaultSeriesPerPage
	OnNotFound NotFoundPolicy // default: SkipNotFound
}

func (sq *SeriesQuery) setDefaults() {
	if sq.Language == "" {
		sq.Language = DefaultLanguage
	}
	if sq.PerPage <= 0 {
		sq.PerPage = DefaultSeriesPerPage
	}
	if sq.OnNotFound == "" {
		sq.OnNotFound = SkipNotFound
	}
}

func (sq *SeriesQuery) validate() error {
	if len(sq.Indicators) == 0 {
		return errors.Reason("no indicators to fetch")
	}
	if len(sq.Countries) == 0 {
		return errors.Reason("no countries to fetch")
	}
	if sq.StartYear > sq.EndYear {
		return errors.Reason("start year %d is after end year %d",
			sq.StartYear, sq.EndYear)
	}
	switch sq.OnNotFound {
	case SkipNotFound, StopNotFound:
	default:
		return errors.Reason("unknown not-found policy: %q", sq.OnNotFound)
	}
	return nil
}

// Query for a single indicator. All the countries are requested at once,
// separated by ';'.
func (sq *SeriesQuery) Query(indicator string) *wb.Query {
	return wb.NewQuery("series", sq.Language, "country",
		strings.Join(sq.Countries, ";"), "indicator", indicator).
		Years(sq.StartYear, sq.EndYear).
		PerPage(sq.PerPage)
}

// SeriesResult is the outcome of FetchSeries.
type SeriesResult struct {
	Rows     []Observation
	Skipped  []string // indicators not found and skipped
	Stopped  string   // the indicator not found which stopped fetching, if any
	Requests int      // number of API requests made
}

// Empty checks whether there are no observations. Valid for nil.
func (r *SeriesResult) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// fetchIndicator appends the indicator's observations to res. The returned
// bool is true when the indicator was not found, in which case none of its
// rows are kept. An in-band API message also leaves no rows for the indicator.
func fetchIndicator(ctx context.Context, code string, q *wb.Query, res *SeriesResult) (bool, error) {
	before := len(res.Rows)
	it := q.Read(ctx)
	for {
		page, ok, err := it.Next()
		if err != nil {
			res.Requests++
			switch {
			case wb.IsNotFound(err):
				res.Rows = res.Rows[:before]
				return true, nil
			case wb.IsMessage(err):
				res.Rows = res.Rows[:before]
				logging.Warningf(ctx, "indicator %s: no data: %s", code, err.Error())
				return false, nil
			}
			return false, err
		}
		if !ok {
			return false, nil
		}
		res.Requests++
		if !page.HasRecords {
			continue
		}
		for _, rec := range page.Records {
			o, err := ParseObservation(len(res.Rows), rec)
			if err != nil {
				return false, err
			}
			res.Rows = append(res.Rows, o)
		}
	}
}

// FetchSeries downloads the observations for all the indicators, one request
// per indicator (more, if the result spans several pages), strictly in the
// input order. A "not found" response is handled according to the policy and
// reported in the result. Any other failure fails the entire fetch, and no
// rows are returned.
func FetchSeries(ctx context.Context, sq SeriesQuery) (*SeriesResult, error) {
	sq.setDefaults()
	if err := sq.validate(); err != nil {
		return nil, errors.Annotate(err, "invalid series query")
	}
	res := &SeriesResult{}
	for _, code := range sq.Indicators {
		before := len(res.Rows)
		notFound, err := fetchIndicator(ctx, code, sq.Query(code), res)
		if err != nil {
			logging.Errorf(ctx, "failed to fetch indicator %s: %s", code, err.Error())
			return nil, err
		}
		if notFound {
			if sq.OnNotFound == StopNotFound {
				logging.Warningf(ctx, "indicator %s not found, stopping", code)
				res.Stopped = code
				break
			}
			logging.Warningf(ctx, "indicator %s not found, skipping", code)
			res.Skipped = append(res.Skipped, code)
			continue
		}
		logging.Infof(ctx, "indicator %s: %d observations", code, len(res.Rows)-before)
	}
	return res, nil
}
