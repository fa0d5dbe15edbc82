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

// Package pipeline runs the World Bank indicators ETL job: it extracts the
// reference collections, normalizes them, fetches the observations and loads
// the resulting tables into the store.
//
// The stages run strictly sequentially, and the run stops at the first failed
// stage. The result is always an Outcome value, never a panic.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/iterator"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/worldbank/metrics"
	"github.com/stockparfait/worldbank/table"
	"github.com/stockparfait/worldbank/wb"
	"github.com/stockparfait/worldbank/wb/wdi"
	"golang.org/x/exp/slices"
)

// Stage of the pipeline.
type Stage string

// Pipeline stages, in the order of execution.
const (
	Extract     Stage = "Extract"
	Clean       Stage = "Clean"
	ListBuild   Stage = "ListBuild"
	SeriesFetch Stage = "SeriesFetch"
	Load        Stage = "Load"
)

// Stages in the order of execution.
var Stages = []Stage{Extract, Clean, ListBuild, SeriesFetch, Load}

// State is the terminal state of a run.
type State string

// Terminal states.
const (
	Completed State = "Completed"
	Aborted   State = "Aborted"
)

// Outcome of a pipeline run.
type Outcome struct {
	State State
	Stage Stage    // the stage which aborted the run; empty when completed
	Cause error    // the reason of the abort
	Lines []string // one status line per executed stage
	// Produced data, as far as the run got.
	Countries  []wdi.Country
	Indicators []wdi.Indicator
	Series     *wdi.SeriesResult
}

func (o *Outcome) String() string {
	if o.State == Completed {
		return string(Completed)
	}
	return fmt.Sprintf("%s(%s, %s)", Aborted, o.Stage, o.Cause)
}

// Tables produced by the run so far. The data table is nil if the series
// haven't been fetched.
func (o *Outcome) Tables() []*table.Table {
	tables := []*table.Table{
		wdi.CountryTable(o.Countries),
		wdi.IndicatorTable(o.Indicators),
	}
	if o.Series != nil {
		tables = append(tables, wdi.ObservationTable(o.Series.Rows))
	}
	return tables
}

// EmptyResultError is a stage which produced no data for the next stage.
type EmptyResultError struct {
	What string
}

var _ error = &EmptyResultError{}

func (e *EmptyResultError) Error() string {
	return "empty result: " + e.What
}

// Source of the raw data.
type Source interface {
	FetchCollection(ctx context.Context, r wb.Resource) (*wb.Collection, error)
	FetchSeries(ctx context.Context, sq wdi.SeriesQuery) (*wdi.SeriesResult, error)
}

// Sink receives the final tables.
type Sink interface {
	Load(ctx context.Context, tables ...*table.Table) error
}

// APISource fetches the data from the World Bank API, using the client in the
// context.
type APISource struct {
	PerPage int // page size for the reference collections
}

var _ Source = &APISource{}

// FetchCollection implements Source.
func (s *APISource) FetchCollection(ctx context.Context, r wb.Resource) (*wb.Collection, error) {
	return wb.FetchCollection(ctx, r, s.PerPage)
}

// FetchSeries implements Source.
func (s *APISource) FetchSeries(ctx context.Context, sq wdi.SeriesQuery) (*wdi.SeriesResult, error) {
	return wdi.FetchSeries(ctx, sq)
}

// Pipeline is a single ETL job.
type Pipeline struct {
	Config     *Config
	Indicators []string // indicator codes to fetch the series for
	Source     Source
	Sink       Sink
}

// runState is the data handed from one stage to the next.
type runState struct {
	countryRecords   []wb.Record
	indicatorRecords []wb.Record
	countryCodes     []string
	indicatorCodes   []string
	outcome          *Outcome
}

// stageFunc executes a stage and returns a short summary for its status line.
type stageFunc func(ctx context.Context, s *runState) (string, error)

// runStage executes the stage, converting a panic into an error.
func runStage(ctx context.Context, stage Stage, s *runState, f stageFunc) (err error) {
	start := time.Now()
	var summary string
	defer func() {
		if p := recover(); p != nil {
			err = errors.Reason("panic in %s: %v", stage, p)
		}
		metrics.Get(ctx).Stage(string(stage), time.Since(start), err == nil)
		var line string
		if err != nil {
			line = fmt.Sprintf("%s: failed: %s", stage, err.Error())
			logging.Errorf(ctx, "%s", line)
		} else {
			line = fmt.Sprintf("%s: succeeded: %s", stage, summary)
			logging.Infof(ctx, "%s", line)
		}
		s.outcome.Lines = append(s.outcome.Lines, line)
	}()
	summary, err = f(ctx, s)
	return err
}

func (p *Pipeline) extract(ctx context.Context, s *runState) (string, error) {
	countries, err := p.Source.FetchCollection(ctx, wb.CountryResource)
	if err != nil {
		return "", err
	}
	if countries.Empty() {
		return "", &EmptyResultError{What: "country collection"}
	}
	indicators, err := p.Source.FetchCollection(ctx, wb.IndicatorResource)
	if err != nil {
		return "", err
	}
	if indicators.Empty() {
		return "", &EmptyResultError{What: "indicator collection"}
	}
	s.countryRecords = countries.Records
	s.indicatorRecords = indicators.Records
	return fmt.Sprintf("%d country and %d indicator records",
		len(s.countryRecords), len(s.indicatorRecords)), nil
}

func (p *Pipeline) clean(ctx context.Context, s *runState) (string, error) {
	countries, err := wdi.NormalizeCountries(s.countryRecords)
	if err != nil {
		return "", err
	}
	if len(countries) == 0 {
		return "", &EmptyResultError{What: "no countries left after cleaning"}
	}
	indicators, err := wdi.NormalizeIndicators(s.indicatorRecords)
	if err != nil {
		return "", err
	}
	s.outcome.Countries = countries
	s.outcome.Indicators = indicators
	return fmt.Sprintf("%d countries, %d indicators", len(countries), len(indicators)), nil
}

func (p *Pipeline) listBuild(ctx context.Context, s *runState) (string, error) {
	s.countryCodes = iterator.Reduce[wdi.Country, []string](
		iterator.FromSlice(s.outcome.Countries), nil,
		func(c wdi.Country, codes []string) []string {
			if c.ISO2Code == "" {
				return codes
			}
			return append(codes, c.ISO2Code)
		})
	if len(p.Config.Countries) > 0 {
		for _, code := range p.Config.Countries {
			if !slices.Contains(s.countryCodes, code) {
				logging.Warningf(ctx, "country %s is not in the country collection", code)
			}
		}
		var selected []string
		for _, code := range s.countryCodes {
			if slices.Contains(p.Config.Countries, code) {
				selected = append(selected, code)
			}
		}
		s.countryCodes = selected
	}
	if len(s.countryCodes) == 0 {
		return "", &EmptyResultError{What: "no country codes"}
	}
	if len(p.Indicators) == 0 {
		return "", &EmptyResultError{What: "no indicator codes"}
	}
	known := make(map[string]struct{}, len(s.outcome.Indicators))
	for _, ind := range s.outcome.Indicators {
		known[ind.ID] = struct{}{}
	}
	for _, code := range p.Indicators {
		if _, ok := known[code]; !ok {
			logging.Warningf(ctx, "indicator %s is not in the indicator collection", code)
		}
	}
	s.indicatorCodes = p.Indicators
	return fmt.Sprintf("%d country codes, %d indicator codes",
		len(s.countryCodes), len(s.indicatorCodes)), nil
}

func (p *Pipeline) seriesFetch(ctx context.Context, s *runState) (string, error) {
	res, err := p.Source.FetchSeries(ctx, p.Config.SeriesQuery(s.indicatorCodes, s.countryCodes))
	if err != nil {
		return "", err
	}
	if res.Empty() {
		return "", &EmptyResultError{What: "no observations"}
	}
	s.outcome.Series = res
	summary := fmt.Sprintf("%d observations in %d requests", len(res.Rows), res.Requests)
	if len(res.Skipped) > 0 {
		summary += fmt.Sprintf(", skipped not found: %v", res.Skipped)
	}
	if res.Stopped != "" {
		summary += fmt.Sprintf(", stopped at not found %s", res.Stopped)
	}
	return summary, nil
}

func (p *Pipeline) load(ctx context.Context, s *runState) (string, error) {
	tables := s.outcome.Tables()
	for _, t := range tables {
		t.Name = p.Config.Store.TableName(t.Name)
	}
	if err := p.Sink.Load(ctx, tables...); err != nil {
		return "", err
	}
	summary := ""
	for i, t := range tables {
		if i > 0 {
			summary += ", "
		}
		summary += fmt.Sprintf("%s: %d rows", t.Name, t.Len())
	}
	return summary, nil
}

// Run executes all the stages in order, stopping at the first failure. There
// are no retries; a failed run must be restarted from the beginning.
func (p *Pipeline) Run(ctx context.Context) *Outcome {
	s := &runState{outcome: &Outcome{}}
	stages := []struct {
		stage Stage
		f     stageFunc
	}{
		{Extract, p.extract},
		{Clean, p.clean},
		{ListBuild, p.listBuild},
		{SeriesFetch, p.seriesFetch},
		{Load, p.load},
	}
	for _, st := range stages {
		if err := runStage(ctx, st.stage, s, st.f); err != nil {
			s.outcome.State = Aborted
			s.outcome.Stage = st.stage
			s.outcome.Cause = err
			return s.outcome
		}
	}
	s.outcome.State = Completed
	metrics.Get(ctx).Completed(time.Now())
	return s.outcome
}
