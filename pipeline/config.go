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

package pipeline

import (
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/worldbank/message"
	"github.com/stockparfait/worldbank/wb/wdi"
	"golang.org/x/exp/slices"
)

// PushConfig is the Prometheus Pushgateway to send the run metrics to.
type PushConfig struct {
	URL string `toml:"url" required:"true"`
	Job string `toml:"job" default:"wb_etl"`
}

var _ message.Message = &PushConfig{}

// InitMessage implements message.Message.
func (c *PushConfig) InitMessage(doc interface{}) error {
	if err := message.Init(c, doc); err != nil {
		return errors.Annotate(err, "failed to init PushConfig")
	}
	return nil
}

// StoreConfig holds the store options which are not credentials.
type StoreConfig struct {
	MaxParams *int              `toml:"max_params"` // default: db.MaxParams
	Tables    map[string]string `toml:"tables"`     // destination name by table
}

var _ message.Message = &StoreConfig{}

// InitMessage implements message.Message.
func (c *StoreConfig) InitMessage(doc interface{}) error {
	if err := message.Init(c, doc); err != nil {
		return errors.Annotate(err, "failed to init StoreConfig")
	}
	if c.MaxParams != nil && *c.MaxParams <= 0 {
		return errors.Reason("max_params=%d must be positive", *c.MaxParams)
	}
	tables := []string{wdi.CountriesTable, wdi.IndicatorsTable, wdi.DataTable}
	used := make(map[string]string)
	for name, dest := range c.Tables {
		if !slices.Contains(tables, name) {
			return errors.Reason("unknown table %s, must be one of [%s]",
				name, strings.Join(tables, ", "))
		}
		if dest == "" {
			return errors.Reason("empty destination name for table %s", name)
		}
		used[dest] = name
	}
	for _, name := range tables {
		dest := c.TableName(name)
		if other, ok := used[dest]; ok && other != name {
			return errors.Reason("tables %s and %s are both loaded into %s",
				name, other, dest)
		}
	}
	return nil
}

// TableName is the destination name of the table.
func (c *StoreConfig) TableName(name string) string {
	if dest, ok := c.Tables[name]; ok {
		return dest
	}
	return name
}

// Config of a pipeline run. Store credentials are not part of it; they come
// from the environment.
type Config struct {
	BaseURL            string      `toml:"base_url"` // default: wb.URL
	Language           string      `toml:"language" default:"en"`
	StartYear          int         `toml:"start_year" default:"1985"`
	EndYear            int         `toml:"end_year" default:"2024"`
	CollectionPageSize int         `toml:"collection_page_size" default:"30000"`
	SeriesPageSize     int         `toml:"series_page_size" default:"10000"`
	OnNotFound         string      `toml:"on_not_found" choices:"skip,stop" default:"skip"`
	ProbeFatal         bool        `toml:"probe_fatal" default:"true"`
	Indicators         string      `toml:"indicators"` // catalog file; default: built-in
	Countries          []string    `toml:"countries"`  // ISO2 codes; default: all
	Store              StoreConfig `toml:"store"`
	Push               *PushConfig `toml:"push"` // default: no push
}

var _ message.Message = &Config{}

// InitMessage implements message.Message.
func (c *Config) InitMessage(doc interface{}) error {
	if err := message.Init(c, doc); err != nil {
		return errors.Annotate(err, "failed to init Config")
	}
	if c.StartYear > c.EndYear {
		return errors.Reason("start_year=%d is after end_year=%d", c.StartYear, c.EndYear)
	}
	if c.CollectionPageSize <= 0 || c.SeriesPageSize <= 0 {
		return errors.Reason("page sizes must be positive")
	}
	for _, code := range c.Countries {
		if code == "" {
			return errors.Reason("empty country code")
		}
	}
	return nil
}

// DefaultConfig is the configuration with all the default values.
func DefaultConfig() *Config {
	var c Config
	if err := c.InitMessage(map[string]interface{}{}); err != nil {
		panic(errors.Annotate(err, "default config is invalid"))
	}
	return &c
}

// SeriesQuery for the given indicators and countries.
func (c *Config) SeriesQuery(indicators, countries []string) wdi.SeriesQuery {
	return wdi.SeriesQuery{
		Indicators: indicators,
		Countries:  countries,
		StartYear:  c.StartYear,
		EndYear:    c.EndYear,
		Language:   c.Language,
		PerPage:    c.SeriesPageSize,
		OnNotFound: wdi.NotFoundPolicy(c.OnNotFound),
	}
}
