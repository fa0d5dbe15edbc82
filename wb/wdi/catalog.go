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
	_ "embed"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/stockparfait/errors"
	"golang.org/x/exp/slices"
)

//go:embed indicators.toml
var defaultCatalog []byte

type catalogFile struct {
	Indicators []string `toml:"indicators"`
}

// ParseCatalog decodes a TOML document with the list of indicator codes:
//
//   indicators = ["SP.POP.TOTL", "NY.GDP.MKTP.CD"]
//
// Codes are trimmed, and duplicates are removed keeping the first occurrence.
func ParseCatalog(data []byte) ([]string, error) {
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Annotate(err, "failed to parse indicator catalog")
	}
	var codes []string
	for i, c := range f.Indicators {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, errors.Reason("indicator #%d is empty", i)
		}
		if slices.Contains(codes, c) {
			continue
		}
		codes = append(codes, c)
	}
	if len(codes) == 0 {
		return nil, errors.Reason("indicator catalog is empty")
	}
	return codes, nil
}

// DefaultCatalog is the built-in list of indicator codes.
func DefaultCatalog() []string {
	codes, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(errors.Annotate(err, "built-in indicator catalog is broken"))
	}
	return codes
}

// LoadCatalog reads the indicator codes from the TOML file. Empty path means
// the built-in catalog.
func LoadCatalog(path string) ([]string, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read indicator catalog %s", path)
	}
	codes, err := ParseCatalog(data)
	if err != nil {
		return nil, errors.Annotate(err, "in %s", path)
	}
	return codes, nil
}
