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
	"context"
	"os"
	"path/filepath"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/worldbank/metrics"
	"github.com/stockparfait/worldbank/table"
)

// DirSink writes each table into a CSV file <Dir>/<table name>.csv, replacing
// the previous file.
type DirSink struct {
	Dir string
}

var _ Sink = &DirSink{}

func writeCSV(path string, t *table.Table) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Annotate(err, "failed to open file for writing: '%s'", path)
	}
	if err := t.WriteCSV(f, table.Params{}); err != nil {
		f.Close()
		return errors.Annotate(err, "failed to write to '%s'", path)
	}
	if err := f.Close(); err != nil {
		return errors.Annotate(err, "failed to close '%s'", path)
	}
	return nil
}

// Load implements Sink.
func (s *DirSink) Load(ctx context.Context, tables ...*table.Table) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return errors.Annotate(err, "failed to create directory %s", s.Dir)
	}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
		path := filepath.Join(s.Dir, t.Name+".csv")
		if err := writeCSV(path, t); err != nil {
			return err
		}
		metrics.Get(ctx).Rows(t.Name, t.Len())
		logging.Infof(ctx, "wrote %d rows to %s", t.Len(), path)
	}
	return nil
}
