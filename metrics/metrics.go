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

// Package metrics collects run statistics of the ETL job in a private
// Prometheus registry. Since the job is a short-lived batch, the metrics are
// pushed to a Pushgateway at the end of the run rather than scraped.
//
// The Collector is injected into the context, similar to the API client. All
// the methods are safe to call on a nil *Collector, so the instrumented code
// does not need to check whether metrics are enabled.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/stockparfait/errors"
)

type contextKey int

const (
	collectorContextKey contextKey = iota
)

// Collector holds all the metrics of a single pipeline run.
type Collector struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec // by resource and HTTP status
	rows          *prometheus.GaugeVec   // by table
	stageDuration *prometheus.GaugeVec   // seconds, by stage
	stageSuccess  *prometheus.GaugeVec   // 1 = succeeded, 0 = failed
	lastSuccess   prometheus.Gauge       // unix time of the last completed run
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wb_etl_api_requests_total",
			Help: "World Bank API requests by resource and HTTP status",
		}, []string{"resource", "code"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wb_etl_table_rows",
			Help: "Number of rows produced for each destination table",
		}, []string{"table"}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wb_etl_stage_duration_seconds",
			Help: "Wall time of each pipeline stage",
		}, []string{"stage"}),
		stageSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wb_etl_stage_success",
			Help: "1 if the stage succeeded, 0 if it aborted the run",
		}, []string{"stage"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wb_etl_last_success_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
	}
	c.registry.MustRegister(
		c.requests, c.rows, c.stageDuration, c.stageSuccess, c.lastSuccess)
	return c
}

// Use injects the collector into the context.
func Use(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorContextKey, c)
}

// Get extracts the Collector from the context. It returns nil if there is
// none, which is still a valid receiver for all the methods.
func Get(ctx context.Context) *Collector {
	c, ok := ctx.Value(collectorContextKey).(*Collector)
	if !ok {
		return nil
	}
	return c
}

// Registry exposes the underlying registry, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// APIRequest counts one API request.
func (c *Collector) APIRequest(resource string, status int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(resource, strconv.Itoa(status)).Inc()
}

// Rows records the size of a produced table.
func (c *Collector) Rows(table string, n int) {
	if c == nil {
		return
	}
	c.rows.WithLabelValues(table).Set(float64(n))
}

// Stage records the duration and the result of a pipeline stage.
func (c *Collector) Stage(stage string, d time.Duration, ok bool) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Set(d.Seconds())
	v := 0.0
	if ok {
		v = 1.0
	}
	c.stageSuccess.WithLabelValues(stage).Set(v)
}

// Completed marks the run as successfully completed at time t.
func (c *Collector) Completed(t time.Time) {
	if c == nil {
		return
	}
	c.lastSuccess.Set(float64(t.Unix()))
}

// Push sends all the collected metrics to the Pushgateway at url under the
// given job name, replacing the previous metrics of the job.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if c == nil {
		return errors.Reason("no metrics collector")
	}
	if err := push.New(url, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return errors.Annotate(err, "failed to push metrics to %s", url)
	}
	return nil
}
