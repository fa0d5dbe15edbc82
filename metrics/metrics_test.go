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

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	Convey("Collector works", t, func() {
		c := NewCollector()
		ctx := Use(context.Background(), c)
		So(Get(ctx), ShouldEqual, c)

		Convey("counts requests", func() {
			Get(ctx).APIRequest("country", 200)
			Get(ctx).APIRequest("country", 200)
			Get(ctx).APIRequest("series", 404)
			So(testutil.ToFloat64(c.requests.WithLabelValues("country", "200")),
				ShouldEqual, 2.0)
			So(testutil.ToFloat64(c.requests.WithLabelValues("series", "404")),
				ShouldEqual, 1.0)
		})

		Convey("records rows and stages", func() {
			c.Rows("data", 42)
			c.Stage("Extract", 1500*time.Millisecond, true)
			c.Stage("Load", time.Second, false)
			c.Completed(time.Unix(1000, 0))
			So(testutil.ToFloat64(c.rows.WithLabelValues("data")), ShouldEqual, 42.0)
			So(testutil.ToFloat64(c.stageDuration.WithLabelValues("Extract")),
				ShouldEqual, 1.5)
			So(testutil.ToFloat64(c.stageSuccess.WithLabelValues("Extract")),
				ShouldEqual, 1.0)
			So(testutil.ToFloat64(c.stageSuccess.WithLabelValues("Load")),
				ShouldEqual, 0.0)
			So(testutil.ToFloat64(c.lastSuccess), ShouldEqual, 1000.0)
		})

		Convey("pushes to a gateway", func() {
			var method, path string
			server := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, r *http.Request) {
					method = r.Method
					path = r.URL.Path
					w.WriteHeader(http.StatusOK)
				}))
			defer server.Close()

			c.Rows("countries", 3)
			So(c.Push(ctx, server.URL, "wb_etl"), ShouldBeNil)
			So(method, ShouldEqual, http.MethodPut)
			So(path, ShouldEqual, "/metrics/job/wb_etl")
		})
	})

	Convey("nil Collector is a no-op", t, func() {
		var c *Collector
		So(Get(context.Background()), ShouldBeNil)
		c.APIRequest("country", 200)
		c.Rows("data", 1)
		c.Stage("Load", time.Second, true)
		c.Completed(time.Now())
		So(c.Registry(), ShouldBeNil)
		So(c.Push(context.Background(), "http://localhost", "job"), ShouldNotBeNil)
	})
}
