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
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stockparfait/testutil"
	"github.com/stockparfait/worldbank/wb"

	. "github.com/smartystreets/goconvey/convey"
)

func observation(code, iso2, year string, value interface{}) wb.Record {
	return wb.Record{
		"indicator":       obj{"id": code, "value": "Indicator " + code},
		"country":         obj{"id": iso2, "value": "Country " + iso2},
		"countryiso3code": iso2 + "X",
		"date":            year,
		"value":           value,
	}
}

type response struct {
	status int
	body   string
}

// seriesServer responds to series requests by the indicator code at the end
// of the path, and records the requested URLs.
type seriesServer struct {
	*httptest.Server
	responses map[string]response
	requests  []string
}

func newSeriesServer() *seriesServer {
	s := &seriesServer{responses: make(map[string]response)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests = append(s.requests, r.URL.RequestURI())
		code := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		resp, ok := s.responses[code]
		if !ok {
			resp = response{http.StatusNotFound, "not found"}
		}
		w.WriteHeader(resp.status)
		w.Write([]byte(resp.body))
	}))
	return s
}

func (s *seriesServer) page(code string, records ...wb.Record) {
	body, err := wb.TestPage(1, 1, records)
	So(err, ShouldBeNil)
	s.responses[code] = response{http.StatusOK, body}
}

func TestSeries(t *testing.T) {
	t.Parallel()

	Convey("FetchSeries", t, func() {
		server := newSeriesServer()
		defer server.Close()
		ctx := wb.UseClient(context.Background(), server.URL, server.Client())

		server.page("IND.A",
			observation("IND.A", "US", "2001", 1.5),
			observation("IND.A", "FR", "2000", nil))
		server.page("IND.C", observation("IND.C", "US", "2000", 7.0))

		sq := SeriesQuery{
			Indicators: []string{"IND.A", "IND.B"},
			Countries:  []string{"US", "FR"},
			StartYear:  2000,
			EndYear:    2001,
		}
		expectedA := []Observation{
			{
				Country:       "Country US",
				ISO3Code:      "USX",
				Indicator:     "Indicator IND.A",
				IndicatorCode: "IND.A",
				Year:          2001,
				Value:         sql.NullFloat64{Float64: 1.5, Valid: true},
			},
			{
				Country:       "Country FR",
				ISO3Code:      "FRX",
				Indicator:     "Indicator IND.A",
				IndicatorCode: "IND.A",
				Year:          2000,
			},
		}

		Convey("one request per indicator with all countries", func() {
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(server.requests[0], ShouldEqual,
				"/en/country/US;FR/indicator/IND.A?date=2000%3A2001&format=json&per_page=10000")
			So(res.Requests, ShouldEqual, 2)
		})

		Convey("not found indicator is skipped by default", func() {
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(res.Rows, ShouldResemble, expectedA)
			So(res.Skipped, ShouldResemble, []string{"IND.B"})
			So(res.Stopped, ShouldEqual, "")
			So(res.Empty(), ShouldBeFalse)
		})

		Convey("skip continues with the next indicator", func() {
			sq.Indicators = []string{"IND.B", "IND.A", "IND.C"}
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(len(res.Rows), ShouldEqual, 3)
			So(res.Rows[2].IndicatorCode, ShouldEqual, "IND.C")
			So(res.Skipped, ShouldResemble, []string{"IND.B"})
		})

		Convey("stop policy keeps the accumulated rows", func() {
			sq.OnNotFound = StopNotFound
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(res.Rows, ShouldResemble, expectedA)
			So(res.Stopped, ShouldEqual, "IND.B")
			So(len(res.Skipped), ShouldEqual, 0)

			sq.Indicators = []string{"IND.A", "IND.B", "IND.C"}
			res, err = FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(len(res.Rows), ShouldEqual, 2)
			So(len(server.requests), ShouldEqual, 4)
		})

		Convey("server error fails the whole fetch", func() {
			server.responses["IND.B"] = response{http.StatusInternalServerError, "boom"}
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldNotBeNil)
			So(res, ShouldBeNil)
			apiErr, ok := err.(*wb.APIError)
			So(ok, ShouldBeTrue)
			So(apiErr.Status, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("malformed record fails the whole fetch", func() {
			server.page("IND.B", observation("IND.B", "US", "n/a", 1.0))
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldNotBeNil)
			So(res, ShouldBeNil)
			_, ok := err.(*MalformedRecordError)
			So(ok, ShouldBeTrue)
		})

		Convey("null records yield no rows", func() {
			server.responses["IND.A"] = response{
				http.StatusOK, `[{"page":0,"pages":0,"total":0}, null]`}
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(res.Empty(), ShouldBeTrue)
		})

		Convey("in-band message yields no rows for the indicator", func() {
			server.responses["IND.B"] = response{http.StatusOK,
				`[{"message":[{"id":"175","key":"Invalid format","value":"The indicator was not found. It may have been deleted or archived."}]}]`}
			for _, policy := range []NotFoundPolicy{SkipNotFound, StopNotFound} {
				sq.OnNotFound = policy
				sq.Indicators = []string{"IND.B", "IND.A"}
				res, err := FetchSeries(ctx, sq)
				So(err, ShouldBeNil)
				So(res.Rows, ShouldResemble, expectedA)
				So(res.Skipped, ShouldBeNil)
				So(res.Stopped, ShouldEqual, "")
				So(res.Requests, ShouldEqual, 2)
			}
		})

		Convey("not found on a later page drops the indicator's rows", func() {
			page1, err := wb.TestPage(1, 2, []wb.Record{observation("IND.A", "US", "2000", 1.0)})
			So(err, ShouldBeNil)
			pageC, err := wb.TestPage(1, 1, []wb.Record{observation("IND.C", "US", "2000", 7.0)})
			So(err, ShouldBeNil)
			paged := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch {
				case strings.HasSuffix(r.URL.Path, "/IND.C"):
					w.Write([]byte(pageC))
				case r.URL.Query().Get("page") == "2":
					w.WriteHeader(http.StatusNotFound)
				default:
					w.Write([]byte(page1))
				}
			}))
			defer paged.Close()
			ctx := wb.UseClient(context.Background(), paged.URL, paged.Client())
			sq.Indicators = []string{"IND.A", "IND.C"}
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(res.Skipped, ShouldResemble, []string{"IND.A"})
			So(len(res.Rows), ShouldEqual, 1)
			So(res.Rows[0].IndicatorCode, ShouldEqual, "IND.C")
			So(res.Requests, ShouldEqual, 3)

			sq.OnNotFound = StopNotFound
			res, err = FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(res.Stopped, ShouldEqual, "IND.A")
			So(res.Empty(), ShouldBeTrue)
		})

		Convey("follows pages", func() {
			page1, err := wb.TestPage(1, 2, []wb.Record{observation("IND.A", "US", "2000", 1.0)})
			So(err, ShouldBeNil)
			page2, err := wb.TestPage(2, 2, []wb.Record{observation("IND.A", "US", "2001", 2.0)})
			So(err, ShouldBeNil)
			calls := 0
			paged := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if r.URL.Query().Get("page") == "2" {
					w.Write([]byte(page2))
					return
				}
				w.Write([]byte(page1))
			}))
			defer paged.Close()
			ctx := wb.UseClient(context.Background(), paged.URL, paged.Client())
			sq.Indicators = []string{"IND.A"}
			res, err := FetchSeries(ctx, sq)
			So(err, ShouldBeNil)
			So(len(res.Rows), ShouldEqual, 2)
			So(res.Rows[1].Year, ShouldEqual, 2001)
			So(calls, ShouldEqual, 2)
			So(res.Requests, ShouldEqual, 2)
		})

		Convey("invalid queries", func() {
			_, err := FetchSeries(ctx, SeriesQuery{Countries: []string{"US"}})
			So(err, ShouldNotBeNil)
			_, err = FetchSeries(ctx, SeriesQuery{Indicators: []string{"IND.A"}})
			So(err, ShouldNotBeNil)
			sq.StartYear = 2010
			_, err = FetchSeries(ctx, sq)
			So(err, ShouldNotBeNil)
			sq.StartYear = 2000
			sq.OnNotFound = "ignore"
			_, err = FetchSeries(ctx, sq)
			So(err, ShouldNotBeNil)
			So(len(server.requests), ShouldEqual, 0)
		})
	})

	Convey("network error on every request yields no rows", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()
		ctx := wb.UseClient(context.Background(), url, nil)
		res, err := FetchSeries(ctx, SeriesQuery{
			Indicators: []string{"IND.A", "IND.B"},
			Countries:  []string{"US", "FR"},
			StartYear:  2000,
			EndYear:    2001,
		})
		So(err, ShouldNotBeNil)
		So(res, ShouldBeNil)
	})

	Convey("Catalog", t, func() {
		Convey("built-in catalog", func() {
			codes := DefaultCatalog()
			So(len(codes), ShouldEqual, 26)
			So(codes[0], ShouldEqual, "SP.POP.TOTL")
			So(codes[25], ShouldEqual, "SP.URB.TOTL.IN.ZS")
		})

		Convey("parses, trims and de-duplicates", func() {
			codes, err := ParseCatalog([]byte(`indicators = [" A.B ", "C", "A.B"]`))
			So(err, ShouldBeNil)
			So(codes, ShouldResemble, []string{"A.B", "C"})
		})

		Convey("rejects bad catalogs", func() {
			_, err := ParseCatalog([]byte(`indicators = []`))
			So(err, ShouldNotBeNil)
			_, err = ParseCatalog([]byte(`indicators = ["A", " "]`))
			So(err, ShouldNotBeNil)
			_, err = ParseCatalog([]byte(`indicators = "A"`))
			So(err, ShouldNotBeNil)
		})

		Convey("loads from a file", func() {
			tmpdir, tmpdirErr := os.MkdirTemp("", "test_catalog")
			So(tmpdirErr, ShouldBeNil)
			defer os.RemoveAll(tmpdir)
			path := filepath.Join(tmpdir, "catalog.toml")
			So(testutil.WriteFile(path, `indicators = ["X.Y"]`), ShouldBeNil)

			codes, err := LoadCatalog(path)
			So(err, ShouldBeNil)
			So(codes, ShouldResemble, []string{"X.Y"})

			codes, err = LoadCatalog("")
			So(err, ShouldBeNil)
			So(len(codes), ShouldEqual, 26)

			_, err = LoadCatalog(filepath.Join(tmpdir, "missing.toml"))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Summarize", t, func() {
		rows := []Observation{
			{IndicatorCode: "B", Indicator: "Ind B", Value: sql.NullFloat64{Float64: 2, Valid: true}},
			{IndicatorCode: "A", Indicator: "Ind A"},
			{IndicatorCode: "B", Indicator: "Ind B", Value: sql.NullFloat64{Float64: 5, Valid: true}},
			{IndicatorCode: "B", Indicator: "Ind B", Value: sql.NullFloat64{Float64: -1, Valid: true}},
			{IndicatorCode: "B", Indicator: "Ind B"},
		}
		s := Summarize(rows)
		So(len(s), ShouldEqual, 2)
		So(s[0].IndicatorCode, ShouldEqual, "B")
		So(s[0].Count, ShouldEqual, 4)
		So(s[0].Nulls, ShouldEqual, 1)
		So(s[0].Min, ShouldEqual, -1.0)
		So(s[0].Max, ShouldEqual, 5.0)
		So(testutil.Round(s[0].Mean, 5), ShouldEqual, 2.0)
		So(s[1].Values()[4:], ShouldResemble, []interface{}{nil, nil, nil})

		tbl := SummaryTable(s)
		So(tbl.Validate(), ShouldBeNil)
		So(tbl.Len(), ShouldEqual, 2)
	})
}
