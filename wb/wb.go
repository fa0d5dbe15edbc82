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

package wb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/worldbank/metrics"
)

type contextKey int

const (
	clientContextKey contextKey = iota
)

// URL is the default base URL of the server. It may be overwritten in tests
// before creating a new client.
var URL = "https://api.worldbank.org/v2"

// Client for querying the World Bank API.
type Client struct {
	baseURL string // the base URL of the server, without the trailing slash
	http    *http.Client
}

// newClient creates a new client. Empty baseURL defaults to URL, nil hc to
// http.DefaultClient.
func newClient(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = URL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// UseClient creates a new client and injects it into the context. Empty
// baseURL means the package default URL; nil hc means http.DefaultClient.
func UseClient(ctx context.Context, baseURL string, hc *http.Client) context.Context {
	return context.WithValue(ctx, clientContextKey, newClient(baseURL, hc))
}

// BaseURL of the client's server.
func (c *Client) BaseURL() string { return c.baseURL }

// Resource is a top-level reference collection of the API.
type Resource string

// Supported reference collections.
const (
	CountryResource   = Resource("country")
	IndicatorResource = Resource("indicator")
)

// Value is an arbitrary value of a record field, as decoded by encoding/json:
// nil, bool, float64, string, []interface{} or map[string]interface{}.
type Value = interface{}

// Record is a single element of the records list in a response page.
type Record map[string]Value

// Query is a builder for an API request. Builder methods always create a copy
// of the query, leaving the original intact.
type Query struct {
	kind     string   // short label for logs and metrics, e.g. "country"
	segments []string // URL path segments relative to the base URL
	options  queryOptions
}

// queryOptions are the query parameters common to all the requests.
type queryOptions struct {
	PerPage int    // 0 = server default
	Page    int    // 0 = first page
	Date    string // "start:end" year range; empty = no constraint
}

// NewQuery creates a new query for the path made of the given segments. The
// segments are joined with "/" as is, since the API uses ';' as a list
// separator within a segment.
func NewQuery(kind string, segments ...string) *Query {
	return &Query{kind: kind, segments: segments}
}

// Copy creates a deep copy of the query.
func (q *Query) Copy() *Query {
	q2 := Query{kind: q.kind, options: q.options}
	q2.segments = make([]string, len(q.segments))
	copy(q2.segments, q.segments)
	return &q2
}

// Kind of the query, as set by NewQuery.
func (q *Query) Kind() string {
	return q.kind
}

// PerPage sets the maximum number of records in a single page.
func (q *Query) PerPage(size int) *Query {
	if size < 0 {
		size = 0
	}
	q2 := q.Copy()
	q2.options.PerPage = size
	return q2
}

// Page sets the page number to fetch, starting from 1.
func (q *Query) Page(n int) *Query {
	if n < 0 {
		n = 0
	}
	q2 := q.Copy()
	q2.options.Page = n
	return q2
}

// Years constrains the observations to the inclusive range of years.
func (q *Query) Years(start, end int) *Query {
	q2 := q.Copy()
	q2.options.Date = fmt.Sprintf("%d:%d", start, end)
	return q2
}

// Path returns the URL path to add to the base URL.
func (q *Query) Path() string {
	return strings.Join(q.segments, "/")
}

// Values returns the query values for the query. Each call creates a new
// object, so the caller is free to modify it without affecting the query.
func (q *Query) Values() url.Values {
	v := make(url.Values)
	v["format"] = []string{"json"}
	if q.options.PerPage != 0 {
		v["per_page"] = []string{strconv.Itoa(q.options.PerPage)}
	}
	if q.options.Page != 0 {
		v["page"] = []string{strconv.Itoa(q.options.Page)}
	}
	if q.options.Date != "" {
		v["date"] = []string{q.options.Date}
	}
	return v
}

// Count is an integer metadata field. The API is inconsistent about it and
// sometimes sends numbers as strings, e.g. "per_page": "50".
type Count int

var _ json.Unmarshaler = new(Count)

// UnmarshalJSON implements json.Unmarshaler.
func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.Annotate(err, "invalid count: %s", string(data))
	}
	*c = Count(n)
	return nil
}

// Message is an in-band error message of the API.
type Message struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata is the first element of the response envelope.
type Metadata struct {
	Page        Count     `json:"page"`
	Pages       Count     `json:"pages"`
	PerPage     Count     `json:"per_page"`
	Total       Count     `json:"total"`
	LastUpdated string    `json:"lastupdated"`
	Message     []Message `json:"message"`
}

// Messages joins all the in-band error messages into one string.
func (m *Metadata) Messages() string {
	strs := make([]string, len(m.Message))
	for i, msg := range m.Message {
		strs[i] = fmt.Sprintf("%s (%s): %s", msg.Key, msg.ID, msg.Value)
	}
	return strings.Join(strs, "; ")
}

// Page is a decoded response envelope.
type Page struct {
	Meta       Metadata
	Records    []Record
	HasRecords bool // the second element of the envelope is a list
}

// DecodePage decodes the [metadata, records] envelope. A missing or non-list
// second element is not an error: HasRecords is false in that case.
func DecodePage(data []byte) (*Page, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Annotate(err, "response is not a JSON array")
	}
	if len(envelope) == 0 {
		return nil, errors.Reason("response is an empty JSON array")
	}
	var p Page
	if err := json.Unmarshal(envelope[0], &p.Meta); err != nil {
		return nil, errors.Annotate(err, "failed to decode metadata")
	}
	if len(envelope) < 2 {
		return &p, nil
	}
	raw := bytes.TrimSpace(envelope[1])
	if len(raw) == 0 || raw[0] != '[' {
		return &p, nil
	}
	if err := json.Unmarshal(raw, &p.Records); err != nil {
		return nil, errors.Annotate(err, "failed to decode records")
	}
	p.HasRecords = true
	return &p, nil
}

// TestPage generates the JSON string in the format returned by the API. For
// use in tests.
func TestPage(page, pages int, records []Record) (string, error) {
	meta := map[string]interface{}{
		"page":     page,
		"pages":    pages,
		"per_page": strconv.Itoa(len(records)),
		"total":    len(records),
	}
	bytes, err := json.Marshal([]interface{}{meta, records})
	return string(bytes), err
}

// APIError is a failed API request: either a non-200 HTTP status, or an
// in-band error message.
type APIError struct {
	URL    string
	Status int
	Body   string
}

var _ error = &APIError{}

func (e *APIError) Error() string {
	body := strings.Join(strings.Fields(e.Body), " ")
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("request to %s failed with HTTP status %d: %s",
		e.URL, e.Status, body)
}

// IsNotFound checks whether err is an APIError with the 404 status.
func IsNotFound(err error) bool {
	e, ok := err.(*APIError)
	return ok && e.Status == http.StatusNotFound
}

// IsMessage checks whether err is an in-band API message delivered with the
// 200 status, e.g. for an invalid or archived indicator code.
func IsMessage(err error) bool {
	e, ok := err.(*APIError)
	return ok && e.Status == http.StatusOK
}

// Response is a raw HTTP response.
type Response struct {
	URL    string // the full request URL
	Status int
	Body   []byte
}

// Get executes a single GET request for the query. Any HTTP status is a valid
// response; only transport failures are returned as errors. There are no
// retries.
func (c *Client) Get(ctx context.Context, q *Query) (*Response, error) {
	uri := c.baseURL + "/" + q.Path() + "?" + q.Values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Annotate(err, "failed to create request for %s", uri)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Annotate(err, "failed to GET %s", uri)
	}
	defer resp.Body.Close()

	metrics.Get(ctx).APIRequest(q.Kind(), resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read response body from %s", uri)
	}
	logging.Debugf(ctx, "World Bank API: GET %s -> %d, %d bytes",
		uri, resp.StatusCode, len(body))
	return &Response{URL: uri, Status: resp.StatusCode, Body: body}, nil
}

// ReadPage executes the query using the Client from the context and decodes
// one page of data. Non-200 statuses and in-band messages are returned as
// *APIError without annotation, so the callers can inspect them.
func (q *Query) ReadPage(ctx context.Context) (*Page, error) {
	client := GetClient(ctx)
	if client == nil {
		return nil, errors.Reason("Query.ReadPage: no client in context")
	}
	resp, err := client.Get(ctx, q)
	if err != nil {
		return nil, errors.Annotate(err, "Query.ReadPage: failed to fetch URL")
	}
	if resp.Status != http.StatusOK {
		return nil, &APIError{URL: resp.URL, Status: resp.Status, Body: string(resp.Body)}
	}
	page, err := DecodePage(resp.Body)
	if err != nil {
		return nil, errors.Annotate(err, "Query.ReadPage: bad response from %s", resp.URL)
	}
	if len(page.Meta.Message) > 0 {
		return nil, &APIError{URL: resp.URL, Status: resp.Status, Body: page.Meta.Messages()}
	}
	return page, nil
}

// PageIterator iterates over the pages of a query result. Pages are fetched
// strictly sequentially, one request at a time.
type PageIterator struct {
	context context.Context
	query   *Query
	next    int  // the page number to request next
	pages   int  // total number of pages, as reported by the first page
	started bool // if at least one Next call was ever made
}

// Read sets up the iterator over the result pages.
func (q *Query) Read(ctx context.Context) *PageIterator {
	next := q.options.Page
	if next == 0 {
		next = 1
	}
	return &PageIterator{context: ctx, query: q, next: next}
}

// Next fetches the next page. When there are no more pages, or fetching a
// page results in an error, the second return value is false.
func (it *PageIterator) Next() (*Page, bool, error) {
	if it.query == nil {
		return nil, false, nil
	}
	if it.started && it.next > it.pages {
		return nil, false, nil
	}
	q := it.query
	if it.started {
		q = q.Page(it.next)
	}
	it.started = true
	page, err := q.ReadPage(it.context)
	if err != nil {
		return nil, false, err
	}
	it.pages = int(page.Meta.Pages)
	logging.Debugf(it.context, "World Bank API: fetched %s page %d of %d with %d records",
		q.Kind(), it.next, it.pages, len(page.Records))
	it.next++
	return page, true, nil
}

// Collection is the complete content of a reference collection.
type Collection struct {
	Resource Resource
	Records  []Record
	Total    int // as reported by the API
}

// Empty checks whether the collection has no records. Valid for nil.
func (c *Collection) Empty() bool {
	return c == nil || len(c.Records) == 0
}

// FetchCollection downloads all the records of a reference collection,
// following the pages if the collection doesn't fit in one. An empty
// collection is not an error; use Collection.Empty() to check for it.
func FetchCollection(ctx context.Context, r Resource, perPage int) (*Collection, error) {
	it := NewQuery(string(r), string(r)).PerPage(perPage).Read(ctx)
	c := &Collection{Resource: r}
	for {
		page, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if c.Total == 0 {
			c.Total = int(page.Meta.Total)
		}
		c.Records = append(c.Records, page.Records...)
	}
	logging.Infof(ctx, "World Bank API: fetched %d %s records", len(c.Records), r)
	return c, nil
}
