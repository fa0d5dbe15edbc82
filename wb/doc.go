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

// Package wb implements the generic part of the World Bank Indicators API
// (v2).
//
// Official documentation is at
// https://datahelpdesk.worldbank.org/knowledgebase/topics/125589 .
//
// Every JSON response of the API is a two-element array: a metadata object
// with the paging information, followed by the list of records for the
// requested page. Records are arbitrary JSON objects, some of whose fields are
// nested objects, e.g. "region": {"id": "ECS", "value": "Europe & Central
// Asia"}. This package decodes records generically as Record values; the
// schemas of specific collections are implemented in the subpackages.
//
// Some errors are reported in-band: the response has HTTP status 200 but the
// array contains a single object with a "message" list. Such responses are
// converted to APIError, the same as non-200 statuses.
//
// Large collections are split into pages. The API allows large page sizes, so
// typically a single page is enough, but PageIterator follows the remaining
// pages transparently when the metadata reports more than one.
package wb
