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

// Package wdi implements the World Development Indicators schemas on top of
// the generic World Bank API client.
//
// Raw country and indicator records are normalized into flat rows. Countries
// exclude the "Aggregates" region (World, Euro area, income groups, etc.) and
// exact duplicates. Observations of indicators for a set of countries are
// fetched with one request per indicator, all the countries at once.
package wdi
