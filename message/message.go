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

package message

import (
	"math"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/stockparfait/errors"
	"golang.org/x/exp/slices"
)

// Message is a configuration object initialized from a generic document, as
// decoded by encoding/json or go-toml into an interface{}: nested
// map[string]interface{} and []interface{} of scalars. It is implemented by
// struct pointers, typically as:
//
//   type Run struct {
//     Language string `toml:"language" default:"en"`
//     Start int `toml:"start_year" required:"true"`
//     Policy string `toml:"policy" choices:"skip,stop" default:"skip"`
//     DB *Store `toml:"db"` // nested Message, nil when absent
//     Ignored int `toml:"-"`
//   }
//
//   func (r *Run) InitMessage(doc interface{}) error {
//     return message.Init(r, doc)
//   }
type Message interface {
	// InitMessage populates the message from a generic document: checks the
	// required keys, sets defaults and rejects unknown keys. Nested Messages are
	// initialized recursively.
	InitMessage(doc interface{}) error
}

var messageType = reflect.TypeOf((*Message)(nil)).Elem()

// field is a parsed struct field of a Message.
type field struct {
	index    int
	name     string // Go name
	key      string // document key
	required bool
	def      *string  // default value, if any
	choices  []string // allowed values of a string field
}

// parseFields extracts the message fields of the struct type. The document key
// is taken from the `toml` tag, then `json`, then the field name.
func parseFields(t reflect.Type) ([]field, error) {
	var res []field
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Name
		tag, ok := f.Tag.Lookup("toml")
		if !ok {
			tag = f.Tag.Get("json")
		}
		if name := strings.Split(tag, ",")[0]; name == "-" {
			continue
		} else if name != "" {
			key = name
		}
		fd := field{index: i, name: f.Name, key: key, required: f.Tag.Get("required") == "true"}
		if d, ok := f.Tag.Lookup("default"); ok {
			fd.def = &d
		}
		if c, ok := f.Tag.Lookup("choices"); ok {
			if f.Type.Kind() != reflect.String {
				return nil, errors.Reason("choices tag on a non-string field %s", f.Name)
			}
			fd.choices = strings.Split(c, ",")
		}
		res = append(res, fd)
	}
	return res, nil
}

func initMessage(doc interface{}, t reflect.Type) (reflect.Value, error) {
	if t.Kind() != reflect.Ptr {
		return reflect.Value{}, errors.Reason("%s implements Message but is not a pointer", t)
	}
	ptr := reflect.New(t.Elem())
	if err := ptr.Interface().(Message).InitMessage(doc); err != nil {
		return reflect.Value{}, errors.Annotate(err, "failed to initialize %s", t.Elem().Name())
	}
	return ptr, nil
}

// toInt accepts integers as decoded by go-toml (int64) and encoding/json
// (float64 without a fractional part).
func toInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}

// convert a document value to the type t. A nil value yields the zero value,
// except for the non-pointer Messages which are initialized from an empty
// document to get their defaults.
func convert(v interface{}, t reflect.Type) (reflect.Value, error) {
	var none reflect.Value
	if t.Implements(messageType) {
		if v == nil {
			return reflect.Zero(t), nil
		}
		return initMessage(v, t)
	}
	if pt := reflect.PtrTo(t); pt.Implements(messageType) {
		if v == nil {
			v = map[string]interface{}{}
		}
		ptr, err := initMessage(v, pt)
		if err != nil {
			return none, err
		}
		return ptr.Elem(), nil
	}
	if v == nil {
		return reflect.Zero(t), nil
	}
	switch t.Kind() {
	case reflect.Ptr:
		e, err := convert(v, t.Elem())
		if err != nil {
			return none, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(e)
		return ptr, nil
	case reflect.Bool:
		if b, ok := v.(bool); ok {
			return reflect.ValueOf(b).Convert(t), nil
		}
		return none, errors.Reason("expected a bool, got %T: %v", v, v)
	case reflect.Int, reflect.Int64:
		if n, ok := toInt(v); ok {
			return reflect.ValueOf(n).Convert(t), nil
		}
		return none, errors.Reason("expected an integer, got %T: %v", v, v)
	case reflect.Float64:
		if n, ok := toInt(v); ok {
			return reflect.ValueOf(float64(n)).Convert(t), nil
		}
		if x, ok := v.(float64); ok {
			return reflect.ValueOf(x).Convert(t), nil
		}
		return none, errors.Reason("expected a number, got %T: %v", v, v)
	case reflect.String:
		if s, ok := v.(string); ok {
			return reflect.ValueOf(s).Convert(t), nil
		}
		return none, errors.Reason("expected a string, got %T: %v", v, v)
	case reflect.Slice:
		list, ok := v.([]interface{})
		if !ok {
			return none, errors.Reason("expected a list, got %T: %v", v, v)
		}
		res := reflect.MakeSlice(t, len(list), len(list))
		for i, e := range list {
			ev, err := convert(e, t.Elem())
			if err != nil {
				return none, errors.Annotate(err, "element #%d", i)
			}
			res.Index(i).Set(ev)
		}
		return res, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return none, errors.Reason("map keys must be strings, not %s", t.Key())
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			return none, errors.Reason("expected a table, got %T: %v", v, v)
		}
		res := reflect.MakeMapWithSize(t, len(m))
		for k, e := range m {
			ev, err := convert(e, t.Elem())
			if err != nil {
				return none, errors.Annotate(err, "key %s", k)
			}
			res.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		return res, nil
	}
	return none, errors.Reason("unsupported type %s", t)
}

// parseDefault converts the default tag value to the type t.
func parseDefault(s string, t reflect.Type) (reflect.Value, error) {
	var none reflect.Value
	switch t.Kind() {
	case reflect.Ptr:
		e, err := parseDefault(s, t.Elem())
		if err != nil {
			return none, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(e)
		return ptr, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return none, errors.Annotate(err, "invalid bool: %s", s)
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return none, errors.Annotate(err, "invalid integer: %s", s)
		}
		return reflect.ValueOf(n).Convert(t), nil
	case reflect.Float64:
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return none, errors.Annotate(err, "invalid number: %s", s)
		}
		return reflect.ValueOf(x).Convert(t), nil
	case reflect.String:
		return reflect.ValueOf(s).Convert(t), nil
	}
	return none, errors.Reason("default values are not supported for %s", t)
}

func (f *field) check(v reflect.Value) error {
	if f.choices == nil {
		return nil
	}
	if s := v.String(); !slices.Contains(f.choices, s) {
		return errors.Reason("value of %s must be one of [%s], got '%s'",
			f.key, strings.Join(f.choices, ", "), s)
	}
	return nil
}

// Init populates the struct pointed to by m from the generic document doc,
// which must be a map[string]interface{}. Struct tags:
//
//   `toml:"key"` (or `json:"key"`): the document key, default is the field
//   name; "-" excludes the field;
//   `required:"true"`: the key must be present;
//   `default:"value"`: value of a missing key, for scalar fields;
//   `choices:"a,b,c"`: allowed values of a string field, including its
//   default or zero value.
//
// Nested Messages are initialized with their own InitMessage. Unknown keys in
// the document are an error.
func Init(m Message, doc interface{}) error {
	rt := reflect.TypeOf(m)
	if rt.Kind() != reflect.Ptr || rt.Elem().Kind() != reflect.Struct {
		return errors.Reason("Message must be a struct pointer, got %s", rt)
	}
	if doc == nil {
		return errors.Reason("document is nil")
	}
	docMap, ok := doc.(map[string]interface{})
	if !ok {
		return errors.Reason("document is not a table: %v", doc)
	}
	fields, err := parseFields(rt.Elem())
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(m).Elem()
	known := make(map[string]struct{}, len(fields))
	var missing []string
	for _, f := range fields {
		known[f.key] = struct{}{}
		fv := rv.Field(f.index)
		dv, present := docMap[f.key]
		var v reflect.Value
		switch {
		case present:
			v, err = convert(dv, fv.Type())
			if err != nil {
				return errors.Annotate(err, "invalid value of %s", f.key)
			}
		case f.required:
			missing = append(missing, f.key)
			continue
		case f.def != nil:
			v, err = parseDefault(*f.def, fv.Type())
			if err != nil {
				return errors.Annotate(err, "bad default for %s", f.name)
			}
		default:
			v, err = convert(nil, fv.Type())
			if err != nil {
				return errors.Annotate(err, "failed to create zero value for %s", f.name)
			}
		}
		if err := f.check(v); err != nil {
			return err
		}
		fv.Set(v)
	}
	if len(missing) > 0 {
		return errors.Reason("missing required keys: %s", strings.Join(missing, ", "))
	}
	var unknown []string
	for k := range docMap {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Reason("unknown keys in %s: %s",
			rt.Elem().Name(), strings.Join(unknown, ", "))
	}
	return nil
}

// FromTOML decodes the TOML document and initializes the message with it.
func FromTOML(data []byte, m Message) error {
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return errors.Annotate(err, "failed to parse TOML")
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return m.InitMessage(doc)
}

// ReadTOML reads the TOML file and initializes the message with it.
func ReadTOML(path string, m Message) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotate(err, "failed to read %s", path)
	}
	if err := FromTOML(data, m); err != nil {
		return errors.Annotate(err, "in %s", path)
	}
	return nil
}
