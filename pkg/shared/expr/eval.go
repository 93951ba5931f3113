/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package expr

import (
	"fmt"
	"strconv"

	"github.com/Masterminds/sprig/v3"
	"github.com/goccy/go-json"
)

var sprigFuncMap = sprig.GenericFuncMap()

// EvalBool evaluates a boolean expression against the given fields.
func EvalBool(expression string, fields map[string]interface{}) (bool, error) {
	p, err := defaultCompiler.Compile(expression, fields)
	if err != nil {
		return false, err
	}
	return p.RunBool(fields)
}

// environment adds the helper functions to the row fields. A field named
// like a helper hides it.
func environment(fields map[string]interface{}) map[string]interface{} {
	env := map[string]interface{}{
		"sprig":  sprigFuncMap,
		"json":   parseJSON,
		"int":    toInt,
		"float":  toFloat,
		"string": toString,
	}
	for k, v := range fields {
		env[k] = v
	}
	return env
}

// The helpers panic on bad input; expr turns the panic into a run error.

func toInt(v interface{}) int {
	switch w := v.(type) {
	case int:
		return w
	case int64:
		return int(w)
	case float64:
		return int(w)
	case string, []byte:
		i, err := strconv.Atoi(toString(w))
		if err != nil {
			panic(fmt.Errorf("cannot convert %q to int", toString(w)))
		}
		return i
	}
	panic(fmt.Errorf("cannot convert %T to int", v))
}

func toFloat(v interface{}) float64 {
	switch w := v.(type) {
	case float64:
		return w
	case int:
		return float64(w)
	case int64:
		return float64(w)
	case string, []byte:
		f, err := strconv.ParseFloat(toString(w), 64)
		if err != nil {
			panic(fmt.Errorf("cannot convert %q to float", toString(w)))
		}
		return f
	}
	panic(fmt.Errorf("cannot convert %T to float", v))
}

func toString(v interface{}) string {
	switch w := v.(type) {
	case nil:
		return ""
	case string:
		return w
	case []byte:
		return string(w)
	}
	return fmt.Sprint(v)
}

func parseJSON(v interface{}) map[string]interface{} {
	var data []byte
	switch w := v.(type) {
	case nil:
		return nil
	case string:
		data = []byte(w)
	case []byte:
		data = w
	default:
		panic(fmt.Errorf("cannot parse %T as json", v))
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Errorf("cannot parse %q as json: %w", data, err))
	}
	return out
}
