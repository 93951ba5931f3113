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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpers(t *testing.T) {
	assert.Nil(t, parseJSON(nil))
	assert.Equal(t, map[string]interface{}{"a": "b"}, parseJSON([]byte(`{"a": "b"}`)))
	assert.Equal(t, map[string]interface{}{"n": float64(2)}, parseJSON(`{"n": 2}`))
	assert.Panics(t, func() { parseJSON("abc") })
	assert.Panics(t, func() { parseJSON(222) })

	for _, v := range []interface{}{[]byte("3"), "3", 3.7, int64(3), 3} {
		assert.Equal(t, 3, toInt(v), "%v", v)
	}
	assert.Panics(t, func() { toInt("") })
	assert.Panics(t, func() { toInt(time.Second) })

	assert.Equal(t, 2.5, toFloat("2.5"))
	assert.Equal(t, float64(4), toFloat(int64(4)))
	assert.Panics(t, func() { toFloat(true) })

	assert.Equal(t, "a", toString([]byte("a")))
	assert.Equal(t, "", toString(nil))
	assert.Equal(t, "444", toString(444))
}

func TestEnvironment(t *testing.T) {
	env := environment(map[string]interface{}{"a": "b", "int": 7})
	assert.Equal(t, "b", env["a"])
	assert.Equal(t, 7, env["int"])
	for _, name := range []string{"string", "float", "json", "sprig"} {
		assert.Contains(t, env, name)
	}
}

func TestEvalBool(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		fields     map[string]interface{}
		want       bool
		wantErr    bool
	}{
		{"match", `region == "eu" && amount > 10`, map[string]interface{}{"region": "eu", "amount": int64(11)}, true, false},
		{"no match", `region == "eu" && amount > 10`, map[string]interface{}{"region": "us", "amount": int64(11)}, false, false},
		{"helpers", `int(qty) * 2 == 8 && string(code) == "x1"`, map[string]interface{}{"qty": "4", "code": []byte("x1")}, true, false},
		{"sprig", `sprig.contains("lo", name)`, map[string]interface{}{"name": "hello"}, true, false},
		{"not bool", `amount`, map[string]interface{}{"amount": int64(11)}, false, true},
		{"bad conversion", `int(qty) > 1`, map[string]interface{}{"qty": "many"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalBool(tt.expression, tt.fields)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
