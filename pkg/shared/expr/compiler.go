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
	"sort"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled programs kept per compiler.
const DefaultCacheSize = 256

var defaultCompiler = MustNewCompiler(DefaultCacheSize)

// Program is a compiled expression bound to the shape of its field map.
type Program struct {
	expression string
	program    *vm.Program
}

// Compiler compiles expressions once per (expression, field names) pair and
// keeps the programs in an LRU cache.
type Compiler struct {
	cache *lru.Cache[string, *Program]
}

func NewCompiler(size int) (*Compiler, error) {
	c, err := lru.New[string, *Program](size)
	if err != nil {
		return nil, err
	}
	return &Compiler{cache: c}, nil
}

func MustNewCompiler(size int) *Compiler {
	c, err := NewCompiler(size)
	if err != nil {
		panic(err)
	}
	return c
}

// Compile type checks expression against sample field values. The field
// names and value types take part in the cache key.
func (c *Compiler) Compile(expression string, sample map[string]interface{}) (*Program, error) {
	key := cacheKey(expression, sample)
	if p, ok := c.cache.Get(key); ok {
		return p, nil
	}
	program, err := expr.Compile(expression, expr.Env(environment(sample)))
	if err != nil {
		return nil, fmt.Errorf("unable to compile expression '%s': %s", expression, err)
	}
	p := &Program{expression: expression, program: program}
	c.cache.Add(key, p)
	return p, nil
}

// Len returns the number of cached programs.
func (c *Compiler) Len() int { return c.cache.Len() }

func cacheKey(expression string, fields map[string]interface{}) string {
	names := make([]string, 0, len(fields))
	for k, v := range fields {
		names = append(names, fmt.Sprintf("%s:%T", k, v))
	}
	sort.Strings(names)
	return expression + "\x00" + strings.Join(names, "\x00")
}

// Run evaluates the program. Panics raised by helper functions are turned
// into errors.
func (p *Program) Run(fields map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unable to execute expression '%s': %v", p.expression, r)
		}
	}()
	result, err = expr.Run(p.program, environment(fields))
	if err != nil {
		return nil, fmt.Errorf("unable to execute expression '%s': %s", p.expression, err)
	}
	return result, nil
}

// RunBool evaluates a predicate.
func (p *Program) RunBool(fields map[string]interface{}) (bool, error) {
	result, err := p.Run(fields)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unable to cast expression result '%v' to bool", result)
	}
	return b, nil
}

func (p *Program) String() string { return p.expression }
