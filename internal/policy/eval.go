// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package policy

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"cybernetic/internal/errs"
)

const (
	// DefaultMaxDepth bounds condition-tree recursion (§4.9).
	DefaultMaxDepth = 100
	// DefaultTimeout bounds wall-clock evaluation time (§4.9).
	DefaultTimeout = 100 * time.Millisecond
)

// EvalOptions bounds a single evaluation pass.
type EvalOptions struct {
	MaxDepth int
	Timeout  time.Duration
}

func (o EvalOptions) withDefaults() EvalOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// evalState carries the per-evaluation bookkeeping: the input document,
// the recursion-depth ceiling, and the wall-clock deadline. Evaluation is
// pure - it never mutates env and never performs I/O.
type evalState struct {
	env      map[string]any
	maxDepth int
	deadline time.Time
}

func (s *evalState) checkBudget(depth int) error {
	if depth > s.maxDepth {
		return fmt.Errorf("%w: exceeded %d", errs.ErrRecursionLimit, s.maxDepth)
	}
	if time.Now().After(s.deadline) {
		return fmt.Errorf("%w: exceeded evaluation budget", errs.ErrEvaluationTimeout)
	}
	return nil
}

// EvaluateCondition evaluates node against env (a tree of
// context|resource|action|environment data) and returns its boolean
// result.
func EvaluateCondition(node Node, env map[string]any, opts EvalOptions) (bool, error) {
	opts = opts.withDefaults()
	s := &evalState{env: env, maxDepth: opts.MaxDepth, deadline: time.Now().Add(opts.Timeout)}
	v, err := s.eval(node, 0)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: condition did not evaluate to a boolean", errs.ErrValidationFailed)
	}
	return b, nil
}

func (s *evalState) eval(n Node, depth int) (any, error) {
	if err := s.checkBudget(depth); err != nil {
		return nil, err
	}

	switch n.Kind {
	case NodeLiteral:
		return n.Literal, nil

	case NodePath:
		v, _ := resolvePath(s.env, n.Path)
		return v, nil

	case NodeList:
		out := make([]any, len(n.List))
		for i, item := range n.List {
			v, err := s.eval(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case NodeCall:
		return s.evalCall(n, depth)

	default:
		return nil, fmt.Errorf("%w: unknown node kind", errs.ErrValidationFailed)
	}
}

func (s *evalState) evalCall(n Node, depth int) (any, error) {
	args := n.Args
	arg := func(i int) (any, error) {
		if i >= len(args) {
			return nil, fmt.Errorf("%w: %s missing argument %d", errs.ErrValidationFailed, n.Op, i)
		}
		return s.eval(args[i], depth+1)
	}

	switch n.Op {
	case "and":
		for _, a := range args {
			v, err := s.eval(a, depth+1)
			if err != nil {
				return nil, err
			}
			if b, _ := v.(bool); !b {
				return false, nil
			}
		}
		return true, nil

	case "or":
		for _, a := range args {
			v, err := s.eval(a, depth+1)
			if err != nil {
				return nil, err
			}
			if b, _ := v.(bool); b {
				return true, nil
			}
		}
		return false, nil

	case "not":
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		b, _ := v.(bool)
		return !b, nil

	case "eq", "neq":
		a, err := arg(0)
		if err != nil {
			return nil, err
		}
		b, err := arg(1)
		if err != nil {
			return nil, err
		}
		eq := valuesEqual(a, b)
		if n.Op == "neq" {
			return !eq, nil
		}
		return eq, nil

	case "gt", "gte", "lt", "lte":
		a, err := arg(0)
		if err != nil {
			return nil, err
		}
		b, err := arg(1)
		if err != nil {
			return nil, err
		}
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return false, nil
		}
		switch n.Op {
		case "gt":
			return af > bf, nil
		case "gte":
			return af >= bf, nil
		case "lt":
			return af < bf, nil
		default:
			return af <= bf, nil
		}

	case "in":
		needle, err := arg(0)
		if err != nil {
			return nil, err
		}
		haystack, err := arg(1)
		if err != nil {
			return nil, err
		}
		list, ok := haystack.([]any)
		if !ok {
			return false, nil
		}
		for _, item := range list {
			if valuesEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil

	case "present":
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		return v != nil, nil

	case "blank":
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return true, nil
		}
		s, ok := v.(string)
		return ok && strings.TrimSpace(s) == "", nil

	case "role":
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		want, ok := v.(string)
		if !ok {
			return false, nil
		}
		roles, _ := resolvePath(s.env, []string{"context", "roles"})
		list, ok := roles.([]any)
		if !ok {
			return false, nil
		}
		for _, r := range list {
			if rs, ok := r.(string); ok && rs == want {
				return true, nil
			}
		}
		return false, nil

	default:
		return nil, fmt.Errorf("%w: unknown operator %q", errs.ErrValidationFailed, n.Op)
	}
}

func resolvePath(env map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur, ok := env[path[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range path[1:] {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}
