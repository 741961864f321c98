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
	"strconv"

	"cybernetic/internal/errs"
)

// operators is the full set of condition-expression operators the
// evaluator understands (§4.9).
var operators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "present": true, "blank": true,
	"and": true, "or": true, "not": true,
	"role": true,
}

var rootPaths = map[string]bool{
	"context": true, "resource": true, "action": true, "environment": true,
}

type parser struct {
	lex *lexer
	cur token
}

func newParser(src string) (*parser, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrParse, err)
	}
	p.cur = t
	return nil
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.cur.kind != k {
		return token{}, fmt.Errorf("%w: expected %s, got %q", errs.ErrParse, what, p.cur.text)
	}
	t := p.cur
	return t, p.advance()
}

// ParseRules parses source into an ordered rule list (§4.9's AST). Source
// is a sequence of statements of the form require(cond), allow(cond), or
// deny(cond), written one after another and separated only by whitespace.
func ParseRules(source string) ([]Rule, error) {
	p, err := newParser(source)
	if err != nil {
		return nil, err
	}

	var rules []Rule
	for p.cur.kind != tokEOF {
		rule, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: policy source has no rules", errs.ErrValidationFailed)
	}
	return rules, nil
}

func (p *parser) parseStatement() (Rule, error) {
	if p.cur.kind != tokIdent {
		return Rule{}, fmt.Errorf("%w: expected require/allow/deny, got %q", errs.ErrParse, p.cur.text)
	}
	var kind RuleKind
	switch p.cur.text {
	case "require":
		kind = RuleRequire
	case "allow":
		kind = RuleAllow
	case "deny":
		kind = RuleDeny
	default:
		return Rule{}, fmt.Errorf("%w: unknown rule kind %q", errs.ErrParse, p.cur.text)
	}
	if err := p.advance(); err != nil {
		return Rule{}, err
	}
	if _, err := p.expect(tokLParen, "("); err != nil {
		return Rule{}, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return Rule{}, err
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return Rule{}, err
	}
	return Rule{Kind: kind, Condition: cond}, nil
}

func (p *parser) parseExpr() (Node, error) {
	switch p.cur.kind {
	case tokString:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return Node{}, err
		}
		return Node{Kind: NodeLiteral, Literal: v}, nil

	case tokNumber:
		f, err := strconv.ParseFloat(p.cur.text, 64)
		if err != nil {
			return Node{}, fmt.Errorf("%w: %v", errs.ErrParse, err)
		}
		if err := p.advance(); err != nil {
			return Node{}, err
		}
		return Node{Kind: NodeLiteral, Literal: f}, nil

	case tokLBracket:
		return p.parseList()

	case tokIdent:
		return p.parseIdentExpr()

	default:
		return Node{}, fmt.Errorf("%w: unexpected token %q", errs.ErrParse, p.cur.text)
	}
}

func (p *parser) parseList() (Node, error) {
	if _, err := p.expect(tokLBracket, "["); err != nil {
		return Node{}, err
	}
	var items []Node
	for p.cur.kind != tokRBracket {
		item, err := p.parseExpr()
		if err != nil {
			return Node{}, err
		}
		items = append(items, item)
		if p.cur.kind == tokComma {
			if err := p.advance(); err != nil {
				return Node{}, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(tokRBracket, "]"); err != nil {
		return Node{}, err
	}
	return Node{Kind: NodeList, List: items}, nil
}

func (p *parser) parseIdentExpr() (Node, error) {
	name := p.cur.text
	if err := p.advance(); err != nil {
		return Node{}, err
	}

	switch {
	case name == "true" || name == "false":
		return Node{Kind: NodeLiteral, Literal: name == "true"}, nil

	case p.cur.kind == tokLParen:
		if !operators[name] {
			return Node{}, fmt.Errorf("%w: unknown operator %q", errs.ErrParse, name)
		}
		if err := p.advance(); err != nil {
			return Node{}, err
		}
		var args []Node
		for p.cur.kind != tokRParen {
			arg, err := p.parseExpr()
			if err != nil {
				return Node{}, err
			}
			args = append(args, arg)
			if p.cur.kind == tokComma {
				if err := p.advance(); err != nil {
					return Node{}, err
				}
				continue
			}
			break
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return Node{}, err
		}
		return Node{Kind: NodeCall, Op: name, Args: args}, nil

	case p.cur.kind == tokDot:
		if !rootPaths[name] {
			return Node{}, fmt.Errorf("%w: path must be rooted at context|resource|action|environment, got %q", errs.ErrParse, name)
		}
		path := []string{name}
		for p.cur.kind == tokDot {
			if err := p.advance(); err != nil {
				return Node{}, err
			}
			seg, err := p.expect(tokIdent, "path segment")
			if err != nil {
				return Node{}, err
			}
			path = append(path, seg.text)
		}
		return Node{Kind: NodePath, Path: path}, nil

	default:
		if !rootPaths[name] {
			return Node{}, fmt.Errorf("%w: bare identifier %q is not a valid path root", errs.ErrParse, name)
		}
		return Node{Kind: NodePath, Path: []string{name}}, nil
	}
}
